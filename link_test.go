package clypsalot

import (
	"context"
	"errors"
	"testing"
	"time"
)

func readyNode(t *testing.T, outs, ins []string, outType, inType *PortType) *Object {
	t.Helper()
	o := NewObject("test.link-node", &recordingHooks{processResult: ProcessBlocked})
	for _, name := range outs {
		if _, err := o.AddOutput(outType, name); err != nil {
			t.Fatalf("add output %s: %v", name, err)
		}
	}
	for _, name := range ins {
		if _, err := o.AddInput(inType, name, false); err != nil {
			t.Fatalf("add input %s: %v", name, err)
		}
	}
	if err := o.Init(nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := o.Configure(nil); err != nil {
		t.Fatalf("configure: %v", err)
	}
	return o
}

func TestLinkPortsCreatesExactlyOneLinkEachSide(t *testing.T) {
	pt := NewPortType("audio")
	a := readyNode(t, []string{"out"}, nil, pt, pt)
	b := readyNode(t, nil, []string{"in"}, pt, pt)

	out, _ := a.Output("out")
	in, _ := b.Input("in")

	links, err := LinkPorts([]PortPair{{Output: out, Input: in}})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(links))
	}
	if out.linkCount() != 1 || in.linkCount() != 1 {
		t.Fatalf("expected exactly one link on each port, got out=%d in=%d", out.linkCount(), in.linkCount())
	}
}

func TestLinkPortsRejectsDuplicatePair(t *testing.T) {
	pt := NewPortType("audio")
	a := readyNode(t, []string{"out"}, nil, pt, pt)
	b := readyNode(t, nil, []string{"in"}, pt, pt)

	out, _ := a.Output("out")
	in, _ := b.Input("in")

	if _, err := LinkPorts([]PortPair{{Output: out, Input: in}}); err != nil {
		t.Fatalf("first link: %v", err)
	}

	_, err := LinkPorts([]PortPair{{Output: out, Input: in}})
	var dup *DuplicateLinkError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateLinkError, got %v", err)
	}
}

func TestLinkPortsRollsBackOnTypeMismatch(t *testing.T) {
	ptA := NewPortType("audio")
	ptB := NewPortType("video")

	source := readyNode(t, []string{"out1", "out2", "out3"}, nil, ptA, ptA)
	sink1 := readyNode(t, nil, []string{"in"}, ptA, ptA)
	sink2 := readyNode(t, nil, []string{"in"}, ptA, ptA)
	sink3 := readyNode(t, nil, []string{"in"}, ptB, ptB)

	out1, _ := source.Output("out1")
	out2, _ := source.Output("out2")
	out3, _ := source.Output("out3")
	in1, _ := sink1.Input("in")
	in2, _ := sink2.Input("in")
	in3, _ := sink3.Input("in")

	_, err := LinkPorts([]PortPair{
		{Output: out1, Input: in1},
		{Output: out2, Input: in2},
		{Output: out3, Input: in3},
	})

	var typeErr *TypeError
	if !errors.As(err, &typeErr) {
		t.Fatalf("expected TypeError from the incompatible third pair, got %v", err)
	}

	for name, p := range map[string]interface{ linkCount() int }{
		"out1": out1, "out2": out2, "out3": out3, "in1": in1, "in2": in2, "in3": in3,
	} {
		if got := p.linkCount(); got != 0 {
			t.Errorf("expected no links to survive rollback on %s, got %d", name, got)
		}
	}

	for name, o := range map[string]*Object{"source": source, "sink1": sink1, "sink2": sink2, "sink3": sink3} {
		if o.State() != StatePaused {
			t.Errorf("expected %s to be resumed back to paused after rollback, got %s", name, o.State())
		}
	}
}

func TestLinkPortsPausesRunningNodesAndResumes(t *testing.T) {
	pt := NewPortType("audio")
	a := readyNode(t, []string{"out"}, nil, pt, pt)
	b := readyNode(t, nil, []string{"in"}, pt, pt)

	if err := a.Start(); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("start b: %v", err)
	}

	out, _ := a.Output("out")
	in, _ := b.Input("in")

	if _, err := LinkPorts([]PortPair{{Output: out, Input: in}}); err != nil {
		t.Fatalf("link: %v", err)
	}

	if a.State().terminal() {
		t.Fatal("expected a to have been resumed, not left terminal")
	}
}

func TestUnlinkPortsRemovesFromBothSides(t *testing.T) {
	pt := NewPortType("audio")
	a := readyNode(t, []string{"out"}, nil, pt, pt)
	b := readyNode(t, nil, []string{"in"}, pt, pt)

	out, _ := a.Output("out")
	in, _ := b.Input("in")

	if _, err := LinkPorts([]PortPair{{Output: out, Input: in}}); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := UnlinkPorts([]PortPair{{Output: out, Input: in}}); err != nil {
		t.Fatalf("unlink: %v", err)
	}

	if out.linkCount() != 0 || in.linkCount() != 0 {
		t.Fatalf("expected no links after unlink, got out=%d in=%d", out.linkCount(), in.linkCount())
	}
}

func TestDestroyObjectStopsAndUnlinksLiveLinks(t *testing.T) {
	pt := NewPortType("audio")
	a := readyNode(t, []string{"out"}, nil, pt, pt)
	b := readyNode(t, nil, []string{"in"}, pt, pt)

	out, _ := a.Output("out")
	in, _ := b.Input("in")

	if _, err := LinkPorts([]PortPair{{Output: out, Input: in}}); err != nil {
		t.Fatalf("link: %v", err)
	}

	if err := DestroyObject(a); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	if a.State() != StateStopped {
		t.Fatalf("expected destroyed object to be stopped, got %s", a.State())
	}
	if out.linkCount() != 0 || in.linkCount() != 0 {
		t.Fatalf("expected the link to be removed, got out=%d in=%d", out.linkCount(), in.linkCount())
	}
}

func TestDestroyObjectWithNoLinksJustStops(t *testing.T) {
	pt := NewPortType("audio")
	a := readyNode(t, []string{"out"}, nil, pt, pt)

	if err := DestroyObject(a); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if a.State() != StateStopped {
		t.Fatalf("expected destroyed object to be stopped, got %s", a.State())
	}
}

func TestUnlinkPortsSkipsPauseForTerminalNode(t *testing.T) {
	pt := NewPortType("audio")
	a := readyNode(t, []string{"out"}, nil, pt, pt)
	b := readyNode(t, nil, []string{"in"}, pt, pt)

	out, _ := a.Output("out")
	in, _ := b.Input("in")

	if _, err := LinkPorts([]PortPair{{Output: out, Input: in}}); err != nil {
		t.Fatalf("link: %v", err)
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if err := UnlinkPorts([]PortPair{{Output: out, Input: in}}); err != nil {
		t.Fatalf("unlink against a terminal node should still succeed: %v", err)
	}
	if out.linkCount() != 0 {
		t.Errorf("expected the link to still be removed, got %d", out.linkCount())
	}
}

// TestExecuteEndOfDataDoesNotHoldLockAcrossDownstreamNotify guards the
// ascending-id lock order: an object reaching end-of-data must fully
// release its own lock before its outgoing links notify the downstream
// object, since that notification reaches into the downstream object's
// own lock. A goroutine that locks the lower-id object first and then
// reaches for the higher-id one (the same order a link/unlink
// transaction touching both would use) must never deadlock against
// Execute doing the reverse.
func TestExecuteEndOfDataDoesNotHoldLockAcrossDownstreamNotify(t *testing.T) {
	pt := NewPortType("order")

	downstream := NewObject("test.downstream", &recordingHooks{processResult: ProcessBlocked})
	if _, err := downstream.AddInput(pt, "in", true); err != nil {
		t.Fatalf("add input: %v", err)
	}
	if err := downstream.Init(nil); err != nil {
		t.Fatalf("downstream init: %v", err)
	}
	if err := downstream.Configure(nil); err != nil {
		t.Fatalf("downstream configure: %v", err)
	}
	if err := downstream.Start(); err != nil {
		t.Fatalf("downstream start: %v", err)
	}

	upstream := NewObject("test.upstream", &recordingHooks{processResult: ProcessEndOfData})
	if _, err := upstream.AddOutput(pt, "out"); err != nil {
		t.Fatalf("add output: %v", err)
	}
	if err := upstream.Init(nil); err != nil {
		t.Fatalf("upstream init: %v", err)
	}
	if err := upstream.Configure(nil); err != nil {
		t.Fatalf("upstream configure: %v", err)
	}

	out, _ := upstream.Output("out")
	in, _ := downstream.Input("in")
	if _, err := LinkPorts([]PortPair{{Output: out, Input: in}}); err != nil {
		t.Fatalf("link: %v", err)
	}

	out.SetReady(true)
	if err := upstream.Start(); err != nil {
		t.Fatalf("upstream start: %v", err)
	}
	if upstream.State() != StateScheduled {
		t.Fatalf("expected upstream scheduled, got %s", upstream.State())
	}
	if downstream.id >= upstream.id {
		t.Fatalf("test requires downstream to have the lower id, got downstream=%d upstream=%d", downstream.id, upstream.id)
	}

	holding := make(chan struct{})
	start := make(chan struct{})
	go func() {
		downstream.lock.Lock()
		close(holding)
		<-start
		upstream.lock.Lock()
		upstream.unlock()
		downstream.unlock()
	}()

	<-holding
	done := make(chan error, 1)
	go func() { done <- upstream.Execute(context.Background()) }()

	// Give Execute time to acquire upstream's lock before the other
	// goroutine reaches for it, so both sides are genuinely waiting on
	// each other if Execute is still holding its lock at that point.
	time.Sleep(20 * time.Millisecond)
	close(start)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute deadlocked notifying a lower-id downstream object while holding its own lock")
	}
}

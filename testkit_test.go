package clypsalot

import (
	"testing"
	"time"
)

// buildChain wires one source through a run of relays into a sink,
// matching the "ten nodes chained" scenario: source -> relay x8 -> sink.
func buildChain(t *testing.T, maxProcess uint64) (*Network, []*Object) {
	t.Helper()

	source := NewSourceObject()
	if err := source.Init(nil); err != nil {
		t.Fatalf("source init: %v", err)
	}
	if err := source.Configure(ObjectConfig{{Name: propertyMaxProcess, Value: maxProcess}}); err != nil {
		t.Fatalf("source configure: %v", err)
	}

	relays := make([]*Object, 8)
	for i := range relays {
		relays[i] = NewRelayObject()
	}
	sink := NewSinkObject()

	all := append([]*Object{source}, relays...)
	all = append(all, sink)

	for _, o := range all[1:] {
		if err := o.Init(nil); err != nil {
			t.Fatalf("init %s: %v", o.Kind(), err)
		}
		if err := o.Configure(nil); err != nil {
			t.Fatalf("configure %s: %v", o.Kind(), err)
		}
	}

	link := func(out *Object, in *Object) {
		t.Helper()
		o, err := out.Output("out")
		if err != nil {
			t.Fatalf("output of %s: %v", out.Kind(), err)
		}
		i, err := in.Input("in")
		if err != nil {
			t.Fatalf("input of %s: %v", in.Kind(), err)
		}
		if _, err := LinkPorts([]PortPair{{Output: o, Input: i}}); err != nil {
			t.Fatalf("link %s->%s: %v", out.Kind(), in.Kind(), err)
		}
		o.SetReady(true)
		i.SetReady(true)
	}

	for i := 0; i < len(all)-1; i++ {
		link(all[i], all[i+1])
	}

	pool := NewWorkerPool(4)
	t.Cleanup(pool.Shutdown)
	net := NewNetwork(pool)
	for _, o := range all {
		if err := net.AddObject(o); err != nil {
			t.Fatalf("add %s: %v", o.Kind(), err)
		}
	}

	return net, all
}

func TestChainDrainsAfterMaxProcess(t *testing.T) {
	net, objects := buildChain(t, 5)

	done := make(chan error, 1)
	go func() { done <- net.Run() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expected Run to return once the chain drained")
	}

	for _, o := range objects {
		if !o.State().terminal() {
			t.Errorf("expected %s to reach a terminal state, got %s", o.Kind(), o.State())
		}
	}

	counter, err := objects[0].Property(propertyProcessCounter)
	if err != nil {
		t.Fatalf("process counter: %v", err)
	}
	count, err := counter.SizeValue()
	if err != nil {
		t.Fatalf("process counter value: %v", err)
	}
	if count != 5 {
		t.Errorf("expected the source to stop after 5 process cycles, got %d", count)
	}
}

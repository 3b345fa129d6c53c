package clypsalot

import (
	"context"
	"sort"
	"strconv"
)

// PortPair names one (output, input) edge for a batched link or unlink
// transaction.
type PortPair struct {
	Output *OutputPort
	Input  *InputPort
}

// affectedObjects returns the distinct parent objects touched by pairs,
// ascending by id, which is the lock/pause order every multi-object
// operation in the core uses to avoid deadlocking against a concurrent
// transaction touching an overlapping set of objects.
func affectedObjects(pairs []PortPair) []*Object {
	seen := map[ObjectID]*Object{}
	for _, pair := range pairs {
		if pair.Output != nil && pair.Output.parent != nil {
			seen[pair.Output.parent.id] = pair.Output.parent
		}
		if pair.Input != nil && pair.Input.parent != nil {
			seen[pair.Input.parent.id] = pair.Input.parent
		}
	}

	objects := make([]*Object, 0, len(seen))
	for _, o := range seen {
		objects = append(objects, o)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].id < objects[j].id })
	return objects
}

// LinkPorts atomically creates a link for every pair. If any pair
// fails, every link already created in this call is torn down, every
// node paused by this call is resumed, and the originating error is
// returned; the port graph is left indistinguishable from its state
// before the call.
func LinkPorts(pairs []PortPair) ([]*PortLink, error) {
	_, span := coreTracer.StartSpan(context.Background(), SpanLinkTransaction)
	span.SetTag(TagPortCount, strconv.Itoa(len(pairs)))
	defer span.Finish()

	objects := affectedObjects(pairs)

	var paused []*Object
	for _, o := range objects {
		o.lock.Lock()
		terminal := o.state.terminal()
		o.unlock()

		if terminal {
			resumeAll(paused)
			err := NewStateError(o.id, o.state, o.state, "object %d is terminal and cannot accept new links", o.id)
			span.SetTag(TagErr, err.Error())
			return nil, err
		}

		wasRunning, err := o.pauseForTransaction()
		if err != nil {
			resumeAll(paused)
			span.SetTag(TagErr, err.Error())
			return nil, err
		}
		if wasRunning {
			paused = append(paused, o)
		}
	}

	var created []*PortLink
	for _, pair := range pairs {
		link, err := linkPair(pair.Output, pair.Input)
		if err != nil {
			for _, l := range created {
				_, _ = unlinkPair(l.from, l.to)
			}
			resumeAll(paused)
			coreMetrics.Counter(MetricLinkRollbacks).Inc()
			span.SetTag(TagErr, err.Error())
			return nil, err
		}
		created = append(created, link)
	}

	resumeAll(paused)
	coreMetrics.Counter(MetricLinksCreated).Add(float64(len(created)))
	span.SetTag(TagResult, "ok")

	return created, nil
}

// UnlinkPorts atomically removes the link for every pair. Nodes already
// in a terminal state are left alone (their links are still removed)
// rather than failing, since an unlink must always succeed against a
// dead node.
func UnlinkPorts(pairs []PortPair) error {
	_, span := coreTracer.StartSpan(context.Background(), SpanUnlinkTransaction)
	span.SetTag(TagPortCount, strconv.Itoa(len(pairs)))
	defer span.Finish()

	objects := affectedObjects(pairs)

	var paused []*Object
	for _, o := range objects {
		o.lock.Lock()
		terminal := o.state.terminal()
		o.unlock()
		if terminal {
			continue
		}

		wasRunning, err := o.pauseForTransaction()
		if err != nil {
			resumeAll(paused)
			span.SetTag(TagErr, err.Error())
			return err
		}
		if wasRunning {
			paused = append(paused, o)
		}
	}

	var removed []*PortLink
	for _, pair := range pairs {
		link, err := unlinkPair(pair.Output, pair.Input)
		if err != nil {
			for _, l := range removed {
				_, _ = linkPair(l.from, l.to)
			}
			resumeAll(paused)
			coreMetrics.Counter(MetricLinkRollbacks).Inc()
			span.SetTag(TagErr, err.Error())
			return err
		}
		removed = append(removed, link)
	}

	resumeAll(paused)
	coreMetrics.Counter(MetricLinksDestroyed).Add(float64(len(removed)))
	span.SetTag(TagResult, "ok")

	return nil
}

func resumeAll(objects []*Object) {
	for _, o := range objects {
		if err := o.resumeAfterTransaction(); err != nil {
			logError("link", "failed to resume object after transaction: ", err)
		}
	}
}

// DestroyObject implements the object-destruction-with-live-links safe
// path: if the object is not already terminal it is driven to stopped
// with Stop (whose StateError for an object still initializing or
// configuring is returned as is), then every link it still holds is
// removed via UnlinkPorts (which
// pauses and resumes whatever peers are still running). Hosts that drop
// their last reference to an Object that still participates in links
// should call this first; the core does not run finalizers on garbage
// collection.
func DestroyObject(o *Object) error {
	o.lock.Lock()
	terminal := o.state.terminal()
	o.unlock()

	if !terminal {
		if err := o.Stop(); err != nil {
			return err
		}
	}

	links := o.Links()
	if len(links) == 0 {
		return nil
	}

	logDebug("link", "destroying object ", o.id, " with ", len(o.LinkedObjects()), " linked peer(s)")

	pairs := make([]PortPair, len(links))
	for i, l := range links {
		pairs[i] = PortPair{Output: l.From(), Input: l.To()}
	}

	return UnlinkPorts(pairs)
}

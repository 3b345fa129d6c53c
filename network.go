package clypsalot

import (
	"context"
	"sync"
)

// ManagedObject pairs an object the Network owns with the subscriptions
// the Network installed on it, so they can be torn down together.
type ManagedObject struct {
	Object        *Object
	subscriptions []*Subscription
}

// Network is the supervisor: it owns a set of managed objects, watches
// each one's shutdown event through its own MessageProcessor so
// shutdown handling always runs on the worker pool rather than inline
// on whichever goroutine emitted the event, and decides when the whole
// network has quiesced.
type Network struct {
	lock     *recursiveMutex
	cond     *sync.Cond
	pool     *WorkerPool
	messages *MessageProcessor
	managed  map[ObjectID]*ManagedObject
	running  bool
}

// networkShutdownMessage is what a managed object's ObjectShutdownEvent
// subscription posts into the network's MessageProcessor; re-entering
// through a message (rather than handling the event inline) is what
// keeps shutdown handling off the sender's own goroutine.
type networkShutdownMessage struct {
	objectID ObjectID
}

// networkScheduleMessage is what a managed object's
// ObjectStateChangedEvent subscription posts when the object enters
// StateScheduled; the handler posts the actual Execute job to the
// worker pool. The event handler runs with the object's own lock held
// (transition holds it across Send), so routing through the message
// processor keeps the Execute job from being posted from there; the
// handler's Receive call may still post the processor's drain job.
type networkScheduleMessage struct {
	objectID ObjectID
}

// NewNetwork builds a Network whose shutdown bookkeeping runs on pool.
func NewNetwork(pool *WorkerPool) *Network {
	n := &Network{
		lock:    newRecursiveMutex(),
		pool:    pool,
		managed: make(map[ObjectID]*ManagedObject),
	}
	n.cond = sync.NewCond(&n.lock.mu)
	n.messages = NewMessageProcessor(pool)

	if err := RegisterMessageHandler(n.messages, n.handleShutdownMessage); err != nil {
		panic(err)
	}
	if err := RegisterMessageHandler(n.messages, n.handleScheduleMessage); err != nil {
		panic(err)
	}

	return n
}

// AddObject registers o with the network, subscribing to its
// ObjectShutdownEvent (quiescence bookkeeping) and its
// ObjectStateChangedEvent (so the network's worker pool picks up the
// node the moment it becomes scheduled, per the state machine's
// "scheduled -> executing: worker picks up the node" transition).
// Adding the same object twice is a no-op.
func (n *Network) AddObject(o *Object) error {
	n.lock.Lock()
	defer n.unlock()

	if _, exists := n.managed[o.id]; exists {
		return nil
	}

	shutdownSub, err := Subscribe(o.Events(), func(ObjectShutdownEvent) error {
		return n.messages.Receive(networkShutdownMessage{objectID: o.id})
	})
	if err != nil {
		return err
	}

	scheduleSub, err := Subscribe(o.Events(), func(ev ObjectStateChangedEvent) error {
		if ev.To != StateScheduled {
			return nil
		}
		return n.messages.Receive(networkScheduleMessage{objectID: o.id})
	})
	if err != nil {
		return err
	}

	n.managed[o.id] = &ManagedObject{Object: o, subscriptions: []*Subscription{shutdownSub, scheduleSub}}
	return nil
}

// HasObject reports whether o is currently managed by the network.
func (n *Network) HasObject(o *Object) bool {
	n.lock.Lock()
	defer n.unlock()
	_, exists := n.managed[o.id]
	return exists
}

func (n *Network) unlock() {
	if err := n.lock.Unlock(); err != nil {
		panic(err)
	}
}

// Start transitions every managed, non-terminal object from paused to
// waiting and marks the network as running.
func (n *Network) Start() error {
	n.lock.Lock()
	defer n.unlock()

	for _, m := range n.managed {
		if m.Object.State() == StatePaused {
			if err := m.Object.Start(); err != nil {
				return err
			}
		}
	}

	n.running = true
	return nil
}

// Run starts the network, then blocks the calling goroutine until the
// network stops, either because the quiescence policy fired or because
// Stop was called directly.
func (n *Network) Run() error {
	if err := n.Start(); err != nil {
		return err
	}

	n.lock.Lock()
	defer n.unlock()
	for n.running {
		// Release the recursive lock and start waiting on cond as one
		// step under the lock's inner mutex, so a stopping goroutine can
		// take the lock and clear running.
		m := n.lock
		m.mu.Lock()
		owner, depth := m.owner, m.depth
		m.owner, m.depth = "", 0
		m.cond.Broadcast()
		n.cond.Wait()
		for m.depth > 0 {
			m.cond.Wait()
		}
		m.owner, m.depth = owner, depth
		m.mu.Unlock()
	}
	return nil
}

// Stop stops every managed object that is not already terminal and
// clears running, waking any goroutine blocked in Run.
func (n *Network) Stop() error {
	n.lock.Lock()
	defer n.unlock()
	return n.stopLocked()
}

// Close shuts the network down for good: its MessageProcessor stops
// accepting shutdown messages first, so no event arriving after this
// point can re-enter a half-torn-down supervisor, then the subscriptions
// the network installed on its managed objects are closed and every
// managed object that is not already terminal is stopped under lock.
func (n *Network) Close() error {
	n.messages.Shutdown()

	n.lock.Lock()
	defer n.unlock()
	for _, m := range n.managed {
		for _, sub := range m.subscriptions {
			sub.Close()
		}
	}
	return n.stopLocked()
}

func (n *Network) stopLocked() error {
	for _, m := range n.managed {
		if !m.Object.State().terminal() {
			if err := m.Object.Stop(); err != nil {
				return err
			}
		}
	}

	n.running = false
	coreMetrics.Counter(MetricNetworkStops).Inc()
	n.cond.Broadcast()
	return nil
}

// handleScheduleMessage runs on the worker pool whenever a managed
// object enters StateScheduled. It posts the actual Execute call as its
// own pool job rather than running it inline, so a burst of objects
// becoming ready at once doesn't serialize behind the message
// processor's single drain job.
func (n *Network) handleScheduleMessage(msg networkScheduleMessage) error {
	n.lock.Lock()
	m, ok := n.managed[msg.objectID]
	n.unlock()

	if !ok {
		return nil
	}

	n.pool.Post(func() {
		if m.Object.State() != StateScheduled {
			return
		}
		if err := m.Object.Execute(context.Background()); err != nil {
			logError("network", "execute failed for object ", m.Object.ID(), ": ", err)
		}
	})
	return nil
}

// handleShutdownMessage runs on the worker pool whenever a managed
// object reaches a terminal state. It walks the subgraph downstream of
// that object and stops the network if every node in the walk has
// quiesced.
func (n *Network) handleShutdownMessage(msg networkShutdownMessage) error {
	n.lock.Lock()
	defer n.unlock()

	m, ok := n.managed[msg.objectID]
	if !ok {
		return nil
	}

	_, span := coreTracer.StartSpan(context.Background(), SpanNetworkQuiescence)
	defer span.Finish()

	visited := n.downstreamQuiescence(m.Object)
	if len(visited) == 0 {
		return nil
	}

	for _, terminal := range visited {
		if !terminal {
			return nil
		}
	}

	return n.stopLocked()
}

// downstreamQuiescence walks outputs -> linked inputs -> that node's
// own outputs, starting from start, recording every visited node's
// terminal state. It tolerates cycles by never revisiting a node.
func (n *Network) downstreamQuiescence(start *Object) map[ObjectID]bool {
	visited := make(map[ObjectID]bool)
	var walk func(o *Object)
	walk = func(o *Object) {
		if _, seen := visited[o.id]; seen {
			return
		}
		visited[o.id] = o.State().terminal()

		for _, out := range o.Outputs() {
			out.mu.Lock()
			links := append([]*PortLink{}, out.links...)
			out.mu.Unlock()

			for _, link := range links {
				next := link.To().parent
				if next != nil {
					walk(next)
				}
			}
		}
	}

	walk(start)
	return visited
}

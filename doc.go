// Package clypsalot is a dataflow network core: a library for building
// graphs of stateful processing nodes ("objects") connected by typed,
// directed links, and driving them to quiescence on a shared worker
// pool.
//
// # Overview
//
// An Object is a small state machine (initializing, configuring,
// paused, waiting, scheduled, executing, stopped, faulted) that owns a
// set of typed Properties, a set of input and output Ports, and a
// user-supplied ObjectHooks implementation that does the actual work in
// Process. Ports of matching PortType are joined into PortLinks with
// LinkPorts, which pauses every affected object, performs the whole
// batch as one transaction, and rolls back cleanly on any failure.
//
// A Network supervises a set of Objects: Start transitions them into
// the running cycle, Run blocks until the reachable downstream subgraph
// of at least one stopped node has fully drained, and Stop forces every
// managed object to a terminal state. A managed Object that becomes
// StateScheduled is picked up automatically: the Network posts its
// Execute call onto the shared WorkerPool, so Run alone is enough to
// drive a network to completion.
//
// Two independent notification paths exist by design. The per-object
// EventBus delivers ObjectStateChangedEvent, ObjectFaultedEvent,
// ObjectStoppedEvent, and ObjectShutdownEvent synchronously, in
// subscription order, and propagates the first handler error back to
// the sender; it is what Network relies on to learn a node has
// stopped. The process-wide hookz-backed hooks (catalog entries added,
// worker pool saturation) are fire-and-forget notifications for
// diagnostics and UIs; nothing load-bearing waits on them.
//
// Node kinds and port types are registered once, by name, in the
// process-wide PortTypeCatalog and ObjectCatalog (PortTypes and
// Objects), typically via a single ImportModule call per package of
// node kinds. See the testkit family (NewSourceObject, NewRelayObject,
// NewSinkObject) for a minimal example.
//
// # Concurrency
//
// Every Object serializes its own lifecycle under a recursive mutex, so
// a hook that re-enters the object it belongs to does not deadlock.
// MessageProcessor guarantees at most one drain goroutine per processor
// and delivers messages in enqueue order. WorkerPool runs posted jobs
// on a small set of goroutines and its Call helper detects re-entrant
// calls from inside an already-running job and executes them inline
// rather than blocking.
package clypsalot

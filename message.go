package clypsalot

import (
	"reflect"
	"sync"
)

// MessageProcessor delivers arbitrary typed messages to type-indexed
// handlers, draining its queue on the shared worker pool with at most
// one drain job in flight at a time. Receive never blocks the caller
// beyond a short queue-append critical section; handlers run without
// the processor's lock held. The processor is never meant to be
// re-entered by its own drain goroutine, so its lock is the
// debug-build mutex wrapper rather than a plain sync.Mutex.
type MessageProcessor struct {
	mu           *debugMutex
	cond         *sync.Cond
	pool         *WorkerPool
	handlers     map[reflect.Type]func(any) error
	queue        []any
	draining     bool
	drainRunning bool
}

// NewMessageProcessor builds a MessageProcessor that posts its drain
// jobs to pool.
func NewMessageProcessor(pool *WorkerPool) *MessageProcessor {
	mp := &MessageProcessor{
		mu:       newDebugMutex(),
		pool:     pool,
		handlers: make(map[reflect.Type]func(any) error),
	}
	mp.cond = sync.NewCond(&mp.mu.mu)
	return mp
}

func (mp *MessageProcessor) lock() {
	if err := mp.mu.Lock(); err != nil {
		panic(err)
	}
}

func (mp *MessageProcessor) unlock() {
	if err := mp.mu.Unlock(); err != nil {
		panic(err)
	}
}

// RegisterMessageHandler declares the handler that runs for every
// future message of type M. Registering the same type twice is a
// RuntimeError.
func RegisterMessageHandler[M any](mp *MessageProcessor, handler func(M) error) error {
	t := reflect.TypeOf((*M)(nil)).Elem()

	mp.lock()
	defer mp.unlock()

	if _, exists := mp.handlers[t]; exists {
		return NewRuntimeError("message type %s already has a handler", t)
	}
	mp.handlers[t] = func(msg any) error {
		return handler(msg.(M))
	}
	return nil
}

// Receive enqueues msg and, if no drain job is currently running,
// posts one to the worker pool. It fails if the processor has been
// shut down.
func (mp *MessageProcessor) Receive(msg any) error {
	mp.lock()
	if mp.draining {
		mp.unlock()
		return NewRuntimeError("message processor is shutting down")
	}

	mp.queue = append(mp.queue, msg)
	startDrain := !mp.drainRunning
	if startDrain {
		mp.drainRunning = true
	}
	mp.unlock()

	if startDrain {
		mp.pool.Post(mp.drain)
	}
	return nil
}

// drain pops and dispatches messages in enqueue order until the queue
// is empty, then clears the single-flight flag. It holds the processor
// lock only to pop; handlers run unlocked so a handler is free to call
// back into Receive. MetricMessagesDrained counts messages actually
// popped and dispatched here, not messages enqueued by Receive.
func (mp *MessageProcessor) drain() {
	for {
		mp.lock()
		if len(mp.queue) == 0 {
			mp.drainRunning = false
			mp.cond.Broadcast()
			mp.unlock()
			return
		}
		msg := mp.queue[0]
		mp.queue = mp.queue[1:]
		mp.unlock()

		coreMetrics.Counter(MetricMessagesDrained).Inc()
		mp.dispatch(msg)
	}
}

func (mp *MessageProcessor) dispatch(msg any) {
	t := reflect.TypeOf(msg)

	mp.lock()
	handler, ok := mp.handlers[t]
	mp.unlock()

	if !ok {
		logWarn("message", "no handler registered for message type ", t)
		return
	}

	if err := handler(msg); err != nil {
		logError("message", "handler for ", t, " failed: ", err)
	}
}

// Shutdown stops accepting new messages and blocks until the in-flight
// drain job, if any, finishes.
func (mp *MessageProcessor) Shutdown() {
	mp.lock()
	mp.draining = true
	for mp.drainRunning {
		// Release the debug lock and start waiting on cond as one step
		// under the lock's inner mutex, so drain can take the lock and
		// report that it has finished.
		m := mp.mu
		m.mu.Lock()
		owner := m.owner
		m.held, m.owner = false, ""
		m.cond.Signal()
		mp.cond.Wait()
		for m.held {
			m.cond.Wait()
		}
		m.held, m.owner = true, owner
		m.mu.Unlock()
	}
	mp.unlock()
}

// pending returns the current queue depth; exposed for tests asserting
// single-flight behavior.
func (mp *MessageProcessor) pending() int {
	mp.lock()
	defer mp.unlock()
	return len(mp.queue)
}

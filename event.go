package clypsalot

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// subscriberEntry is one subscriber registered against a single event
// type. dead is set by Subscription.Close and checked lazily: a send
// skips dead entries and Cleanup compacts them out of the slice.
type subscriberEntry struct {
	dead    atomic.Bool
	handler func(any) error
}

// Subscription is the handle returned by Subscribe. The subscriber
// receives events for as long as the Subscription is open; Close
// unsubscribes. The bus never extends the subscriber's lifetime beyond
// this handle: closing it (or letting every reference to it go away
// without ever closing it) only stops delivery once Close is called or
// the owning EventBus itself is torn down, since Go has no destructor
// to hook dropping a value.
type Subscription struct {
	id    uuid.UUID
	entry *subscriberEntry
}

// ID returns a stable identifier for this subscription, useful for
// diagnostics and UI-style subscriber inspectors that need to name a
// specific handle rather than a position in a list.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Close unsubscribes. Later sends will skip this subscriber; a send
// already in progress when Close runs may or may not still deliver to
// it, matching the lazy-cleanup contract.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.entry.dead.Store(true)
}

// Valid reports whether the subscription is still live.
func (s *Subscription) Valid() bool {
	return s != nil && !s.entry.dead.Load()
}

// EventBus is a per-owner synchronous fan-out point. An owner registers
// the closed set of event types it may emit, then callers subscribe to
// individual types and the owner calls Send as things happen. Send
// delivers inline, in subscription order, on the sender's own
// goroutine; there is no queueing and no background delivery thread.
type EventBus struct {
	mu          sync.Mutex
	registered  map[reflect.Type]bool
	subscribers map[reflect.Type][]*subscriberEntry
}

// NewEventBus returns an EventBus with no event types registered yet.
func NewEventBus() *EventBus {
	return &EventBus{
		registered:  make(map[reflect.Type]bool),
		subscribers: make(map[reflect.Type][]*subscriberEntry),
	}
}

// RegisterEvent declares that the bus may later send events of type E.
// Registering the same type twice is a RuntimeError.
func RegisterEvent[E any](b *EventBus) error {
	t := reflect.TypeOf((*E)(nil)).Elem()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.registered[t] {
		return NewRuntimeError("event type %s is already registered", t)
	}
	b.registered[t] = true
	return nil
}

// Subscribe registers handler to run on every future Send of an E,
// until the returned Subscription is closed. Subscribing to a type
// that was never registered with RegisterEvent is a RuntimeError.
func Subscribe[E any](b *EventBus, handler func(E) error) (*Subscription, error) {
	t := reflect.TypeOf((*E)(nil)).Elem()

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.registered[t] {
		return nil, NewRuntimeError("event type %s is not registered", t)
	}

	entry := &subscriberEntry{
		handler: func(event any) error {
			return handler(event.(E))
		},
	}
	b.subscribers[t] = append(b.subscribers[t], entry)

	return &Subscription{id: uuid.New(), entry: entry}, nil
}

// Send delivers event to every live subscriber of its concrete type, in
// subscription order, inline on the calling goroutine. A handler that
// returns an error stops delivery to the remaining subscribers and the
// error is returned to the caller of Send; subscribers already called
// have already run.
func (b *EventBus) Send(event any) error {
	t := reflect.TypeOf(event)

	b.mu.Lock()
	if !b.registered[t] {
		b.mu.Unlock()
		return NewRuntimeError("event type %s is not registered", t)
	}
	entries := make([]*subscriberEntry, len(b.subscribers[t]))
	copy(entries, b.subscribers[t])
	b.mu.Unlock()

	for _, entry := range entries {
		if entry.dead.Load() {
			continue
		}
		if err := entry.handler(event); err != nil {
			return err
		}
	}

	return nil
}

// Cleanup drops dead subscribers from every event type's subscriber
// list. Send already skips dead entries on its own; Cleanup just
// reclaims the memory, and is intended for long-lived buses under test
// or periodic maintenance rather than the hot path.
func (b *EventBus) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for t, entries := range b.subscribers {
		live := entries[:0]
		for _, entry := range entries {
			if !entry.dead.Load() {
				live = append(live, entry)
			}
		}
		b.subscribers[t] = live
	}
}

// ListenerCount returns the number of live subscribers currently
// registered for E; primarily useful from tests.
func ListenerCount[E any](b *EventBus) int {
	t := reflect.TypeOf((*E)(nil)).Elem()

	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, entry := range b.subscribers[t] {
		if !entry.dead.Load() {
			count++
		}
	}
	return count
}

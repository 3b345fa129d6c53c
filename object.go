package clypsalot

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

// ObjectID uniquely identifies an Object for the lifetime of the
// process. Ids are assigned in increasing order, which is also the
// order link/unlink transactions and destruction use to avoid lock
// ordering deadlocks across objects.
type ObjectID uint64

var nextObjectID atomic.Uint64

func newObjectID() ObjectID {
	return ObjectID(nextObjectID.Add(1))
}

// ObjectState is one of the eight lifecycle states an Object can be in.
type ObjectState uint8

const (
	StateInitializing ObjectState = iota
	StateConfiguring
	StatePaused
	StateWaiting
	StateScheduled
	StateExecuting
	StateStopped
	StateFaulted
)

func (s ObjectState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateConfiguring:
		return "configuring"
	case StatePaused:
		return "paused"
	case StateWaiting:
		return "waiting"
	case StateScheduled:
		return "scheduled"
	case StateExecuting:
		return "executing"
	case StateStopped:
		return "stopped"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// terminal reports whether the state is one an object never leaves on
// its own (stopped) or leaves only via the shutdown path (faulted).
func (s ObjectState) terminal() bool {
	return s == StateStopped || s == StateFaulted
}

// running reports whether an object in this state participates in the
// paused/waiting/scheduled/executing cycle a link/unlink transaction
// must pause before mutating the port graph.
func (s ObjectState) running() bool {
	return s == StateWaiting || s == StateScheduled || s == StateExecuting
}

// validTransition reports whether from -> to is one of the edges in
// the lifecycle's transition table.
func validTransition(from, to ObjectState) bool {
	if to == StateFaulted {
		return true
	}
	switch from {
	case StateInitializing:
		return to == StateConfiguring
	case StateConfiguring:
		return to == StatePaused
	case StatePaused:
		return to == StateWaiting || to == StateStopped
	case StateWaiting:
		return to == StateScheduled || to == StateStopped
	case StateScheduled:
		return to == StateExecuting || to == StateStopped
	case StateExecuting:
		return to == StateWaiting || to == StateStopped
	case StateFaulted:
		return to == StateStopped
	default:
		return false
	}
}

// ProcessResult is the outcome a node's Process hook reports after one
// unit of work.
type ProcessResult uint8

const (
	ProcessBlocked ProcessResult = iota
	ProcessFinished
	ProcessEndOfData
)

// ObjectConfig is an ordered list of name/value pairs consumed by
// Configure. Values are coerced into each named property's declared
// type; a coercion failure fails Configure and faults the object.
type ObjectConfig []ObjectConfigEntry

// ObjectConfigEntry is one (name, value) pair in an ObjectConfig.
type ObjectConfigEntry struct {
	Name  string
	Value any
}

// ObjectHooks is the set of lifecycle callbacks a node kind overrides.
// Every method receives the Object so it can add ports/properties
// during Init/Configure or inspect them during Process; the default,
// no-op behavior is DefaultHooks.
type ObjectHooks interface {
	HandleInit(o *Object, config ObjectConfig) error
	HandleConfigure(o *Object, config ObjectConfig) error
	HandleEndOfData(o *Object)
	Process(o *Object) (ProcessResult, error)
}

// DefaultHooks implements ObjectHooks with no-ops; node kinds embed it
// and override only the methods they need.
type DefaultHooks struct{}

func (DefaultHooks) HandleInit(*Object, ObjectConfig) error      { return nil }
func (DefaultHooks) HandleConfigure(*Object, ObjectConfig) error { return nil }
func (DefaultHooks) HandleEndOfData(*Object)                     {}
func (DefaultHooks) Process(*Object) (ProcessResult, error)      { return ProcessFinished, nil }

// ObjectEvent is the base payload every object lifecycle event embeds;
// it identifies which object sent it.
type ObjectEvent struct {
	ObjectID ObjectID
	Kind     string
}

// ObjectStateChangedEvent is sent on every legal state transition.
type ObjectStateChangedEvent struct {
	ObjectEvent
	From ObjectState
	To   ObjectState
}

// ObjectFaultedEvent is sent when a lifecycle hook fails, immediately
// before the transition to StateFaulted.
type ObjectFaultedEvent struct {
	ObjectEvent
	Message string
}

// ObjectStoppedEvent is sent when an object reaches StateStopped.
type ObjectStoppedEvent struct {
	ObjectEvent
}

// ObjectShutdownEvent is sent whenever an object reaches either
// terminal state, after ObjectStoppedEvent/ObjectFaultedEvent.
type ObjectShutdownEvent struct {
	ObjectEvent
}

// Object is one node in a dataflow network: an id, a kind name, a
// lifecycle state, owned ports and properties, and an event bus that
// reports state transitions. All mutation goes through the object's
// own recursive lock, which a lifecycle hook may re-enter by calling
// back into the object's public API.
type Object struct {
	lock  *recursiveMutex
	cond  *sync.Cond
	id    ObjectID
	kind  string
	state ObjectState
	hooks ObjectHooks

	properties map[string]*Property
	propOrder  []string
	outputs    []*OutputPort
	inputs     []*InputPort

	events *EventBus
}

// NewObject builds an Object in StateInitializing. kind is the catalog
// name of the node; hooks implements its behavior.
func NewObject(kind string, hooks ObjectHooks) *Object {
	if hooks == nil {
		hooks = DefaultHooks{}
	}

	o := &Object{
		lock:       newRecursiveMutex(),
		id:         newObjectID(),
		kind:       kind,
		state:      StateInitializing,
		hooks:      hooks,
		properties: make(map[string]*Property),
		events:     NewEventBus(),
	}
	o.cond = sync.NewCond(&o.lock.mu)

	for _, eventRegisterer := range []func() error{
		func() error { return RegisterEvent[ObjectStateChangedEvent](o.events) },
		func() error { return RegisterEvent[ObjectFaultedEvent](o.events) },
		func() error { return RegisterEvent[ObjectStoppedEvent](o.events) },
		func() error { return RegisterEvent[ObjectShutdownEvent](o.events) },
	} {
		if err := eventRegisterer(); err != nil {
			panic(err)
		}
	}

	return o
}

// ID returns the object's process-unique id.
func (o *Object) ID() ObjectID { return o.id }

// Kind returns the object's catalog kind name.
func (o *Object) Kind() string { return o.kind }

// State returns the object's current lifecycle state.
func (o *Object) State() ObjectState {
	o.lock.Lock()
	defer o.unlock()
	return o.state
}

// Events returns the object's event bus so a caller can Subscribe to
// its lifecycle events.
func (o *Object) Events() *EventBus { return o.events }

func (o *Object) unlock() {
	if err := o.lock.Unlock(); err != nil {
		panic(err)
	}
}

// wait releases the object's lock, blocks until pred returns true or
// the condition variable is signaled and pred is re-checked, then
// reacquires the lock. Callers must hold the lock on entry and will
// hold it again on return. This is the only way Process may block
// without starving other callers of the recursive lock.
func (o *Object) wait(pred func() bool) {
	for !pred() {
		// Release the recursive lock and start waiting on cond as one
		// step under the lock's inner mutex.
		m := o.lock
		m.mu.Lock()
		owner, depth := m.owner, m.depth
		m.owner, m.depth = "", 0
		m.cond.Broadcast()
		o.cond.Wait()
		for m.depth > 0 {
			m.cond.Wait()
		}
		m.owner, m.depth = owner, depth
		m.mu.Unlock()
	}
}

func (o *Object) wake() {
	o.cond.Broadcast()
}

// transition validates and performs a state change, emitting
// ObjectStateChangedEvent and any terminal-state events. The caller
// must hold the object's lock.
func (o *Object) transition(to ObjectState) error {
	from := o.state
	if !validTransition(from, to) {
		return NewStateError(o.id, from, to, "illegal transition from %s to %s", from, to)
	}

	o.state = to
	o.wake()

	if err := o.events.Send(ObjectStateChangedEvent{
		ObjectEvent: ObjectEvent{ObjectID: o.id, Kind: o.kind},
		From:        from,
		To:          to,
	}); err != nil {
		return err
	}

	if to == StateStopped {
		coreMetrics.Counter(MetricObjectsStopped).Inc()
		if err := o.events.Send(ObjectStoppedEvent{ObjectEvent: ObjectEvent{ObjectID: o.id, Kind: o.kind}}); err != nil {
			return err
		}
	}

	if to.terminal() {
		if err := o.events.Send(ObjectShutdownEvent{ObjectEvent: ObjectEvent{ObjectID: o.id, Kind: o.kind}}); err != nil {
			return err
		}
	}

	return nil
}

// fault drives the object to StateFaulted, emitting
// ObjectFaultedEvent before the state transition and
// ObjectShutdownEvent after, per the error handling design. fault
// itself never returns an error: a handler failure on any of the three
// events is logged and the rest of the shutdown sequence still runs.
func (o *Object) fault(message string) {
	from := o.state

	coreMetrics.Counter(MetricObjectsFaulted).Inc()

	if err := o.events.Send(ObjectFaultedEvent{
		ObjectEvent: ObjectEvent{ObjectID: o.id, Kind: o.kind},
		Message:     message,
	}); err != nil {
		logError("object", "fault event handler failed, continuing shutdown: ", err)
	}

	o.state = StateFaulted
	o.wake()

	if err := o.events.Send(ObjectStateChangedEvent{
		ObjectEvent: ObjectEvent{ObjectID: o.id, Kind: o.kind},
		From:        from,
		To:          StateFaulted,
	}); err != nil {
		logError("object", "state changed handler failed during fault: ", err)
	}

	if err := o.events.Send(ObjectShutdownEvent{ObjectEvent: ObjectEvent{ObjectID: o.id, Kind: o.kind}}); err != nil {
		logError("object", "shutdown event handler failed during fault: ", err)
	}
}

// runHook runs fn under the object's lock; if fn panics or returns an
// error, the object faults and the error (or a RuntimeError wrapping
// the recovered panic) is returned to the caller.
func (o *Object) runHook(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			faultErr := NewRuntimeError("lifecycle hook panicked: %v", r)
			o.fault(faultErr.Error())
			err = faultErr
		}
	}()

	if hookErr := fn(); hookErr != nil {
		o.fault(hookErr.Error())
		return hookErr
	}
	return nil
}

// Init drives initializing -> configuring, running HandleInit.
func (o *Object) Init(config ObjectConfig) error {
	o.lock.Lock()
	defer o.unlock()

	if o.state != StateInitializing {
		return NewStateError(o.id, o.state, StateConfiguring, "init() requires state initializing")
	}

	return o.runHook(func() error {
		if err := o.hooks.HandleInit(o, config); err != nil {
			return err
		}
		return o.transition(StateConfiguring)
	})
}

// Configure applies config to the object's declared properties, then
// drives configuring -> paused, running HandleConfigure. Missing a
// required property or a coercion failure faults the object.
func (o *Object) Configure(config ObjectConfig) error {
	o.lock.Lock()
	defer o.unlock()

	if o.state != StateConfiguring {
		return NewStateError(o.id, o.state, StatePaused, "configure() requires state configuring")
	}

	return o.runHook(func() error {
		for _, entry := range config {
			prop, ok := o.properties[entry.Name]
			if !ok {
				return NewKeyError(entry.Name, "configure: no such property %q", entry.Name)
			}
			if !prop.Configurable() {
				return NewImmutableError("configure: property %q is not configurable", entry.Name)
			}
			if err := prop.Set(entry.Value); err != nil {
				return err
			}
			logDebug("object", "configured ", o.kind, ".", entry.Name, " = ", prop.String())
		}

		for _, name := range o.propOrder {
			if o.properties[name].Required() && !o.properties[name].Defined() {
				return NewUndefinedError("configure: required property %q was not set", name)
			}
		}

		if err := o.hooks.HandleConfigure(o, config); err != nil {
			return err
		}
		return o.transition(StatePaused)
	})
}

// Start drives paused -> waiting.
func (o *Object) Start() error {
	o.lock.Lock()
	defer o.unlock()

	if o.state != StatePaused {
		return NewStateError(o.id, o.state, StateWaiting, "start() requires state paused")
	}

	if err := o.transition(StateWaiting); err != nil {
		return err
	}

	return o.recomputeReadiness()
}

// Stop drives the object directly to stopped from paused, waiting,
// scheduled or executing, per the user-initiated stop() trigger. It is a
// no-op for an object that is already terminal and a StateError for one
// that is still initializing or configuring.
func (o *Object) Stop() error {
	o.lock.Lock()
	defer o.unlock()

	if o.state.terminal() {
		return nil
	}

	return o.transition(StateStopped)
}

// Pause drives a running object (waiting/scheduled/executing) back to
// paused. It is a no-op, reporting wasRunning=false, if the object is
// not currently in the running cycle; link/unlink transactions use
// this to quiesce affected nodes before mutating the port graph, but
// it is equally valid for a host to call directly.
func (o *Object) Pause() (wasRunning bool, err error) {
	o.lock.Lock()
	defer o.unlock()

	if !o.state.running() {
		return false, nil
	}

	if err := o.transition(StatePaused); err != nil {
		return false, err
	}
	return true, nil
}

// pauseForTransaction is the internal name link/unlink transactions
// call Pause under; kept distinct so the intent at call sites is clear.
func (o *Object) pauseForTransaction() (bool, error) { return o.Pause() }

func (o *Object) resumeAfterTransaction() error {
	o.lock.Lock()
	defer o.unlock()

	if o.state != StatePaused {
		return nil
	}
	if err := o.transition(StateWaiting); err != nil {
		return err
	}
	return o.recomputeReadiness()
}

// ready reports whether every output is ready and every required input
// is ready. The caller must hold the lock.
func (o *Object) ready() bool {
	for _, out := range o.outputs {
		if !out.Ready() {
			return false
		}
	}
	for _, in := range o.inputs {
		if in.required && !in.Ready() {
			return false
		}
	}
	return true
}

// recomputeReadiness checks whether the object just became ready while
// waiting and, if so, schedules it exactly once. The caller must hold
// the lock.
func (o *Object) recomputeReadiness() error {
	if o.state == StateWaiting && o.ready() {
		return o.transition(StateScheduled)
	}
	return nil
}

// onPortReadyChanged is called by a port's setReady when its flag
// actually flips, so the object recomputes readiness at most once per
// real change rather than once per setReady call.
func (o *Object) onPortReadyChanged() {
	o.lock.Lock()
	defer o.unlock()
	if err := o.recomputeReadiness(); err != nil {
		logError("object", "readiness recompute failed: ", err)
	}
}

// Execute is called by whatever scheduled this object onto the worker
// pool. It drives scheduled -> executing, runs Process, then drives
// executing -> waiting or executing -> stopped depending on the
// result.
func (o *Object) Execute(ctx context.Context) error {
	o.lock.Lock()
	defer o.unlock()

	if o.state != StateScheduled {
		return NewStateError(o.id, o.state, StateExecuting, "execute() requires state scheduled")
	}

	_, span := coreTracer.StartSpan(ctx, SpanObjectProcess)
	span.SetTag(TagObjectID, strconv.FormatUint(uint64(o.id), 10))
	span.SetTag(TagObjectKind, o.kind)
	defer span.Finish()

	if err := o.transition(StateExecuting); err != nil {
		span.SetTag(TagErr, err.Error())
		return err
	}

	var result ProcessResult
	hookErr := o.runHook(func() error {
		var err error
		result, err = o.hooks.Process(o)
		return err
	})
	if hookErr != nil {
		span.SetTag(TagErr, hookErr.Error())
		return hookErr
	}

	switch result {
	case ProcessEndOfData:
		span.SetTag(TagResult, "end_of_data")
		o.hooks.HandleEndOfData(o)

		var links []*PortLink
		for _, out := range o.outputs {
			links = append(links, out.Links()...)
		}

		// Notifying a link's downstream input acquires that input's
		// owning object's own lock, so this object's lock must be fully
		// released first: holding it here while reaching into another
		// object would nest two object locks out of ascending-id order.
		o.unlock()
		for _, link := range links {
			link.SetEndOfData(true)
		}
		o.lock.Lock()

		if o.state.terminal() {
			return nil
		}
		return o.transition(StateStopped)
	default:
		span.SetTag(TagResult, "finished")
		if err := o.transition(StateWaiting); err != nil {
			return err
		}
		return o.recomputeReadiness()
	}
}

// AddProperty declares a property on the object. It is only valid
// while the object is initializing or configuring, mirroring when
// ports may be added.
func (o *Object) AddProperty(cfg PropertyConfig) (*Property, error) {
	if o.state != StateInitializing && o.state != StateConfiguring {
		return nil, NewStateError(o.id, o.state, o.state, "properties may only be added while initializing or configuring")
	}
	if _, exists := o.properties[cfg.Name]; exists {
		return nil, NewKeyError(cfg.Name, "property %q already exists", cfg.Name)
	}

	prop := newProperty(cfg)
	o.properties[cfg.Name] = prop
	o.propOrder = append(o.propOrder, cfg.Name)
	return prop, nil
}

// Property looks up a declared property by name.
func (o *Object) Property(name string) (*Property, error) {
	prop, ok := o.properties[name]
	if !ok {
		return nil, NewKeyError(name, "no such property %q", name)
	}
	return prop, nil
}

// Properties returns every declared property in declaration order.
func (o *Object) Properties() []*Property {
	result := make([]*Property, len(o.propOrder))
	for i, name := range o.propOrder {
		result[i] = o.properties[name]
	}
	return result
}

// AddOutput declares a new output port. It is only valid while the
// object is initializing or configuring.
func (o *Object) AddOutput(portType *PortType, name string) (*OutputPort, error) {
	if o.state != StateInitializing && o.state != StateConfiguring {
		return nil, NewStateError(o.id, o.state, o.state, "ports may only be added while initializing or configuring")
	}
	for _, existing := range o.outputs {
		if existing.name == name {
			return nil, NewKeyError(name, "output %q already exists", name)
		}
	}

	out := newOutputPort(o, portType, name)
	o.outputs = append(o.outputs, out)
	return out, nil
}

// AddInput declares a new input port. It is only valid while the
// object is initializing or configuring.
func (o *Object) AddInput(portType *PortType, name string, required bool) (*InputPort, error) {
	if o.state != StateInitializing && o.state != StateConfiguring {
		return nil, NewStateError(o.id, o.state, o.state, "ports may only be added while initializing or configuring")
	}
	for _, existing := range o.inputs {
		if existing.name == name {
			return nil, NewKeyError(name, "input %q already exists", name)
		}
	}

	in := newInputPort(o, portType, name, required)
	o.inputs = append(o.inputs, in)
	return in, nil
}

// Outputs returns the object's output ports in declaration order.
func (o *Object) Outputs() []*OutputPort { return append([]*OutputPort{}, o.outputs...) }

// Inputs returns the object's input ports in declaration order.
func (o *Object) Inputs() []*InputPort { return append([]*InputPort{}, o.inputs...) }

// Output looks up an output port by name.
func (o *Object) Output(name string) (*OutputPort, error) {
	for _, out := range o.outputs {
		if out.name == name {
			return out, nil
		}
	}
	return nil, NewKeyError(name, "no such output %q", name)
}

// Input looks up an input port by name.
func (o *Object) Input(name string) (*InputPort, error) {
	for _, in := range o.inputs {
		if in.name == name {
			return in, nil
		}
	}
	return nil, NewKeyError(name, "no such input %q", name)
}

// Links returns every link touching any of the object's ports.
func (o *Object) Links() []*PortLink {
	var links []*PortLink
	for _, out := range o.outputs {
		out.mu.Lock()
		links = append(links, out.links...)
		out.mu.Unlock()
	}
	for _, in := range o.inputs {
		in.mu.Lock()
		links = append(links, in.links...)
		in.mu.Unlock()
	}
	return links
}

// LinkedObjects returns the distinct set of objects on the other end
// of any of this object's links.
func (o *Object) LinkedObjects() []*Object {
	seen := map[ObjectID]*Object{}
	for _, link := range o.Links() {
		var other *Object
		if link.From().parent == o {
			other = link.To().parent
		} else {
			other = link.From().parent
		}
		if other != nil && other != o {
			seen[other.id] = other
		}
	}

	result := make([]*Object, 0, len(seen))
	for _, obj := range seen {
		result = append(result, obj)
	}
	return result
}

package clypsalot

// testkit provides a small family of node kinds used to exercise end to
// end network behavior: a source that counts itself out after a
// configured number of cycles, a relay that forwards end-of-data, and a
// sink that watches for it. They are grounded on the reference
// implementation's own processing test object, which drives a process
// counter against a max-process property until it reaches it and stops.

const (
	propertyProcessCounter = "Process Counter"
	propertyMaxProcess     = "Max Process"
)

// DataPortType is the shared payload-free port type the testkit node
// kinds link through.
var DataPortType = NewPortType("testkit.data")

// sourceHooks counts process cycles against a required Max Process
// property and reports end-of-data once it is reached.
type sourceHooks struct {
	DefaultHooks
	counter *Property
	max     *Property
}

func (h *sourceHooks) HandleInit(o *Object, _ ObjectConfig) error {
	if _, err := o.AddOutput(DataPortType, "out"); err != nil {
		return err
	}

	counter, err := o.AddProperty(PropertyConfig{Name: propertyProcessCounter, Type: PropertySize, Initial: uint64(0)})
	if err != nil {
		return err
	}
	max, err := o.AddProperty(PropertyConfig{Name: propertyMaxProcess, Type: PropertySize, Configurable: true, Required: true})
	if err != nil {
		return err
	}

	h.counter = counter
	h.max = max
	return nil
}

func (h *sourceHooks) Process(*Object) (ProcessResult, error) {
	count, err := h.counter.SizeValue()
	if err != nil {
		return ProcessBlocked, err
	}
	max, err := h.max.SizeValue()
	if err != nil {
		return ProcessBlocked, err
	}

	count++
	if err := h.counter.Set(count); err != nil {
		return ProcessBlocked, err
	}

	if count >= max {
		return ProcessEndOfData, nil
	}
	return ProcessFinished, nil
}

// NewSourceObject builds a node whose output reports end-of-data after
// its Max Process property's worth of process cycles.
func NewSourceObject() *Object {
	return NewObject("testkit.source", &sourceHooks{})
}

// relayHooks forwards whatever arrives on in to out unchanged, and
// propagates end-of-data downstream the moment its own input sees it.
type relayHooks struct {
	DefaultHooks
}

func (relayHooks) HandleInit(o *Object, _ ObjectConfig) error {
	if _, err := o.AddInput(DataPortType, "in", true); err != nil {
		return err
	}
	if _, err := o.AddOutput(DataPortType, "out"); err != nil {
		return err
	}
	return nil
}

func (relayHooks) Process(o *Object) (ProcessResult, error) {
	in, err := o.Input("in")
	if err != nil {
		return ProcessBlocked, err
	}

	for _, link := range in.Links() {
		if link.EndOfData() {
			return ProcessEndOfData, nil
		}
	}

	return ProcessFinished, nil
}

// NewRelayObject builds a single-input, single-output passthrough node
// that stops once its upstream link reports end-of-data.
func NewRelayObject() *Object {
	return NewObject("testkit.relay", &relayHooks{})
}

// sinkHooks is a terminal node with no outputs; it stops as soon as any
// link on any of its inputs reports end-of-data.
type sinkHooks struct {
	DefaultHooks
}

func (sinkHooks) HandleInit(o *Object, _ ObjectConfig) error {
	_, err := o.AddInput(DataPortType, "in", true)
	return err
}

func (sinkHooks) Process(o *Object) (ProcessResult, error) {
	for _, in := range o.Inputs() {
		for _, link := range in.Links() {
			if link.EndOfData() {
				return ProcessEndOfData, nil
			}
		}
	}
	return ProcessFinished, nil
}

// NewSinkObject builds a terminal node that stops once its input link
// reports end-of-data.
func NewSinkObject() *Object {
	return NewObject("testkit.sink", &sinkHooks{})
}

// TestKitModule describes the testkit node kinds for ImportModule, the
// same indirection the reference implementation uses to let a host
// opt into its test object catalog rather than registering it
// automatically on load.
func TestKitModule() ModuleDescriptor {
	return ModuleDescriptor{
		Name:      "testkit",
		PortTypes: []PortTypeDescriptor{{Name: DataPortType.Name(), Type: DataPortType}},
		Objects: []ObjectDescriptor{
			{Kind: "testkit.source", Factory: func() ObjectHooks { return &sourceHooks{} }},
			{Kind: "testkit.relay", Factory: func() ObjectHooks { return &relayHooks{} }},
			{Kind: "testkit.sink", Factory: func() ObjectHooks { return &sinkHooks{} }},
		},
	}
}

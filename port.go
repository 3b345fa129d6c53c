package clypsalot

import "sync"

// PortDirection distinguishes the two disjoint port variants.
type PortDirection uint8

const (
	PortOutput PortDirection = iota
	PortInput
)

func (d PortDirection) String() string {
	if d == PortInput {
		return "input"
	}
	return "output"
}

// PortType is a named link factory registered in the port type catalog.
// Two ports can only be linked if they share the same *PortType value;
// name collisions are rejected at catalog insert, and identity is by
// pointer rather than name equality so a forged PortType with a
// matching name can never satisfy a link.
type PortType struct {
	name     string
	makeLink func(out *OutputPort, in *InputPort) (*PortLink, error)
}

// NewPortType builds a PortType whose links are a plain directed edge
// with no extra payload checks beyond both ends sharing this PortType.
func NewPortType(name string) *PortType {
	pt := &PortType{name: name}
	pt.makeLink = func(out *OutputPort, in *InputPort) (*PortLink, error) {
		return &PortLink{from: out, to: in}, nil
	}
	return pt
}

// NewPortTypeWithFactory builds a PortType whose factory additionally
// validates or wraps the link, for port types that carry payload
// semantics the core itself does not understand.
func NewPortTypeWithFactory(name string, factory func(out *OutputPort, in *InputPort) (*PortLink, error)) *PortType {
	return &PortType{name: name, makeLink: factory}
}

// Name returns the port type's registered name.
func (t *PortType) Name() string { return t.name }

// port is the state shared by InputPort and OutputPort.
type port struct {
	mu       sync.Mutex
	name     string
	portType *PortType
	parent   *Object
	ready    bool
	links    []*PortLink
}

// Name returns the port's name, unique among its direction within the
// owning object.
func (p *port) Name() string { return p.name }

// Type returns the port's registered PortType.
func (p *port) Type() *PortType { return p.portType }

// Parent returns the object that owns this port.
func (p *port) Parent() *Object { return p.parent }

// Ready reports the port's current readiness flag.
func (p *port) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// linkCount returns how many links currently reference this port.
func (p *port) linkCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.links)
}

func (p *port) addLink(l *PortLink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.links = append(p.links, l)
}

func (p *port) removeLink(l *PortLink) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.links {
		if existing == l {
			p.links = append(p.links[:i], p.links[i+1:]...)
			return true
		}
	}
	return false
}

func (p *port) hasLinkTo(other *port) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.links {
		if l.from != nil && &l.from.port == other {
			return true
		}
		if l.to != nil && &l.to.port == other {
			return true
		}
	}
	return false
}

// setReady updates the readiness flag and reports whether it changed,
// so the caller can recompute the owning object's overall readiness
// exactly once per actual change.
func (p *port) setReady(ready bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready == ready {
		return false
	}
	p.ready = ready
	return true
}

// OutputPort is the source end of zero or more links.
type OutputPort struct {
	port
}

func newOutputPort(parent *Object, portType *PortType, name string) *OutputPort {
	return &OutputPort{port: port{name: name, portType: portType, parent: parent}}
}

// InputPort is the sink end of at most conceptually many links, though
// most node kinds expect exactly zero or one; required inputs must have
// data available for their owning object to be ready.
type InputPort struct {
	port
	required bool
}

func newInputPort(parent *Object, portType *PortType, name string, required bool) *InputPort {
	return &InputPort{port: port{name: name, portType: portType, parent: parent}, required: required}
}

// Required reports whether this input must be ready for its owning
// object to be considered ready.
func (p *InputPort) Required() bool { return p.required }

// Links returns a snapshot of the links currently attached to this
// port.
func (p *port) Links() []*PortLink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*PortLink{}, p.links...)
}

// SetReady updates the port's readiness flag. When the flag actually
// changes, the owning object's readiness is recomputed exactly once,
// satisfying the "readiness changes trigger recomputation exactly once
// per change" contract; calling SetReady with the flag's current value
// is a no-op.
func (p *OutputPort) SetReady(ready bool) {
	if p.port.setReady(ready) && p.parent != nil {
		p.parent.onPortReadyChanged()
	}
}

// SetReady is the input-port counterpart of OutputPort.SetReady.
func (p *InputPort) SetReady(ready bool) {
	if p.port.setReady(ready) && p.parent != nil {
		p.parent.onPortReadyChanged()
	}
}

// onLinkDataAvailable is the concrete hook a PortLink calls when its
// end-of-data flag flips, answering the open question of how a link
// signals "data available" to its downstream port: the end-of-data
// transition itself is an event the consumer must act on, so it marks
// the destination input ready exactly once, giving the owning node one
// more scheduling opportunity to notice end-of-data and finish.
func (l *PortLink) onLinkDataAvailable() {
	if l.to != nil && l.endOfData {
		l.to.SetReady(true)
	}
}

// PortLink is a directed edge from an OutputPort to an InputPort. It is
// owned jointly by both ends: it is only ever constructed by
// linkPair and only ever torn down by unlinkPair, each of which keeps
// both ports' link lists in sync.
type PortLink struct {
	mu        sync.Mutex
	from      *OutputPort
	to        *InputPort
	endOfData bool
}

// From returns the link's output endpoint.
func (l *PortLink) From() *OutputPort { return l.from }

// To returns the link's input endpoint.
func (l *PortLink) To() *InputPort { return l.to }

// EndOfData reports whether the upstream side has signaled no more
// data will arrive on this link.
func (l *PortLink) EndOfData() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.endOfData
}

// SetEndOfData flips the link's end-of-data flag and, when it
// transitions to true, notifies the downstream input port.
func (l *PortLink) SetEndOfData(value bool) {
	l.mu.Lock()
	changed := l.endOfData != value
	l.endOfData = value
	l.mu.Unlock()

	if changed {
		l.onLinkDataAvailable()
	}
}

// linkPair invokes the shared PortType's factory to build one link
// between out and in, after confirming both ends are registered under
// the same PortType and the pair is not already linked.
func linkPair(out *OutputPort, in *InputPort) (*PortLink, error) {
	if out.portType != in.portType {
		return nil, NewTypeError("output port %q (%s) is not compatible with input port %q (%s)",
			out.name, out.portType.name, in.name, in.portType.name)
	}

	if out.hasLinkTo(&in.port) {
		return nil, NewDuplicateLinkError("a link already exists between output %q and input %q", out.name, in.name)
	}

	link, err := out.portType.makeLink(out, in)
	if err != nil {
		return nil, err
	}

	out.addLink(link)
	in.addLink(link)

	return link, nil
}

// unlinkPair removes and destroys the link between out and in. It is a
// RuntimeError if no such link exists.
func unlinkPair(out *OutputPort, in *InputPort) (*PortLink, error) {
	out.mu.Lock()
	var found *PortLink
	for _, l := range out.links {
		if l.to == in {
			found = l
			break
		}
	}
	out.mu.Unlock()

	if found == nil {
		return nil, NewRuntimeError("no link exists between output %q and input %q", out.name, in.name)
	}

	out.removeLink(found)
	in.removeLink(found)

	return found, nil
}

package clypsalot

import (
	"context"
	"sort"
	"sync"

	"github.com/zoobzio/hookz"
)

// PortTypeDescriptor is a module's declaration of one named port type.
type PortTypeDescriptor struct {
	Name string
	Type *PortType
}

// ObjectFactory builds the ObjectHooks for a new instance of a node
// kind. It is called once per make().
type ObjectFactory func() ObjectHooks

// ObjectDescriptor is a module's declaration of one named node kind.
type ObjectDescriptor struct {
	Kind    string
	Factory ObjectFactory
}

// PortTypeCatalog is the append-only, process-wide registry of port
// types by name. Reads never block a concurrent reader; inserts are
// serialized and reject duplicate names.
type PortTypeCatalog struct {
	mu      sync.RWMutex
	entries map[string]*PortTypeDescriptor
	hooks   *hookz.Hooks[CatalogEntryAddedEvent]
}

func newPortTypeCatalog() *PortTypeCatalog {
	return &PortTypeCatalog{
		entries: make(map[string]*PortTypeDescriptor),
		hooks:   hookz.New[CatalogEntryAddedEvent](),
	}
}

// Add inserts descriptor under its name. A name collision is a
// KeyError and leaves the catalog unchanged.
func (c *PortTypeCatalog) Add(descriptor PortTypeDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[descriptor.Name]; exists {
		return NewKeyError(descriptor.Name, "port type %q is already registered", descriptor.Name)
	}

	stored := descriptor
	c.entries[descriptor.Name] = &stored
	_ = c.hooks.Emit(context.Background(), HookCatalogEntryAdded, CatalogEntryAddedEvent{Catalog: "port_type", Name: descriptor.Name})
	return nil
}

// Names returns every registered port type name, sorted.
func (c *PortTypeCatalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Instance looks up the *PortType registered under name.
func (c *PortTypeCatalog) Instance(name string) (*PortType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[name]
	if !ok {
		return nil, NewKeyError(name, "no such port type %q", name)
	}
	return entry.Type, nil
}

// OnEntryAdded registers a hook that fires whenever a new port type is
// added, primarily for UI-style catalog browsers.
func (c *PortTypeCatalog) OnEntryAdded(handler func(context.Context, CatalogEntryAddedEvent) error) error {
	_, err := c.hooks.Hook(HookCatalogEntryAdded, handler)
	return err
}

// ObjectCatalog is the append-only, process-wide registry of node kinds
// by name.
type ObjectCatalog struct {
	mu      sync.RWMutex
	entries map[string]*ObjectDescriptor
	hooks   *hookz.Hooks[CatalogEntryAddedEvent]
}

func newObjectCatalog() *ObjectCatalog {
	return &ObjectCatalog{
		entries: make(map[string]*ObjectDescriptor),
		hooks:   hookz.New[CatalogEntryAddedEvent](),
	}
}

// Add inserts descriptor under its kind. A kind collision is a
// KeyError and leaves the catalog unchanged.
func (c *ObjectCatalog) Add(descriptor ObjectDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[descriptor.Kind]; exists {
		return NewKeyError(descriptor.Kind, "object kind %q is already registered", descriptor.Kind)
	}

	stored := descriptor
	c.entries[descriptor.Kind] = &stored
	_ = c.hooks.Emit(context.Background(), HookCatalogEntryAdded, CatalogEntryAddedEvent{Catalog: "object", Name: descriptor.Kind})
	return nil
}

// Kinds returns every registered node kind name, sorted.
func (c *ObjectCatalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	kinds := make([]string, 0, len(c.entries))
	for kind := range c.entries {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Make constructs a new Object of the given kind in StateInitializing.
func (c *ObjectCatalog) Make(kind string) (*Object, error) {
	c.mu.RLock()
	entry, ok := c.entries[kind]
	c.mu.RUnlock()

	if !ok {
		return nil, NewKeyError(kind, "no such object kind %q", kind)
	}

	coreMetrics.Counter(MetricObjectsCreated).Inc()
	return NewObject(kind, entry.Factory()), nil
}

// OnEntryAdded registers a hook that fires whenever a new node kind is
// added.
func (c *ObjectCatalog) OnEntryAdded(handler func(context.Context, CatalogEntryAddedEvent) error) error {
	_, err := c.hooks.Hook(HookCatalogEntryAdded, handler)
	return err
}

var (
	globalPortTypeCatalog = newPortTypeCatalog()
	globalObjectCatalog   = newObjectCatalog()
)

// PortTypes returns the process-wide port type catalog.
func PortTypes() *PortTypeCatalog { return globalPortTypeCatalog }

// Objects returns the process-wide object catalog.
func Objects() *ObjectCatalog { return globalObjectCatalog }

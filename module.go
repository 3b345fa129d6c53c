package clypsalot

import "fmt"

// ModuleDescriptor bundles every port type and node kind a module wants
// inserted into the process-wide catalogs. Host programs build one per
// package and hand it to ImportModule during init.
type ModuleDescriptor struct {
	Name      string
	PortTypes []PortTypeDescriptor
	Objects   []ObjectDescriptor
}

// ImportModule inserts every entry of descriptor into the process-wide
// PortTypeCatalog and ObjectCatalog. Port types are inserted before
// object kinds since an object kind's factory may reference a port type
// the same module declares. The insert order within each list is
// preserved; a collision with an already-registered name or kind stops
// the import at that entry and is returned wrapped with the module's
// name for context. Entries inserted before the collision stay
// registered.
func ImportModule(descriptor ModuleDescriptor) error {
	for _, pt := range descriptor.PortTypes {
		if err := globalPortTypeCatalog.Add(pt); err != nil {
			return fmt.Errorf("importing module %q: %w", descriptor.Name, err)
		}
	}

	for _, obj := range descriptor.Objects {
		if err := globalObjectCatalog.Add(obj); err != nil {
			return fmt.Errorf("importing module %q: %w", descriptor.Name, err)
		}
	}

	return nil
}

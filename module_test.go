package clypsalot

import (
	"errors"
	"testing"
)

func TestImportModuleInsertsPortTypesAndObjects(t *testing.T) {
	pt := NewPortType("module.import.porttype")
	descriptor := ModuleDescriptor{
		Name:      "test-import",
		PortTypes: []PortTypeDescriptor{{Name: "module.import.porttype", Type: pt}},
		Objects: []ObjectDescriptor{
			{Kind: "module.import.object", Factory: func() ObjectHooks { return &DefaultHooks{} }},
		},
	}

	if err := ImportModule(descriptor); err != nil {
		t.Fatalf("import: %v", err)
	}
	t.Cleanup(func() {
		delete(globalPortTypeCatalog.entries, "module.import.porttype")
		delete(globalObjectCatalog.entries, "module.import.object")
	})

	found, err := PortTypes().Instance("module.import.porttype")
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	if found != pt {
		t.Fatal("expected the imported PortType back")
	}

	o, err := Objects().Make("module.import.object")
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if o.Kind() != "module.import.object" {
		t.Fatalf("expected kind module.import.object, got %q", o.Kind())
	}
}

func TestImportModuleAbortsOnCollision(t *testing.T) {
	descriptor := ModuleDescriptor{
		Name:    "test-collision",
		Objects: []ObjectDescriptor{{Kind: "module.collision.object", Factory: func() ObjectHooks { return &DefaultHooks{} }}},
	}

	if err := ImportModule(descriptor); err != nil {
		t.Fatalf("first import: %v", err)
	}
	t.Cleanup(func() { delete(globalObjectCatalog.entries, "module.collision.object") })

	err := ImportModule(descriptor)
	var keyErr *KeyError
	if !errors.As(err, &keyErr) {
		t.Fatalf("expected the second import to fail with a KeyError, got %v", err)
	}
}

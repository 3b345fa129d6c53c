package clypsalot

import (
	"errors"
	"testing"
)

func TestErrorTaxonomy(t *testing.T) {
	t.Run("KeyError", func(t *testing.T) {
		err := NewKeyError("widget", "no such kind: %s", "widget")
		if err.Kind != KindKey {
			t.Errorf("expected KindKey, got %s", err.Kind)
		}
		if err.Key != "widget" {
			t.Errorf("expected key widget, got %s", err.Key)
		}
		if err.Error() != "no such kind: widget" {
			t.Errorf("unexpected message: %s", err.Error())
		}
	})

	t.Run("StateError carries both states", func(t *testing.T) {
		err := NewStateError(7, StatePaused, StateExecuting, "can't do that from paused")
		if err.ObjectID != 7 {
			t.Errorf("expected object id 7, got %d", err.ObjectID)
		}
		if err.From != StatePaused || err.To != StateExecuting {
			t.Errorf("unexpected from/to: %s -> %s", err.From, err.To)
		}
	})

	t.Run("wrap preserves Unwrap chain", func(t *testing.T) {
		cause := errors.New("boom")
		err := NewRuntimeError("could not finish")
		wrap(err.CoreError, cause)

		if !errors.Is(err, cause) {
			t.Errorf("expected errors.Is to find the wrapped cause")
		}
	})

	t.Run("errors.As finds the concrete type", func(t *testing.T) {
		var target *TypeError
		var err error = NewTypeError("incompatible port types")

		if !errors.As(err, &target) {
			t.Fatal("expected errors.As to match TypeError")
		}
		if target.Kind != KindType {
			t.Errorf("expected KindType, got %s", target.Kind)
		}
	})

	t.Run("nil CoreError stringifies safely", func(t *testing.T) {
		var err *CoreError
		if err.Error() != "<nil>" {
			t.Errorf("expected <nil>, got %q", err.Error())
		}
		if err.Unwrap() != nil {
			t.Errorf("expected nil Unwrap on nil CoreError")
		}
	})
}

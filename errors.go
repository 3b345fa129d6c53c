package clypsalot

import (
	"fmt"
)

// Kind identifies which member of the error taxonomy an error belongs to.
// Callers that need to branch on error category should use errors.As with
// the concrete types below rather than comparing Kind directly, but Kind
// is convenient in log messages and switch statements.
type Kind string

// The error taxonomy. Every error the core returns wraps one of these.
const (
	KindKey           Kind = "key"
	KindType          Kind = "type"
	KindValue         Kind = "value"
	KindUndefined     Kind = "undefined"
	KindImmutable     Kind = "immutable"
	KindState         Kind = "state"
	KindDuplicateLink Kind = "duplicate_link"
	KindRuntime       Kind = "runtime"
	KindMutexLock     Kind = "mutex_lock"
	KindMutexUnlock   Kind = "mutex_unlock"
)

// CoreError is embedded by every error type the core raises. It carries a
// human readable message and optionally wraps a lower level cause so
// errors.Is/errors.As keep working through the taxonomy.
type CoreError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap lets errors.Is/errors.As see through to a wrapped cause.
func (e *CoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind Kind, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KeyError reports a catalog lookup that missed, or a duplicate insert
// into a catalog. It carries the offending key so callers can report it
// without re-parsing the message.
type KeyError struct {
	*CoreError
	Key string
}

// NewKeyError builds a KeyError for the given key.
func NewKeyError(key string, format string, args ...any) *KeyError {
	return &KeyError{CoreError: newError(KindKey, format, args...), Key: key}
}

// TypeError reports a port type mismatch or a property value coercion
// failure.
type TypeError struct {
	*CoreError
}

// NewTypeError builds a TypeError.
func NewTypeError(format string, args ...any) *TypeError {
	return &TypeError{CoreError: newError(KindType, format, args...)}
}

// ValueError reports an otherwise well-typed value that is not valid,
// such as a negative size.
type ValueError struct {
	*CoreError
}

// NewValueError builds a ValueError.
func NewValueError(format string, args ...any) *ValueError {
	return &ValueError{CoreError: newError(KindValue, format, args...)}
}

// UndefinedError reports a read of a Property that has never been set.
type UndefinedError struct {
	*CoreError
}

// NewUndefinedError builds an UndefinedError.
func NewUndefinedError(format string, args ...any) *UndefinedError {
	return &UndefinedError{CoreError: newError(KindUndefined, format, args...)}
}

// ImmutableError reports a public write to a Property that does not
// have PublicMutable set.
type ImmutableError struct {
	*CoreError
}

// NewImmutableError builds an ImmutableError.
func NewImmutableError(format string, args ...any) *ImmutableError {
	return &ImmutableError{CoreError: newError(KindImmutable, format, args...)}
}

// StateError reports an operation that is not legal given an Object's
// current lifecycle state. It carries the object id and both states
// involved so a caller can decide whether to retry or give up.
type StateError struct {
	*CoreError
	ObjectID ObjectID
	From     ObjectState
	To       ObjectState
}

// NewStateError builds a StateError describing an illegal state
// transition or an operation invalid for the current state.
func NewStateError(id ObjectID, from, to ObjectState, format string, args ...any) *StateError {
	return &StateError{
		CoreError: newError(KindState, format, args...),
		ObjectID:  id,
		From:      from,
		To:        to,
	}
}

// DuplicateLinkError reports that linkPorts was asked to create a link
// that already exists between the given output and input.
type DuplicateLinkError struct {
	*CoreError
}

// NewDuplicateLinkError builds a DuplicateLinkError.
func NewDuplicateLinkError(format string, args ...any) *DuplicateLinkError {
	return &DuplicateLinkError{CoreError: newError(KindDuplicateLink, format, args...)}
}

// RuntimeError is the catch-all for invariants violated by callers, such
// as registering a handler twice or removing a link that isn't present.
type RuntimeError struct {
	*CoreError
}

// NewRuntimeError builds a RuntimeError.
func NewRuntimeError(format string, args ...any) *RuntimeError {
	return &RuntimeError{CoreError: newError(KindRuntime, format, args...)}
}

// MutexLockError reports a debug-build lock discipline violation on lock:
// recursive acquisition by a non-recursive guard, or a lock held by a
// goroutine other than the one the guard expects.
type MutexLockError struct {
	*CoreError
}

// NewMutexLockError builds a MutexLockError.
func NewMutexLockError(format string, args ...any) *MutexLockError {
	return &MutexLockError{CoreError: newError(KindMutexLock, format, args...)}
}

// MutexUnlockError reports an unlock attempted by a goroutine that does
// not hold the lock.
type MutexUnlockError struct {
	*CoreError
}

// NewMutexUnlockError builds a MutexUnlockError.
func NewMutexUnlockError(format string, args ...any) *MutexUnlockError {
	return &MutexUnlockError{CoreError: newError(KindMutexUnlock, format, args...)}
}

// wrap attaches a lower level cause to one of the taxonomy errors so
// errors.Is/errors.As can still find it.
func wrap(base *CoreError, cause error) *CoreError {
	base.Err = cause
	return base
}

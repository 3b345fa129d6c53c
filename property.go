package clypsalot

import (
	"fmt"
	"strconv"
)

// PropertyType is the closed set of scalar kinds a Property can hold.
// It replaces runtime reflection over the stored value with a fixed
// enum so configure() can reject unknown values at the edge rather than
// discovering a mismatch deep inside a node.
type PropertyType uint8

const (
	PropertyBoolean PropertyType = iota
	PropertyInteger
	PropertyReal
	PropertySize
	PropertyString
	PropertyFile
)

func (t PropertyType) String() string {
	switch t {
	case PropertyBoolean:
		return "boolean"
	case PropertyInteger:
		return "integer"
	case PropertyReal:
		return "real"
	case PropertySize:
		return "size"
	case PropertyString:
		return "string"
	case PropertyFile:
		return "file"
	default:
		return "unknown"
	}
}

// PropertyConfig declares one property a node kind exposes: its name,
// scalar type, mutability flags, and an optional initial value. Passing
// a nil Initial leaves the property undefined until configured or set.
type PropertyConfig struct {
	Name          string
	Type          PropertyType
	Configurable  bool
	Required      bool
	PublicMutable bool
	Initial       any
}

// Property is a tagged-variant scalar. Reads before the first write fail
// with UndefinedError; a SetPublic write without PublicMutable set
// fails with ImmutableError.
type Property struct {
	name          string
	kind          PropertyType
	configurable  bool
	required      bool
	publicMutable bool
	defined       bool
	value         any
}

// newProperty builds a Property from its declaration, coercing Initial
// if one was given. A non-nil Initial that does not coerce to kind is a
// programmer error in the node kind's own descriptor and panics, the
// same way a malformed catalog entry does anywhere else in the core.
func newProperty(cfg PropertyConfig) *Property {
	p := &Property{
		name:          cfg.Name,
		kind:          cfg.Type,
		configurable:  cfg.Configurable,
		required:      cfg.Required,
		publicMutable: cfg.PublicMutable,
	}

	if cfg.Initial != nil {
		coerced, err := coercePropertyValue(cfg.Type, cfg.Initial)
		if err != nil {
			panic(fmt.Sprintf("property %q: invalid initial value: %v", cfg.Name, err))
		}
		p.value = coerced
		p.defined = true
	}

	return p
}

// Name returns the property's name.
func (p *Property) Name() string { return p.name }

// Type returns the property's declared scalar type.
func (p *Property) Type() PropertyType { return p.kind }

// Configurable reports whether configure() may set this property.
func (p *Property) Configurable() bool { return p.configurable }

// Required reports whether configure() must supply a value for this
// property.
func (p *Property) Required() bool { return p.required }

// PublicMutable reports whether a host may call Set on this property
// outside of configure().
func (p *Property) PublicMutable() bool { return p.publicMutable }

// Defined reports whether the property currently holds a value.
func (p *Property) Defined() bool { return p.defined }

// Value returns the property's current value as an any, or an
// UndefinedError if it has never been set.
func (p *Property) Value() (any, error) {
	if !p.defined {
		return nil, NewUndefinedError("property %q has no value", p.name)
	}
	return p.value, nil
}

// Set coerces value into the property's declared type and stores it.
// Coercion failures return a TypeError and leave the property
// unchanged.
func (p *Property) Set(value any) error {
	coerced, err := coercePropertyValue(p.kind, value)
	if err != nil {
		return err
	}
	p.value = coerced
	p.defined = true
	return nil
}

// SetPublic is the entry point for a host mutating a live property. It
// enforces PublicMutable before delegating to Set.
func (p *Property) SetPublic(value any) error {
	if !p.publicMutable {
		return NewImmutableError("property %q is not publicly mutable", p.name)
	}
	return p.Set(value)
}

// BoolValue, IntValue, RealValue, SizeValue, StringValue, and FileValue
// are typed accessors matching the property's declared kind. Each fails
// with a TypeError if the property was declared as a different kind,
// or UndefinedError if it has never been set.
func (p *Property) BoolValue() (bool, error) {
	v, err := p.typedValue(PropertyBoolean)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (p *Property) IntValue() (int, error) {
	v, err := p.typedValue(PropertyInteger)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (p *Property) RealValue() (float64, error) {
	v, err := p.typedValue(PropertyReal)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (p *Property) SizeValue() (uint64, error) {
	v, err := p.typedValue(PropertySize)
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

func (p *Property) StringValue() (string, error) {
	v, err := p.typedValue(PropertyString)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Property) FileValue() (string, error) {
	v, err := p.typedValue(PropertyFile)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Property) typedValue(want PropertyType) (any, error) {
	if p.kind != want {
		return nil, NewTypeError("property %q is %s, not %s", p.name, p.kind, want)
	}
	if !p.defined {
		return nil, NewUndefinedError("property %q has no value", p.name)
	}
	return p.value, nil
}

// coercePropertyValue converts an arbitrary configure-time value into
// kind's Go representation, rejecting anything that cannot be coerced
// losslessly. Numeric literals coming in as any other width (e.g. an
// int read from a config file as int64, or a float32) are accepted and
// normalized.
func coercePropertyValue(kind PropertyType, value any) (any, error) {
	switch kind {
	case PropertyBoolean:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case PropertyInteger:
		switch v := value.(type) {
		case int:
			return v, nil
		case int32:
			return int(v), nil
		case int64:
			return int(v), nil
		case float64:
			if v == float64(int(v)) {
				return int(v), nil
			}
		}
	case PropertyReal:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
	case PropertySize:
		switch v := value.(type) {
		case uint64:
			return v, nil
		case int:
			if v < 0 {
				return nil, NewValueError("size property cannot be negative: %d", v)
			}
			return uint64(v), nil
		case int64:
			if v < 0 {
				return nil, NewValueError("size property cannot be negative: %d", v)
			}
			return uint64(v), nil
		}
	case PropertyString:
		if v, ok := value.(string); ok {
			return v, nil
		}
		if v, ok := value.(fmt.Stringer); ok {
			return v.String(), nil
		}
	case PropertyFile:
		if v, ok := value.(string); ok {
			return v, nil
		}
	}

	return nil, NewTypeError("cannot coerce %v (%T) into a %s property", value, value, kind)
}

// String renders the property's current value for diagnostics, matching
// the original implementation's debug string without exposing the
// underlying Go type.
func (p *Property) String() string {
	if !p.defined {
		return "<undefined>"
	}
	switch p.kind {
	case PropertySize:
		return strconv.FormatUint(p.value.(uint64), 10)
	default:
		return fmt.Sprint(p.value)
	}
}

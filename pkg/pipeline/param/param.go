package param

import (
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// Kind is the declared type of a parameter.
type Kind string

const (
	KindString Kind = "string"
	KindPath   Kind = "path"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
)

// ParseKind returns the kind named by s. An empty string is a string kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindString:
		return KindString, nil
	case KindPath, KindNumber, KindBool:
		return Kind(s), nil
	default:
		return "", errors.Wrapf(ErrInvalidKind, "%q", s)
	}
}

// Source tells where a resolved value came from.
type Source string

const (
	SourceArg     Source = "argument"
	SourceFile    Source = "params file"
	SourceEnv     Source = "environment"
	SourceDefault Source = "default"
)

// Decl declares a parameter.
type Decl struct {
	Name        string
	Kind        Kind
	Description string
	// Default is the textual default, only meaningful when HasDefault is set.
	Default    string
	HasDefault bool
	Required   bool
	// Validate runs after the value has been parsed.
	Validate func(Value) error
}

// Value is a resolved parameter value.
type Value struct {
	Name   string
	Kind   Kind
	Raw    string
	Source Source

	num     float64
	boolean bool
}

// String returns the textual form of the value. Paths are absolute, numbers
// keep the exact text they were given with.
func (v Value) String() string {
	return v.Raw
}

// Float returns the numeric value of a number parameter.
func (v Value) Float() float64 {
	return v.num
}

// Int returns the numeric value of a number parameter truncated to an int.
func (v Value) Int() int {
	return int(v.num)
}

// Bool returns the value of a bool parameter.
func (v Value) Bool() bool {
	return v.boolean
}

func parse(decl Decl, raw string, source Source) (Value, error) {
	val := Value{
		Name:   decl.Name,
		Kind:   decl.Kind,
		Raw:    raw,
		Source: source,
	}

	switch decl.Kind {
	case KindNumber:
		num, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, &InvalidParameterError{Name: decl.Name, Raw: raw, Source: source, Err: errors.New("not a number")}
		}
		val.num = num
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, &InvalidParameterError{Name: decl.Name, Raw: raw, Source: source, Err: errors.New("not a boolean")}
		}
		val.boolean = b
		val.Raw = strconv.FormatBool(b)
	case KindPath:
		if raw == "" {
			return Value{}, &InvalidParameterError{Name: decl.Name, Raw: raw, Source: source, Err: errors.New("empty path")}
		}
		abs, err := filepath.Abs(raw)
		if err != nil {
			return Value{}, &InvalidParameterError{Name: decl.Name, Raw: raw, Source: source, Err: err}
		}
		val.Raw = abs
	case KindString, "":
		val.Kind = KindString
	default:
		return Value{}, errors.Wrapf(ErrInvalidKind, "parameter %q has kind %q", decl.Name, decl.Kind)
	}

	if decl.Validate != nil {
		err := decl.Validate(val)
		if err != nil {
			return Value{}, &InvalidParameterError{Name: decl.Name, Raw: raw, Source: source, Err: err}
		}
	}

	return val, nil
}

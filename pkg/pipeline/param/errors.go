package param

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrUnknownParameter   = errors.New("unknown parameter")
	ErrDuplicateParameter = errors.New("duplicate parameter declaration")
	ErrInvalidKind        = errors.New("invalid parameter kind")
	ErrNotSet             = errors.New("parameter not set")
)

// MissingParameterError is returned when a required parameter has neither a
// value nor a default.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Name)
}

// InvalidParameterError is returned when a value cannot be read as the
// declared kind or is rejected by the declaration's validator.
type InvalidParameterError struct {
	Name   string
	Raw    string
	Source Source
	Err    error
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid value %q for parameter %q (from %s): %v", e.Raw, e.Name, e.Source, e.Err)
}

func (e *InvalidParameterError) Unwrap() error {
	return e.Err
}

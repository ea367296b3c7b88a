package dynamo

import (
	"errors"
	"fmt"
)

// Error classes for keystoneness runs. Every error returned by this module
// matches exactly one of them under errors.Is.
var (
	// ErrConfiguration indicates bad inputs detected before simulation starts.
	ErrConfiguration = errors.New("dynamo: configuration error")

	// ErrNumericInstability indicates an abundance became non-finite or zero.
	ErrNumericInstability = errors.New("dynamo: numeric instability")

	// ErrResource indicates an I/O failure reading inputs or writing outputs.
	ErrResource = errors.New("dynamo: resource error")

	// ErrUnsupportedType indicates an unknown or unimplemented keystoneness type.
	ErrUnsupportedType = fmt.Errorf("%w: unsupported keystoneness type", ErrConfiguration)
)

// ConfigurationError describes an invalid input and the field it came from.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Msg
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// Configf builds a ConfigurationError for field.
func Configf(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// NumericInstabilityError locates a non-finite or collapsed abundance.
// Knockout and Sample are filled in by the caller that owns that context;
// Sample is -1 when unknown.
type NumericInstabilityError struct {
	Knockout string
	Sample   int
	Step     int
	Time     float64
	Taxon    int
	Value    float64
}

func (e *NumericInstabilityError) Error() string {
	msg := fmt.Sprintf("numeric instability at step %d (t=%.4f): taxon position %d has value %g",
		e.Step, e.Time, e.Taxon, e.Value)
	if e.Sample >= 0 {
		msg = fmt.Sprintf("posterior sample %d: %s", e.Sample, msg)
	}
	if e.Knockout != "" {
		msg = fmt.Sprintf("knockout %s: %s", e.Knockout, msg)
	}
	return msg
}

func (e *NumericInstabilityError) Unwrap() error { return ErrNumericInstability }

// ResourceError wraps an I/O failure with the operation and path involved.
type ResourceError struct {
	Op   string
	Path string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ResourceError) Unwrap() []error { return []error{ErrResource, e.Err} }

// Resource wraps err as a ResourceError; it returns nil for a nil err.
func Resource(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &ResourceError{Op: op, Path: path, Err: err}
}

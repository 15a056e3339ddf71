package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry administration.
var (
	ErrDuplicateLayer = errors.New("duplicate layer")
	ErrUnknownLayer   = errors.New("unknown layer")
)

// ErrPersistenceDegraded marks a store write that failed or is still
// pending. It is never returned to a submitter: the report is flagged
// durability-pending instead and the failure is logged for operators.
var ErrPersistenceDegraded = errors.New("persistence degraded")

// ValidationError rejects malformed or out-of-order input before
// evaluation. Nothing is persisted when a ValidationError is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConfigurationError rejects a bad layer or predicate definition at
// admin time. It wraps the underlying cause (ErrDuplicateLayer,
// ErrUnknownLayer, or a predicate compilation failure).
type ConfigurationError struct {
	Layer string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Layer == "" {
		return "configuration: " + e.Err.Error()
	}
	return fmt.Sprintf("configuration: layer %q: %v", e.Layer, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

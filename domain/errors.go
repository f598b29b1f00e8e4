package domain

import (
	"errors"
	"fmt"
)

// ValidationError is returned when caller input is rejected before any state changes
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError wraps err as a validation failure of field
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

// IsValidation reports whether err is, or wraps, a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ErrorKind classifies a language-model failure
type ErrorKind string

const (
	KindAuth       ErrorKind = "AUTH"
	KindNotEnabled ErrorKind = "NOT_ENABLED"
	KindQuota      ErrorKind = "QUOTA"
	KindParse      ErrorKind = "PARSE"
	KindUnknown    ErrorKind = "UNKNOWN"
)

// RequiresNewKey reports whether the user must supply a different API key
func (k ErrorKind) RequiresNewKey() bool {
	return k == KindAuth || k == KindNotEnabled
}

// GatewayError is a classified failure of one language-model operation
type GatewayError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s failed: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// KindOf returns the classification carried by err, or KindUnknown
func KindOf(err error) ErrorKind {
	var g *GatewayError
	if errors.As(err, &g) {
		return g.Kind
	}
	return KindUnknown
}

// ErrNoAPIKey is returned by the gateway when no key has been configured yet
var ErrNoAPIKey = errors.New("no API key configured")

// ErrSessionClosed is returned for commands sent to a session that has ended
var ErrSessionClosed = errors.New("session closed")

// ErrSessionNotFound is returned by the registry for unknown session ids
var ErrSessionNotFound = errors.New("session not found")

package chat

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error category surfaced to the UI layer.
type Code string

const (
	CodeUnknown       Code = "UNKNOWN"
	CodeNetwork       Code = "NETWORK_FAILURE"
	CodeNotFound      Code = "NOT_FOUND"
	CodeValidation    Code = "VALIDATION_FAILURE"
	CodeTransportDown Code = "TRANSPORT_DISCONNECTED"
)

// Error carries a code, the failing operation, and the underlying cause.
// No error is fatal to the session; callers keep their caches intact.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an Error.
func E(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the code from err, or CodeUnknown.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnknown
}

// Retryable reports whether the UI may offer a retry for err.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeNetwork, CodeTransportDown:
		return true
	}
	return false
}

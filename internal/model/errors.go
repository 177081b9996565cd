package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable error taxonomy shared by every subsystem and
// surfaced verbatim at the transport edge.
type ErrorKind string

const (
	EBadInput            ErrorKind = "E_BadInput"
	EInsufficientHistory ErrorKind = "E_InsufficientHistory"
	ENoSignal            ErrorKind = "E_NoSignal"
	EVeto                ErrorKind = "E_Veto"
	EOversize            ErrorKind = "E_Oversize"
	EStale               ErrorKind = "E_Stale"
	ECancelled           ErrorKind = "E_Cancelled"
	EUpstream            ErrorKind = "E_Upstream"
	EConfig              ErrorKind = "E_Config"
	EInternal            ErrorKind = "E_Internal"
)

// Error carries a kind, a human-readable message and optional details
// (e.g. the VetoSet for E_Veto, an invariant code for E_Internal).
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	wrapped error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is lets errors.Is match on kind via a bare &Error{Kind: k}.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// Errf builds an Error with a formatted message.
func Errf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around a cause, keeping the chain for errors.Is/As.
func Wrap(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: cause}
}

// WithDetails attaches details and returns the same error.
func (e *Error) WithDetails(d any) *Error {
	e.Details = d
	return e
}

// KindOf extracts the ErrorKind from any error in the chain.
// Unclassified errors map to E_Internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return EInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

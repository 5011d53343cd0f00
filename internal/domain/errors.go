package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide how to react:
// validation and concurrency errors are safe to retry after correcting the
// request, consistency errors require operator intervention.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindConsistency ErrorKind = "consistency"
	KindConcurrency ErrorKind = "concurrency"
	KindExchange    ErrorKind = "exchange"
	KindLedger      ErrorKind = "ledger"
)

// Error is the structured error type used across the engine. Reason always
// carries the concrete amounts/limits involved so a caller can act without
// guessing.
type Error struct {
	Kind   ErrorKind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a structured Error with a formatted reason.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// WrapError attaches an underlying cause to a structured Error.
func WrapError(kind ErrorKind, op, reason string, err error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: err}
}

// IsKind reports whether err (or anything it wraps) is an Error of the
// given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

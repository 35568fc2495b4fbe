package fetch

import (
	"context"
	"errors"
)

// Class is how a fetch failure should be handled.
type Class int

const (
	ClassTransient Class = iota
	ClassFatal
)

// String returns the lowercase name of the class.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel causes a Fetcher may wrap.
var (
	ErrUnauthenticated = errors.New("portal session rejected")
	ErrRateLimited     = errors.New("rate limited")
	ErrMalformedPage   = errors.New("malformed listing page")
)

// Error is a classified fetch failure.
type Error struct {
	Class Class
	Op    string
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: ClassTransient, Op: op, Err: err}
}

// Fatal wraps err as not retryable.
func Fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: ClassFatal, Op: op, Err: err}
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class == ClassFatal
	}
	return errors.Is(err, ErrUnauthenticated)
}

// IsTransient reports whether err is worth retrying. Unclassified errors are
// transient; cancellation is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class == ClassTransient
	}
	return !errors.Is(err, ErrUnauthenticated)
}

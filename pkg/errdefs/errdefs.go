// Package errdefs defines the error kinds shared by the workflow layer and the
// execution engines.
//
// Errors carry a kind that can be tested with [errors.Is]:
//
//	if errors.Is(err, errdefs.ErrConfiguration) { ... }
//
// Configuration, type mismatch and unsupported operation errors are fatal and
// must never be retried. Backend errors wrap the failure reported by the
// underlying engine and keep it in the error chain.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned for invalid arities, unknown algorithm or
	// join names and unsupported persist levels.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrTypeMismatch is returned when conversion inputs are ambiguous or
	// incompatible.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrUnsupported is returned for structural misuse of the API such as
	// multi-output tasks or copying a task.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrBackend is returned for failures surfaced by the backend.
	ErrBackend = errors.New("backend failure")
)

// Error is an error of a specific kind.
type Error struct {
	Kind error
	Msg  string
	Err  error // Optional cause.
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Msg == "" && e.Err == nil:
		return e.Kind.Error()
	case e.Msg == "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Err)
	}
}

// Unwrap returns both the kind and the cause so that errors.Is matches either.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Configurationf returns an [ErrConfiguration] error.
func Configurationf(format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Msg: fmt.Sprintf(format, args...)}
}

// TypeMismatchf returns an [ErrTypeMismatch] error.
func TypeMismatchf(format string, args ...any) error {
	return &Error{Kind: ErrTypeMismatch, Msg: fmt.Sprintf(format, args...)}
}

// Unsupportedf returns an [ErrUnsupported] error.
func Unsupportedf(format string, args ...any) error {
	return &Error{Kind: ErrUnsupported, Msg: fmt.Sprintf(format, args...)}
}

// Backend wraps err as an [ErrBackend] error. Backend returns nil if err is
// nil and returns err unchanged if it already carries one of the kinds defined
// in this package.
func Backend(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsFatal(err) || errors.Is(err, ErrBackend) {
		return err
	}
	return &Error{Kind: ErrBackend, Msg: op, Err: err}
}

// IsFatal reports whether err is a configuration, type mismatch or unsupported
// operation error.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrTypeMismatch) ||
		errors.Is(err, ErrUnsupported)
}

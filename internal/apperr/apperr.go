// Package apperr defines the error taxonomy shared by every learngraph
// component. Errors carry a Kind (what class of failure happened) and a
// stable Code (which failure). Sentinels are compared by Code, so a wrapped
// error still satisfies errors.Is against the sentinel it was built from.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers deciding how to react.
type Kind string

const (
	// Structural errors reject a graph mutation. State is unchanged.
	Structural Kind = "structural"
	// Dependency errors come from collaborators (content generation, storage).
	Dependency Kind = "dependency"
	// State errors report an operation against an entity in the wrong state.
	State Kind = "state"
	// Data errors report malformed caller input.
	Data Kind = "data"
	// Internal is the zero classification for foreign errors.
	Internal Kind = "internal"
)

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New returns a sentinel error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap derives an error from sentinel with a formatted message. The returned
// error matches sentinel under errors.Is and keeps its kind.
func Wrap(sentinel *Error, format string, args ...any) *Error {
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: fmt.Sprintf("%s: %s", sentinel.Message, fmt.Sprintf(format, args...)),
	}
}

// WithCause is like Wrap but records cause as the underlying error.
func WithCause(sentinel *Error, cause error, format string, args ...any) *Error {
	e := Wrap(sentinel, format, args...)
	e.Err = cause
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

package activities

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("activities: not found")
	ErrPrecondition = errors.New("activities: precondition failed")
	ErrPersistence  = errors.New("activities: persistence failure")
	ErrNotification = errors.New("activities: notification failure")
	ErrConflict     = errors.New("activities: concurrent update")
	ErrForbidden    = errors.New("activities: not permitted")
)

// Error is returned by every workflow operation. It unwraps to exactly one
// of the sentinel kinds above; the store fault that caused it is kept for
// logging and is not reachable through errors.Is/As.
type Error struct {
	Op     string
	Kind   error
	Reason string

	cause error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Kind }

// Cause returns the underlying fault, if any.
func (e *Error) Cause() error { return e.cause }

// Succeeded is the boolean view of an operation result.
func Succeeded(err error) bool { return err == nil }

// Reason extracts the caller-facing reason string from err.
func Reason(err error) string {
	var werr *Error
	if errors.As(err, &werr) {
		if werr.Reason != "" {
			return werr.Reason
		}
		return werr.Kind.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func fail(op string, kind error, reason string) *Error {
	return &Error{Op: op, Kind: kind, Reason: reason}
}

// classify turns an arbitrary error raised inside a transaction into an
// *Error. Errors that are already classified pass through untouched.
func classify(op string, err error, reason string) *Error {
	var werr *Error
	if errors.As(err, &werr) {
		return werr
	}
	kind := ErrPersistence
	switch {
	case errors.Is(err, ErrNotFound):
		kind = ErrNotFound
	case errors.Is(err, ErrConflict):
		kind = ErrConflict
	case errors.Is(err, ErrNotification):
		kind = ErrNotification
	case errors.Is(err, ErrPrecondition):
		kind = ErrPrecondition
	case errors.Is(err, ErrForbidden):
		kind = ErrForbidden
	}
	return &Error{Op: op, Kind: kind, Reason: reason, cause: err}
}

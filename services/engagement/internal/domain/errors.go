package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error leaving the engagement layer matches exactly one
// of these with errors.Is.
var (
	ErrAuthRequired = errors.New("authentication required")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrStorage      = errors.New("storage error")
)

// Error pairs a kind with a caller facing message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

// Errorf builds an *Error of the given kind.
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps an unexpected backend failure. The cause stays in the chain
// for logging.
func Storage(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// Message returns the caller facing message of err.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	for _, kind := range []error{ErrAuthRequired, ErrValidation, ErrForbidden, ErrNotFound} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "internal error"
}

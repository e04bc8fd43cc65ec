package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient signals a network/timeout/5xx failure worth retrying.
	ErrTransient = errors.New("transient external failure")
	// ErrRateLimited signals a source-reported 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotFound signals that the source reports no such item.
	ErrNotFound = errors.New("not found")
	// ErrValidation signals malformed caller input.
	ErrValidation = errors.New("validation failed")
	// ErrDimensionMismatch signals a chunk/vector count or width mismatch.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrSchema signals a missing or incompatible vector-store schema.
	ErrSchema = errors.New("schema error")
	// ErrLexicalUnsupported signals that the backend has no keyword
	// search path to fall back to.
	ErrLexicalUnsupported = errors.New("lexical search not supported by backend")
)

// NewValidation wraps a message with ErrValidation.
func NewValidation(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrValidation)
}

// ExternalSourceError is the terminal failure of a connector call after
// resilience wrapping is exhausted. Callers can distinguish "source
// unavailable" from "bad query" via the wrapped sentinel.
type ExternalSourceError struct {
	Source  string
	Message string
	Err     error
}

func (e *ExternalSourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Message)
}

func (e *ExternalSourceError) Unwrap() error { return e.Err }

// NewExternalSourceError creates an ExternalSourceError.
func NewExternalSourceError(source, message string, err error) error {
	return &ExternalSourceError{Source: source, Message: message, Err: err}
}

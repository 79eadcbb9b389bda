package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by the typed errors below.
var (
	ErrInvalidQuery  = errors.New("invalid query")
	ErrInvalidID     = errors.New("invalid movie id")
	ErrMovieNotFound = errors.New("movie not found")
	ErrNotIndexed    = errors.New("movie not indexed")
	ErrDimension     = errors.New("embedding dimension mismatch")
)

// ValidationError wraps a sentinel with the offending caller input.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// NotFoundError reports an id absent from the catalog (ErrMovieNotFound) or
// from the vector index (ErrNotIndexed).
type NotFoundError struct {
	ID      string
	Wrapped error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", e.Wrapped, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Wrapped }

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(id string, wrapped error) *NotFoundError {
	return &NotFoundError{ID: id, Wrapped: wrapped}
}

// ProviderError is a failure of an upstream service (embeddings or vector index).
// Detail returns a message that is safe to hand back to API callers.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Detail omits the wrapped upstream message, which may echo request content.
func (e *ProviderError) Detail() string {
	return fmt.Sprintf("%s %s failed", e.Provider, e.Op)
}

// NewProviderError creates a ProviderError. A nil err yields nil.
func NewProviderError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AsProvider returns the ProviderError in err's chain, if any.
func AsProvider(err error) (*ProviderError, bool) {
	var pe *ProviderError
	ok := errors.As(err, &pe)
	return pe, ok
}

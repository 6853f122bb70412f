package store

import (
	"errors"
	"fmt"
)

// NotFoundError indicates the resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a malformed argument, filter or option.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// UnavailableError indicates a connectivity or timeout failure talking to the
// backend. It is the only retryable error in the taxonomy; retry policy
// belongs to the caller.
type UnavailableError struct {
	Backend string
	Cause   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable: %v", e.Backend, e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

// EmbeddingError indicates no embedding could be produced by any configured
// model. It only surfaces when the caller demands an embedding; optional
// embedding paths degrade instead.
type EmbeddingError struct {
	Model string
	Cause error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed (model %s): %v", e.Model, e.Cause)
}

func (e *EmbeddingError) Unwrap() error { return e.Cause }

// ErrHybridUnsupported is returned by Backend.HybridSearch on adapters that
// have no native vector+keyword primitive. The facade falls back to a
// semantic search unioned with a keyword filter.
var ErrHybridUnsupported = errors.New("hybrid search not supported by this backend")

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsUnavailable reports whether err is retryable.
func IsUnavailable(err error) bool {
	var ua *UnavailableError
	return errors.As(err, &ua)
}

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

var (
	ErrWorkerPanic      = fmt.Errorf("worker panic")
	ErrBusClosed        = fmt.Errorf("event bus closed")
	ErrNotFound         = fmt.Errorf("not found")
	ErrConflict         = fmt.Errorf("write conflict")
	ErrUnavailable      = fmt.Errorf("store unavailable")
	ErrMissingOperation = fmt.Errorf("no operation attached to context")
	ErrEmptyWords       = fmt.Errorf("no words have been found")
)

// Category is the client-visible class of a store failure.
type Category string

const (
	NotFound    Category = "NOT_FOUND"
	Conflict    Category = "CONFLICT"
	Unavailable Category = "UNAVAILABLE"
)

func (c Category) sentinel() error {
	switch c {
	case NotFound:
		return ErrNotFound
	case Conflict:
		return ErrConflict
	default:
		return ErrUnavailable
	}
}

// FieldViolation names one rejected input field and the rule it broke.
type FieldViolation struct {
	Field string
	Rule  string
}

// ValidationError rejects an operation before it has any side effect.
type ValidationError struct {
	Violations []FieldViolation
}

func NewValidationError(violations ...FieldViolation) *ValidationError {
	return &ValidationError{Violations: violations}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Rule))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// StoreError wraps a persistence failure. Err keeps the engine detail for logs,
// Category is all a caller gets to see.
type StoreError struct {
	Category Category
	Op       string
	Err      error
}

func NewStoreError(category Category, op string, err error) *StoreError {
	return &StoreError{Category: category, Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Category, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is lets callers match a StoreError against ErrNotFound, ErrConflict or ErrUnavailable.
func (e *StoreError) Is(target error) bool {
	return target == e.Category.sentinel()
}

// CategoryOf returns the store category carried by err, if any.
func CategoryOf(err error) (Category, bool) {
	var storeErr *StoreError
	if stderrors.As(err, &storeErr) {
		return storeErr.Category, true
	}
	return "", false
}

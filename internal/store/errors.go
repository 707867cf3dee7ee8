package store

import (
	"errors"
	"fmt"
)

// StoreError is the common envelope for all errors returned by this
// package; Op names the failing operation. Mirrors the teacher's
// EventStoreError (pkg/dcb/errors.go).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *StoreError) Unwrap() error { return e.Err }

// ValidationError is InvalidInput in spec §7: empty batch, missing
// type, malformed tag. Never retryable.
type ValidationError struct {
	StoreError
	Field string
	Value string
}

// ConcurrencyError is ConcurrencyConflict in spec §7: the append guard
// matched an event written since the caller's cursor. Carries enough to
// let the caller re-read and retry.
type ConcurrencyError struct {
	StoreError
	FailIfEventsMatch Query
	AfterCursor       Cursor
}

// ResourceError is TransientStorageError in spec §7: connection loss,
// deadlock, timeout. Retryable with backoff by the caller.
type ResourceError struct {
	StoreError
	Resource string
}

func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsConcurrencyError(err error) bool {
	var e *ConcurrencyError
	return errors.As(err, &e)
}

func IsResourceError(err error) bool {
	var e *ResourceError
	return errors.As(err, &e)
}

func AsConcurrencyError(err error) (*ConcurrencyError, bool) {
	var e *ConcurrencyError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func newValidationError(op, field, value string, err error) error {
	return &ValidationError{
		StoreError: StoreError{Op: op, Err: err},
		Field:      field,
		Value:      value,
	}
}

func newResourceError(op, resource string, err error) error {
	return &ResourceError{
		StoreError: StoreError{Op: op, Err: err},
		Resource:   resource,
	}
}

func newConcurrencyError(op string, q Query, after Cursor, err error) error {
	return &ConcurrencyError{
		StoreError:        StoreError{Op: op, Err: err},
		FailIfEventsMatch: q,
		AfterCursor:       after,
	}
}

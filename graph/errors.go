package graph

import (
	"errors"
	"fmt"
)

// Common graph store errors.
var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID is returned when creating an entity whose id already exists.
	ErrDuplicateID = errors.New("duplicate id")
)

// StoreError wraps a backend failure so callers can distinguish storage
// faults from domain errors.
type StoreError struct {
	Op  string
	err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// NewStoreError wraps a backend error with the failing operation name.
func NewStoreError(op string, err error) error {
	return &StoreError{Op: op, err: err}
}

// IsStoreError returns true if the error originated in a storage backend.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// UnknownRelTypeError is returned when a relationship names a vocabulary
// type that does not exist and expansion is disabled.
type UnknownRelTypeError struct {
	RelType string
}

func (e *UnknownRelTypeError) Error() string {
	return fmt.Sprintf("unknown relationship type: %s", e.RelType)
}

// IsUnknownRelType returns true if the error is an unknown vocabulary type.
func IsUnknownRelType(err error) bool {
	var ue *UnknownRelTypeError
	return errors.As(err, &ue)
}

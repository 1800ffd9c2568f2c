package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced uniformly at the core boundary. Callers match with
// errors.Is; the API layer translates each kind to a distinct HTTP status.
var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidScore      = errors.New("score must be between 0 and 10")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidState      = errors.New("invalid state")
	ErrNotFound          = errors.New("not found")
	ErrSandbox           = errors.New("sandbox error")
	ErrStorage           = errors.New("storage error")
)

// NotFoundError carries the entity kind and id that could not be resolved.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError that matches ErrNotFound under errors.Is.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// StorageError wraps a backend failure so it aborts the enclosing
// transaction and surfaces as retriable.
func StorageError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

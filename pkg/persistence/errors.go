// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"

	"github.com/labflow/labflow/pkg/models"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrEntityNotFound indicates no entity exists for the given kind and id.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrEntityAlreadyExists indicates an entity with the same kind and id
	// already exists.
	ErrEntityAlreadyExists = errors.New("entity already exists")

	// ErrStatusWriteDenied indicates a save attempted to change an entity's
	// status outside the transition executor's unit of work.
	ErrStatusWriteDenied = errors.New("status writes must go through the transition executor")

	// ErrDuplicateOpenAlert indicates a second open alert was attempted for
	// the same (kind, object, state) key.
	ErrDuplicateOpenAlert = errors.New("open alert already exists for this key")

	// ErrAlertNotFound indicates no alert exists for the given identifier.
	ErrAlertNotFound = errors.New("alert not found")
)

// EntityError wraps entity-related storage errors with operation context.
type EntityError struct {
	Op       string      // Operation being performed (e.g., "GetByID", "Save")
	Kind     models.Kind // Entity kind
	ObjectID string      // Entity ID if applicable
	Err      error       // Underlying error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Kind, e.ObjectID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEntityError creates a new entity error with context.
func NewEntityError(op string, kind models.Kind, objectID string, err error) *EntityError {
	return &EntityError{Op: op, Kind: kind, ObjectID: objectID, Err: err}
}

// IsEntityNotFound checks if an error indicates a missing entity.
func IsEntityNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}

// IsStatusWriteDenied checks if an error indicates a blocked status write.
func IsStatusWriteDenied(err error) bool {
	return errors.Is(err, ErrStatusWriteDenied)
}

// IsDuplicateOpenAlert checks if an error indicates an alert upsert race.
func IsDuplicateOpenAlert(err error) bool {
	return errors.Is(err, ErrDuplicateOpenAlert)
}

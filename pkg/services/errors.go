package services

import (
	"errors"
	"fmt"

	"github.com/labflow/labflow/pkg/models"
	"github.com/labflow/labflow/pkg/persistence"
	"github.com/labflow/labflow/pkg/rules"
)

// The service layer re-exports the sentinels its collaborators raise so that
// callers can classify failures without importing every inner package.
var (
	ErrInvalidTransition = rules.ErrInvalidTransition
	ErrTerminalState     = rules.ErrTerminalState
	ErrConfiguration     = rules.ErrConfiguration
	ErrNotFound          = persistence.ErrEntityNotFound

	// ErrPermissionDenied indicates the actor's role set does not include any
	// role allowed to perform the requested transition.
	ErrPermissionDenied = errors.New("permission denied")
)

// TransitionError carries the object and attempted transition pair alongside
// the underlying failure.
type TransitionError struct {
	Kind     models.Kind
	ObjectID string
	From     string
	To       string
	Err      error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: transition %q -> %q: %v", e.Kind, e.ObjectID, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// PermissionError carries the denied transition alongside the role
// requirement that was not met.
type PermissionError struct {
	Kind     models.Kind
	From     string
	To       string
	Actor    string
	Required []models.Role
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("actor %q may not perform %s transition %q -> %q, requires one of %v",
		e.Actor, e.Kind, e.From, e.To, e.Required)
}

func (e *PermissionError) Unwrap() error {
	return ErrPermissionDenied
}

// LaboratoryScopeError reports a role set applied outside the laboratory it
// was resolved for: the request's laboratory scope does not match the
// laboratory owning the entity.
type LaboratoryScopeError struct {
	Kind         models.Kind
	ObjectID     string
	Actor        string
	ScopeID      string
	LaboratoryID string
}

func (e *LaboratoryScopeError) Error() string {
	return fmt.Sprintf("actor %q holds roles for laboratory %q but %s %s belongs to laboratory %q",
		e.Actor, e.ScopeID, e.Kind, e.ObjectID, e.LaboratoryID)
}

func (e *LaboratoryScopeError) Unwrap() error {
	return ErrPermissionDenied
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsTerminalState(err error) bool {
	return errors.Is(err, ErrTerminalState)
}

func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, persistence.ErrStatusWriteDenied)
}

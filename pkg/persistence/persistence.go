// Package persistence provides the data storage abstraction for entities,
// the transition audit trail, and SLA alerts.
package persistence

import (
	"context"
	"time"

	"github.com/labflow/labflow/pkg/models"
)

// Persistence is the storage root. Status writes and audit appends are only
// reachable through WithEntityLock, and alert creation/resolution only
// through WithAlertLock; there is no public status setter anywhere else.
type Persistence interface {
	Entities() EntityRepository
	Transitions() TransitionRepository
	Alerts() AlertRepository

	// WithEntityLock runs fn inside an exclusive critical section scoped to
	// one entity. Concurrent calls for the same (kind, objectID) serialize;
	// calls for different entities do not block each other.
	WithEntityLock(ctx context.Context, kind models.Kind, objectID string, fn func(TransitionStore) error) error

	// WithAlertLock runs fn inside an exclusive critical section scoped to
	// the (kind, objectID, state) alert key, so read-before-write upserts
	// cannot race into duplicate open alerts.
	WithAlertLock(ctx context.Context, kind models.Kind, objectID, state string, fn func(AlertStore) error) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// EntityRepository reads and saves workflowable entities. Save carries the
// write guard: a save that would change the stored status is rejected with
// ErrStatusWriteDenied.
type EntityRepository interface {
	GetByID(ctx context.Context, kind models.Kind, objectID string) (*models.Entity, error)
	ListByKind(ctx context.Context, kind models.Kind, laboratoryID string) ([]*models.Entity, error)
	Create(ctx context.Context, entity *models.Entity) error
	Save(ctx context.Context, entity *models.Entity) error
}

// TransitionRepository reads the append-only audit trail. Appending happens
// exclusively through TransitionStore.ApplyTransition.
type TransitionRepository interface {
	ListByObject(ctx context.Context, kind models.Kind, objectID string) ([]*models.TransitionRecord, error)

	// LatestEntry returns the newest record for the object whose ToStatus
	// equals toStatus, or nil when no such record exists.
	LatestEntry(ctx context.Context, kind models.Kind, objectID, toStatus string) (*models.TransitionRecord, error)
}

// AlertRepository reads SLA alert records.
type AlertRepository interface {
	ListOpen(ctx context.Context, laboratoryID string) ([]*models.AlertRecord, error)
	ListByObject(ctx context.Context, kind models.Kind, objectID string) ([]*models.AlertRecord, error)
}

// TransitionStore is the view handed to the executor inside an entity lock.
// ApplyTransition writes the new status and appends exactly one audit record
// as a single all-or-nothing unit, filling the record's ID and CreatedAt
// when unset.
type TransitionStore interface {
	Entity() (*models.Entity, error)
	ApplyTransition(toStatus string, record *models.TransitionRecord) error
}

// AlertStore is the view handed to the SLA engine inside an alert-key lock.
type AlertStore interface {
	// Open returns the open alert for the locked key, or nil.
	Open() (*models.AlertRecord, error)

	// Create inserts a new open alert for the locked key. Creating a second
	// open alert for the same key fails with ErrDuplicateOpenAlert.
	Create(alert *models.AlertRecord) error

	// ResolveOpen closes the open alert for the locked key, setting its
	// resolution time and duration (clamped to zero or more). It returns the
	// resolved record, or nil when no alert was open.
	ResolveOpen(now time.Time) (*models.AlertRecord, error)
}

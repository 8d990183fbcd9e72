package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/labflow/labflow/pkg/models"
	"github.com/labflow/labflow/pkg/persistence"
)

// txTransitionStore is the entity-locked view handed to the executor. The
// entity row is selected FOR UPDATE when the store is created, so the
// read-decide-write sequence cannot interleave with another writer.
type txTransitionStore struct {
	tx       *sql.Tx
	ctx      context.Context
	kind     models.Kind
	objectID string
	entity   *models.Entity
}

func (s *txTransitionStore) lock(ctx context.Context) error {
	s.ctx = ctx

	query := `SELECT ` + entityColumns + ` FROM entities WHERE kind = $1 AND id = $2 FOR UPDATE`

	entity, err := scanEntity(s.tx.QueryRowContext(ctx, query, s.kind, s.objectID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewEntityError("Lock", s.kind, s.objectID, persistence.ErrEntityNotFound)
		}

		return fmt.Errorf("failed to lock entity: %w", err)
	}

	s.entity = entity

	return nil
}

func (s *txTransitionStore) Entity() (*models.Entity, error) {
	entity := *s.entity

	return &entity, nil
}

func (s *txTransitionStore) ApplyTransition(toStatus string, record *models.TransitionRecord) error {
	now := time.Now().UTC()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	_, err := s.tx.ExecContext(s.ctx,
		`UPDATE entities SET status = $3, updated_at = $4 WHERE kind = $1 AND id = $2`,
		s.kind, s.objectID, toStatus, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}

	_, err = s.tx.ExecContext(s.ctx, `
		INSERT INTO transition_records
			(id, kind, object_id, from_status, to_status, performed_by, actor_role, comment, forced, laboratory_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		record.ID, record.Kind, record.ObjectID, record.FromStatus, record.ToStatus,
		record.PerformedBy, record.ActorRole, record.Comment, record.Forced,
		record.LaboratoryID, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append transition record: %w", err)
	}

	s.entity.Status = toStatus
	s.entity.UpdatedAt = record.CreatedAt

	return nil
}

// txAlertStore is the alert-key-locked view handed to the SLA engine.
type txAlertStore struct {
	tx       *sql.Tx
	ctx      context.Context
	kind     models.Kind
	objectID string
	state    string
}

func (s *txAlertStore) Open() (*models.AlertRecord, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alert_records
		WHERE kind = $1 AND object_id = $2 AND state = $3 AND resolved_at IS NULL
		FOR UPDATE
	`

	alert, err := scanAlert(s.tx.QueryRowContext(s.ctx, query, s.kind, s.objectID, s.state))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read open alert: %w", err)
	}

	return alert, nil
}

func (s *txAlertStore) Create(alert *models.AlertRecord) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}

	if alert.TriggeredAt.IsZero() {
		alert.TriggeredAt = time.Now().UTC()
	}

	alert.Kind = s.kind
	alert.ObjectID = s.objectID
	alert.State = s.state

	_, err := s.tx.ExecContext(s.ctx, `
		INSERT INTO alert_records
			(id, kind, object_id, state, severity, threshold_seconds, duration_seconds, triggered_at, resolved_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9)
	`,
		alert.ID, alert.Kind, alert.ObjectID, alert.State, alert.Severity,
		alert.ThresholdSeconds, alert.DurationSeconds, alert.TriggeredAt, alert.CreatedBy,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.ErrDuplicateOpenAlert
		}

		return fmt.Errorf("failed to insert alert: %w", err)
	}

	return nil
}

func (s *txAlertStore) ResolveOpen(now time.Time) (*models.AlertRecord, error) {
	alert, err := s.Open()
	if err != nil {
		return nil, err
	}

	if alert == nil {
		return nil, nil
	}

	resolved := now.UTC()

	duration := int64(resolved.Sub(alert.TriggeredAt).Seconds())
	if duration < 0 {
		duration = 0
	}

	_, err = s.tx.ExecContext(s.ctx,
		`UPDATE alert_records SET resolved_at = $2, duration_seconds = $3 WHERE id = $1`,
		alert.ID, resolved, duration,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}

	alert.ResolvedAt = &resolved
	alert.DurationSeconds = duration

	return alert, nil
}

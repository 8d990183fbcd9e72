package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/labflow/labflow/pkg/models"
)

// TransitionRepository reads the append-only audit trail.
type TransitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTransitionRepository creates a new transition repository.
func NewTransitionRepository(db *sql.DB, logger *slog.Logger) *TransitionRepository {
	return &TransitionRepository{db: db, logger: logger}
}

const transitionColumns = `
	id
  , kind
  , object_id
  , from_status
  , to_status
  , performed_by
  , actor_role
  , comment
  , forced
  , laboratory_id
  , created_at
`

func scanTransition(row rowScanner) (*models.TransitionRecord, error) {
	var record models.TransitionRecord

	err := row.Scan(
		&record.ID,
		&record.Kind,
		&record.ObjectID,
		&record.FromStatus,
		&record.ToStatus,
		&record.PerformedBy,
		&record.ActorRole,
		&record.Comment,
		&record.Forced,
		&record.LaboratoryID,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// ListByObject returns the audit trail for one entity, oldest first.
func (r *TransitionRepository) ListByObject(ctx context.Context, kind models.Kind, objectID string) ([]*models.TransitionRecord, error) {
	query := `
		SELECT ` + transitionColumns + `
		FROM transition_records
		WHERE kind = $1 AND object_id = $2
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, kind, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transition records: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records := make([]*models.TransitionRecord, 0)

	for rows.Next() {
		record, err := scanTransition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition record: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transition records: %w", err)
	}

	return records, nil
}

// LatestEntry returns the newest record whose to_status matches, or nil.
func (r *TransitionRepository) LatestEntry(ctx context.Context, kind models.Kind, objectID, toStatus string) (*models.TransitionRecord, error) {
	query := `
		SELECT ` + transitionColumns + `
		FROM transition_records
		WHERE kind = $1 AND object_id = $2 AND to_status = $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	record, err := scanTransition(r.db.QueryRowContext(ctx, query, kind, objectID, toStatus))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan transition record: %w", err)
	}

	return record, nil
}

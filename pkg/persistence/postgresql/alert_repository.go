package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/labflow/labflow/pkg/models"
)

// AlertRepository reads SLA alert records.
type AlertRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAlertRepository creates a new alert repository.
func NewAlertRepository(db *sql.DB, logger *slog.Logger) *AlertRepository {
	return &AlertRepository{db: db, logger: logger}
}

const alertColumns = `
	id
  , kind
  , object_id
  , state
  , severity
  , threshold_seconds
  , duration_seconds
  , triggered_at
  , resolved_at
  , created_by
`

func scanAlert(row rowScanner) (*models.AlertRecord, error) {
	var alert models.AlertRecord
	var resolvedAt sql.NullTime

	err := row.Scan(
		&alert.ID,
		&alert.Kind,
		&alert.ObjectID,
		&alert.State,
		&alert.Severity,
		&alert.ThresholdSeconds,
		&alert.DurationSeconds,
		&alert.TriggeredAt,
		&resolvedAt,
		&alert.CreatedBy,
	)
	if err != nil {
		return nil, err
	}

	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}

	return &alert, nil
}

func (r *AlertRepository) queryAlerts(ctx context.Context, query string, args ...any) ([]*models.AlertRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	alerts := make([]*models.AlertRecord, 0)

	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}

	return alerts, nil
}

// ListOpen returns all open alerts, optionally scoped to one laboratory
// through the owning entity.
func (r *AlertRepository) ListOpen(ctx context.Context, laboratoryID string) ([]*models.AlertRecord, error) {
	if laboratoryID == "" {
		query := `
			SELECT ` + alertColumns + `
			FROM alert_records
			WHERE resolved_at IS NULL
			ORDER BY triggered_at
		`

		return r.queryAlerts(ctx, query)
	}

	query := `
		SELECT
			a.id
		  , a.kind
		  , a.object_id
		  , a.state
		  , a.severity
		  , a.threshold_seconds
		  , a.duration_seconds
		  , a.triggered_at
		  , a.resolved_at
		  , a.created_by
		FROM alert_records a
		JOIN entities e ON e.kind = a.kind AND e.id = a.object_id
		WHERE a.resolved_at IS NULL AND e.laboratory_id = $1
		ORDER BY a.triggered_at
	`

	return r.queryAlerts(ctx, query, laboratoryID)
}

// ListByObject returns every alert ever raised for one entity.
func (r *AlertRepository) ListByObject(ctx context.Context, kind models.Kind, objectID string) ([]*models.AlertRecord, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alert_records
		WHERE kind = $1 AND object_id = $2
		ORDER BY triggered_at
	`

	return r.queryAlerts(ctx, query, kind, objectID)
}

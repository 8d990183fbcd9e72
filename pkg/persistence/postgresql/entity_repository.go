package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/labflow/labflow/pkg/models"
	"github.com/labflow/labflow/pkg/persistence"
)

const uniqueViolation = "23505"

// EntityRepository handles entity reads and guarded saves.
type EntityRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEntityRepository creates a new entity repository.
func NewEntityRepository(db *sql.DB, logger *slog.Logger) *EntityRepository {
	return &EntityRepository{db: db, logger: logger}
}

const entityColumns = `
	id
  , kind
  , status
  , laboratory_id
  , name
  , metadata
  , created_at
  , updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var entity models.Entity
	var metadata []byte

	err := row.Scan(
		&entity.ID,
		&entity.Kind,
		&entity.Status,
		&entity.LaboratoryID,
		&entity.Name,
		&metadata,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entity.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity metadata: %w", err)
		}
	}

	return &entity, nil
}

// GetByID returns one entity, or ErrEntityNotFound.
func (r *EntityRepository) GetByID(ctx context.Context, kind models.Kind, objectID string) (*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE kind = $1 AND id = $2`

	entity, err := scanEntity(r.db.QueryRowContext(ctx, query, kind, objectID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("GetByID", kind, objectID, persistence.ErrEntityNotFound)
		}

		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	return entity, nil
}

// ListByKind returns entities of one kind, optionally scoped to a laboratory.
func (r *EntityRepository) ListByKind(ctx context.Context, kind models.Kind, laboratoryID string) ([]*models.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE kind = $1`
	args := []any{kind}

	if laboratoryID != "" {
		query += ` AND laboratory_id = $2`
		args = append(args, laboratoryID)
	}

	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entities := make([]*models.Entity, 0)

	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}

		entities = append(entities, entity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}

// Create inserts a new entity with its initial status.
func (r *EntityRepository) Create(ctx context.Context, entity *models.Entity) error {
	now := time.Now().UTC()

	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}

	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = entity.CreatedAt
	}

	metadata, err := json.Marshal(entity.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal entity metadata: %w", err)
	}

	query := `
		INSERT INTO entities (id, kind, status, laboratory_id, name, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		entity.ID, entity.Kind, entity.Status, entity.LaboratoryID,
		entity.Name, metadata, entity.CreatedAt, entity.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewEntityError("Create", entity.Kind, entity.ID, persistence.ErrEntityAlreadyExists)
		}

		return fmt.Errorf("failed to insert entity: %w", err)
	}

	return nil
}

// Save updates non-status fields. The status column is deliberately absent
// from the UPDATE; a save carrying a changed status is rejected up front so
// callers hear about the misuse instead of silently losing the write.
func (r *EntityRepository) Save(ctx context.Context, entity *models.Entity) error {
	stored, err := r.GetByID(ctx, entity.Kind, entity.ID)
	if err != nil {
		return err
	}

	if entity.Status != stored.Status {
		return persistence.NewEntityError("Save", entity.Kind, entity.ID, persistence.ErrStatusWriteDenied)
	}

	metadata, err := json.Marshal(entity.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal entity metadata: %w", err)
	}

	query := `
		UPDATE entities
		SET laboratory_id = $3, name = $4, metadata = $5, updated_at = $6
		WHERE kind = $1 AND id = $2
	`

	_, err = r.db.ExecContext(ctx, query,
		entity.Kind, entity.ID, entity.LaboratoryID, entity.Name, metadata, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}

	return nil
}

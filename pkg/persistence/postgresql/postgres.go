// Package postgresql provides the PostgreSQL persistence implementation for
// entities, the transition audit trail, and SLA alerts.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver
	"github.com/labflow/labflow/pkg/models"
	"github.com/labflow/labflow/pkg/persistence"
	"github.com/labflow/labflow/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	entityRepo     *EntityRepository
	transitionRepo *TransitionRepository
	alertRepo      *AlertRepository
}

// NewPersistence connects, migrates, and returns a PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:             database,
		logger:         logger,
		entityRepo:     NewEntityRepository(database, logger),
		transitionRepo: NewTransitionRepository(database, logger),
		alertRepo:      NewAlertRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Entities() persistence.EntityRepository {
	return p.entityRepo
}

func (p *Persistence) Transitions() persistence.TransitionRepository {
	return p.transitionRepo
}

func (p *Persistence) Alerts() persistence.AlertRepository {
	return p.alertRepo
}

// WithEntityLock opens a transaction, takes a row-level exclusive lock on the
// entity, and runs fn against a transaction-scoped store. The lock holds the
// read-decide-write sequence together; concurrent executors against the same
// entity serialize on it.
func (p *Persistence) WithEntityLock(ctx context.Context, kind models.Kind, objectID string, fn func(persistence.TransitionStore) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin entity transaction: %w", err)
	}

	store := &txTransitionStore{tx: tx, kind: kind, objectID: objectID}

	if err := store.lock(ctx); err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := fn(store); err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entity transaction: %w", err)
	}

	return nil
}

// WithAlertLock serializes alert upserts per (kind, object, state) using a
// transaction-scoped advisory lock. The partial unique index on open alerts
// is the backstop should two sessions ever race past it.
func (p *Persistence) WithAlertLock(ctx context.Context, kind models.Kind, objectID, state string, fn func(persistence.AlertStore) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin alert transaction: %w", err)
	}

	lockKey := fmt.Sprintf("labflow:alert:%s:%s:%s", kind, objectID, state)

	_, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", lockKey)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to acquire alert lock: %w", err)
	}

	store := &txAlertStore{tx: tx, ctx: ctx, kind: kind, objectID: objectID, state: state}

	if err := fn(store); err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alert transaction: %w", err)
	}

	return nil
}

package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/labflow/labflow/pkg/models"
	"github.com/labflow/labflow/pkg/persistence"
	"github.com/labflow/labflow/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"alert_records", "transition_records", "entities", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("labflow_test"),
			postgres.WithUsername("labflow"),
			postgres.WithPassword("labflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx
}

func createSample(ctx context.Context, t *testing.T, p *postgresql.Persistence, id string) {
	t.Helper()

	require.NoError(t, p.Entities().Create(ctx, &models.Entity{
		ID:           id,
		Kind:         models.KindSample,
		Status:       "REGISTERED",
		LaboratoryID: "lab-1",
		Name:         "sample " + id,
		Metadata:     map[string]any{"source": "intake"},
	}))
}

func TestEntityRepository_RoundTrip(t *testing.T) {
	p, ctx := setupTestDB(t)

	createSample(ctx, t, p, "s-1")

	entity, err := p.Entities().GetByID(ctx, models.KindSample, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "REGISTERED", entity.Status)
	assert.Equal(t, "intake", entity.Metadata["source"])

	_, err = p.Entities().GetByID(ctx, models.KindSample, "missing")
	assert.True(t, persistence.IsEntityNotFound(err))
}

func TestEntityRepository_SaveRejectsStatusChange(t *testing.T) {
	p, ctx := setupTestDB(t)

	createSample(ctx, t, p, "s-1")

	entity, err := p.Entities().GetByID(ctx, models.KindSample, "s-1")
	require.NoError(t, err)

	entity.Status = "ARCHIVED"
	err = p.Entities().Save(ctx, entity)
	assert.True(t, persistence.IsStatusWriteDenied(err))

	stored, err := p.Entities().GetByID(ctx, models.KindSample, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "REGISTERED", stored.Status)
}

func TestWithEntityLock_TransitionRoundTrip(t *testing.T) {
	p, ctx := setupTestDB(t)

	createSample(ctx, t, p, "s-1")

	err := p.WithEntityLock(ctx, models.KindSample, "s-1", func(store persistence.TransitionStore) error {
		entity, err := store.Entity()
		require.NoError(t, err)
		require.Equal(t, "REGISTERED", entity.Status)

		return store.ApplyTransition("QC_PENDING", &models.TransitionRecord{
			Kind:         models.KindSample,
			ObjectID:     "s-1",
			FromStatus:   "REGISTERED",
			ToStatus:     "QC_PENDING",
			PerformedBy:  "tech-1",
			ActorRole:    models.RoleLabTech,
			LaboratoryID: "lab-1",
		})
	})
	require.NoError(t, err)

	entity, err := p.Entities().GetByID(ctx, models.KindSample, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "QC_PENDING", entity.Status)

	records, err := p.Transitions().ListByObject(ctx, models.KindSample, "s-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "QC_PENDING", records[0].ToStatus)

	latest, err := p.Transitions().LatestEntry(ctx, models.KindSample, "s-1", "QC_PENDING")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, records[0].ID, latest.ID)
}

func TestWithEntityLock_RollsBackOnError(t *testing.T) {
	p, ctx := setupTestDB(t)

	createSample(ctx, t, p, "s-1")

	err := p.WithEntityLock(ctx, models.KindSample, "s-1", func(store persistence.TransitionStore) error {
		if err := store.ApplyTransition("QC_PENDING", &models.TransitionRecord{
			Kind: models.KindSample, ObjectID: "s-1", FromStatus: "REGISTERED", ToStatus: "QC_PENDING",
		}); err != nil {
			return err
		}

		return assert.AnError
	})
	require.Error(t, err)

	// Neither the status write nor the audit append survived.
	entity, err := p.Entities().GetByID(ctx, models.KindSample, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "REGISTERED", entity.Status)

	records, err := p.Transitions().ListByObject(ctx, models.KindSample, "s-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestWithAlertLock_UpsertIsIdempotent(t *testing.T) {
	p, ctx := setupTestDB(t)

	createSample(ctx, t, p, "s-1")

	upsert := func() error {
		return p.WithAlertLock(ctx, models.KindSample, "s-1", "REGISTERED", func(store persistence.AlertStore) error {
			existing, err := store.Open()
			if err != nil {
				return err
			}

			if existing != nil {
				return nil
			}

			return store.Create(&models.AlertRecord{
				Severity:         "high",
				ThresholdSeconds: 3600,
				CreatedBy:        "scanner",
			})
		})
	}

	require.NoError(t, upsert())
	require.NoError(t, upsert())

	open, err := p.Alerts().ListOpen(ctx, "lab-1")
	require.NoError(t, err)
	require.Len(t, open, 1)

	err = p.WithAlertLock(ctx, models.KindSample, "s-1", "REGISTERED", func(store persistence.AlertStore) error {
		resolved, err := store.ResolveOpen(time.Now())
		require.NoError(t, err)
		require.NotNil(t, resolved)

		return nil
	})
	require.NoError(t, err)

	open, err = p.Alerts().ListOpen(ctx, "lab-1")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestWithAlertLock_DuplicateCreateHitsUniqueIndex(t *testing.T) {
	p, ctx := setupTestDB(t)

	createSample(ctx, t, p, "s-1")

	err := p.WithAlertLock(ctx, models.KindSample, "s-1", "REGISTERED", func(store persistence.AlertStore) error {
		return store.Create(&models.AlertRecord{})
	})
	require.NoError(t, err)

	err = p.WithAlertLock(ctx, models.KindSample, "s-1", "REGISTERED", func(store persistence.AlertStore) error {
		return store.Create(&models.AlertRecord{})
	})
	assert.True(t, persistence.IsDuplicateOpenAlert(err))
}

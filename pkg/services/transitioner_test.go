package services_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/labflow/labflow/pkg/channels/gochannel"
	"github.com/labflow/labflow/pkg/eventbus"
	"github.com/labflow/labflow/pkg/events"
	"github.com/labflow/labflow/pkg/models"
	"github.com/labflow/labflow/pkg/persistence/memory"
	"github.com/labflow/labflow/pkg/rules"
	"github.com/labflow/labflow/pkg/services"
	"github.com/labflow/labflow/pkg/sla"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRules(t *testing.T) *rules.Table {
	t.Helper()

	table, err := rules.DefaultTable()
	require.NoError(t, err)

	return table
}

func testSLATable(t *testing.T) *sla.Table {
	t.Helper()

	table, err := sla.DefaultTable()
	require.NoError(t, err)

	return table
}

func seedEntity(t *testing.T, p *memory.Persistence, kind models.Kind, id, status, lab string, createdAt time.Time) {
	t.Helper()

	require.NoError(t, p.Entities().Create(context.Background(), &models.Entity{
		ID:           id,
		Kind:         kind,
		Status:       status,
		LaboratoryID: lab,
		CreatedAt:    createdAt,
	}))
}

func newTransitioner(t *testing.T, p *memory.Persistence) *services.Transitioner {
	t.Helper()

	return services.NewTransitioner(p, testRules(t), nil, nil, testLogger())
}

func TestExecuteLegalTransition(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	seedEntity(t, p, models.KindSample, "s-1", "REGISTERED", "lab-1", time.Now().UTC())

	transitioner := newTransitioner(t, p)

	result, err := transitioner.Execute(ctx, services.TransitionRequest{
		Kind:         models.KindSample,
		ObjectID:     "s-1",
		TargetStatus: "QC_PENDING",
		Actor:        "alice",
		ActorRoles:   []models.Role{models.RoleLabTech},
		Comment:      "received at intake",
	})
	require.NoError(t, err)
	assert.Equal(t, "REGISTERED", result.FromStatus)
	assert.Equal(t, "QC_PENDING", result.ToStatus)
	assert.False(t, result.Forced)
	assert.NotEmpty(t, result.Record.ID)

	entity, err := p.Entities().GetByID(ctx, models.KindSample, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "QC_PENDING", entity.Status)

	records, err := p.Transitions().ListByObject(ctx, models.KindSample, "s-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "REGISTERED", records[0].FromStatus)
	assert.Equal(t, "QC_PENDING", records[0].ToStatus)
	assert.Equal(t, "alice", records[0].PerformedBy)
	assert.Equal(t, models.RoleLabTech, records[0].ActorRole)
	assert.Equal(t, "lab-1", records[0].LaboratoryID)
	assert.False(t, records[0].Forced)
}

func TestExecuteInvalidTransition(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	seedEntity(t, p, models.KindSample, "s-1", "REGISTERED", "lab-1", time.Now().UTC())

	transitioner := newTransitioner(t, p)

	_, err := transitioner.Execute(ctx, services.TransitionRequest{
		Kind:         models.KindSample,
		ObjectID:     "s-1",
		TargetStatus: "ANALYZED",
		Actor:        "alice",
		ActorRoles:   []models.Role{models.RoleLabTech},
	})
	require.Error(t, err)
	assert.True(t, services.IsInvalidTransition(err))

	entity, err := p.Entities().GetByID(ctx, models.KindSample, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "REGISTERED", entity.Status)

	records, err := p.Transitions().ListByObject(ctx, models.KindSample, "s-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestExecuteTerminalState(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	seedEntity(t, p, models.KindSample, "s-1", "DISPOSED", "lab-1", time.Now().UTC())

	transitioner := newTransitioner(t, p)

	_, err := transitioner.Execute(ctx, services.TransitionRequest{
		Kind:         models.KindSample,
		ObjectID:     "s-1",
		TargetStatus: "REGISTERED",
		Actor:        "alice",
		ActorRoles:   []models.Role{models.RoleLabManager},
	})
	require.Error(t, err)
	assert.True(t, services.IsTerminalState(err))
}

func TestExecuteEntityNotFound(t *testing.T) {
	transitioner := newTransitioner(t, memory.NewPersistence())

	_, err := transitioner.Execute(context.Background(), services.TransitionRequest{
		Kind:         models.KindSample,
		ObjectID:     "missing",
		TargetStatus: "QC_PENDING",
		Actor:        "alice",
		ActorRoles:   []models.Role{models.RoleLabTech},
	})
	require.Error(t, err)
	assert.True(t, services.IsNotFound(err))
}

func TestExecuteRoleRequirements(t *testing.T) {
	// QC verdicts on a pending sample are restricted to QA; ADMIN passes any
	// role gate; LAB_TECH has no legal move out of QC_PENDING.
	cases := []struct {
		name    string
		roles   []models.Role
		allowed bool
	}{
		{name: "lab tech denied", roles: []models.Role{models.RoleLabTech}, allowed: false},
		{name: "qa allowed", roles: []models.Role{models.RoleQA}, allowed: true},
		{name: "admin allowed", roles: []models.Role{models.RoleAdmin}, allowed: true},
		{name: "no roles denied", roles: nil, allowed: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			p := memory.NewPersistence()
			seedEntity(t, p, models.KindSample, "s-1", "QC_PENDING", "lab-1", time.Now().UTC())

			transitioner := newTransitioner(t, p)

			_, err := transitioner.Execute(ctx, services.TransitionRequest{
				Kind:         models.KindSample,
				ObjectID:     "s-1",
				TargetStatus: "QC_PASSED",
				Actor:        "alice",
				ActorRoles:   tc.roles,
			})

			if tc.allowed {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.True(t, services.IsPermissionDenied(err))

			records, listErr := p.Transitions().ListByObject(ctx, models.KindSample, "s-1")
			require.NoError(t, listErr)
			assert.Empty(t, records)
		})
	}
}

func TestExecuteForcedByAdmin(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	seedEntity(t, p, models.KindSample, "s-1", "QC_PENDING", "lab-1", time.Now().UTC())

	transitioner := newTransitioner(t, p)

	result, err := transitioner.Execute(ctx, services.TransitionRequest{
		Kind:         models.KindSample,
		ObjectID:     "s-1",
		TargetStatus: "ARCHIVED",
		Actor:        "root",
		ActorRoles:   []models.Role{models.RoleAdmin},
		Comment:      "contamination incident",
		Force:        true,
	})
	require.NoError(t, err)
	assert.True(t, result.Forced)

	records, err := p.Transitions().ListByObject(ctx, models.KindSample, "s-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Forced)
	assert.True(t, strings.HasPrefix(records[0].Comment, "[forced]"))
	assert.Contains(t, records[0].Comment, "contamination incident")
	assert.Equal(t, models.RoleAdmin, records[0].ActorRole)
}

func TestExecuteForceIgnoredForNonAdmin(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	seedEntity(t, p, models.KindSample, "s-1", "QC_PENDING", "lab-1", time.Now().UTC())

	transitioner := newTransitioner(t, p)

	_, err := transitioner.Execute(ctx, services.TransitionRequest{
		Kind:         models.KindSample,
		ObjectID:     "s-1",
		TargetStatus: "ARCHIVED",
		Actor:        "alice",
		ActorRoles:   []models.Role{models.RoleLabManager},
		Force:        true,
	})
	require.Error(t, err)
	assert.True(t, services.IsInvalidTransition(err))
}

func TestExecuteForcedTargetMustBeDeclared(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	seedEntity(t, p, models.KindSample, "s-1", "QC_PENDING", "lab-1", time.Now().UTC())

	transitioner := newTransitioner(t, p)

	_, err := transitioner.Execute(ctx, services.TransitionRequest{
		Kind:         models.KindSample,
		ObjectID:     "s-1",
		TargetStatus: "TELEPORTED",
		Actor:        "root",
		ActorRoles:   []models.Role{models.RoleAdmin},
		Force:        true,
	})
	require.Error(t, err)
	assert.True(t, services.IsInvalidTransition(err))
}

func TestExecuteResolvesAlertForPreviousState(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	now := time.Now().UTC()
	seedEntity(t, p, models.KindSample, "s-1", "REGISTERED", "lab-1", now.Add(-26*time.Hour))

	slaService := services.NewSLAService(p, testSLATable(t), nil, nil, testLogger())
	require.NoError(t, slaService.EvaluateEntity(ctx, &models.Entity{
		ID: "s-1", Kind: models.KindSample, Status: "REGISTERED", LaboratoryID: "lab-1",
		CreatedAt: now.Add(-26 * time.Hour),
	}, now, "scanner"))

	open, err := p.Alerts().ListOpen(ctx, "lab-1")
	require.NoError(t, err)
	require.Len(t, open, 1)

	transitioner := services.NewTransitioner(p, testRules(t), slaService, nil, testLogger())

	_, err = transitioner.Execute(ctx, services.TransitionRequest{
		Kind:         models.KindSample,
		ObjectID:     "s-1",
		TargetStatus: "QC_PENDING",
		Actor:        "alice",
		ActorRoles:   []models.Role{models.RoleLabTech},
	})
	require.NoError(t, err)

	open, err = p.Alerts().ListOpen(ctx, "lab-1")
	require.NoError(t, err)
	assert.Empty(t, open)

	alerts, err := p.Alerts().ListByObject(ctx, models.KindSample, "s-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.NotNil(t, alerts[0].ResolvedAt)
	assert.GreaterOrEqual(t, alerts[0].DurationSeconds, int64(0))
}

func TestExecutePublishesTransitionEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	var (
		mu       sync.Mutex
		received *events.EntityTransitioned
	)

	require.NoError(t, bus.Handle(events.EntityTransitionedEvent, func(_ context.Context, event any) error {
		mu.Lock()
		defer mu.Unlock()
		received = event.(*events.EntityTransitioned)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	p := memory.NewPersistence()
	seedEntity(t, p, models.KindSample, "s-1", "REGISTERED", "lab-1", time.Now().UTC())

	transitioner := services.NewTransitioner(p, testRules(t), nil, bus, testLogger())

	_, err = transitioner.Execute(ctx, services.TransitionRequest{
		Kind:         models.KindSample,
		ObjectID:     "s-1",
		TargetStatus: "QC_PENDING",
		Actor:        "alice",
		ActorRoles:   []models.Role{models.RoleLabTech},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return received != nil
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "REGISTERED", received.FromStatus)
	assert.Equal(t, "QC_PENDING", received.ToStatus)
	assert.Equal(t, "alice", received.PerformedBy)
	assert.Equal(t, "lab-1", received.LaboratoryID)
	assert.NotEmpty(t, received.RecordID)
}

func TestExecuteConcurrentSingleWinner(t *testing.T) {
	// Two racing executors against the same sample: exactly one may apply
	// QC_PENDING -> QC_PASSED; the loser revalidates against the committed
	// status and fails.
	ctx := context.Background()
	p := memory.NewPersistence()
	seedEntity(t, p, models.KindSample, "s-1", "QC_PENDING", "lab-1", time.Now().UTC())

	transitioner := newTransitioner(t, p)

	const attempts = 8

	errs := make(chan error, attempts)

	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := transitioner.Execute(ctx, services.TransitionRequest{
				Kind:         models.KindSample,
				ObjectID:     "s-1",
				TargetStatus: "QC_PASSED",
				Actor:        "qa-bot",
				ActorRoles:   []models.Role{models.RoleQA},
			})
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	succeeded := 0

	for err := range errs {
		if err == nil {
			succeeded++

			continue
		}

		assert.True(t, services.IsInvalidTransition(err))
	}

	assert.Equal(t, 1, succeeded)

	records, err := p.Transitions().ListByObject(ctx, models.KindSample, "s-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

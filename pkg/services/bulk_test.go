package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/labflow/labflow/pkg/models"
	"github.com/labflow/labflow/pkg/persistence/memory"
	"github.com/labflow/labflow/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBulkTransitioner(t *testing.T, p *memory.Persistence) *services.BulkTransitioner {
	t.Helper()

	return services.NewBulkTransitioner(newTransitioner(t, p), testLogger())
}

func TestExecuteBulkPartitionsResults(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	now := time.Now().UTC()

	seedEntity(t, p, models.KindSample, "s-1", "REGISTERED", "lab-1", now)
	seedEntity(t, p, models.KindSample, "s-2", "REGISTERED", "lab-1", now)
	seedEntity(t, p, models.KindSample, "s-3", "DISPOSED", "lab-1", now)

	bulk := newBulkTransitioner(t, p)

	result, err := bulk.ExecuteBulk(ctx, services.BulkRequest{
		Kind:         models.KindSample,
		ObjectIDs:    []string{"s-1", "s-2", "s-3", "missing"},
		TargetStatus: "QC_PENDING",
		Actor:        "alice",
		ActorRoles:   []models.Role{models.RoleLabTech},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"s-1", "s-2"}, result.Succeeded)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, "s-3", result.Failed[0].ObjectID)
	assert.NotEmpty(t, result.Failed[0].Reason)
	assert.Equal(t, "missing", result.Failed[1].ObjectID)

	// Exactly one record per committed item, none for failed ones.
	for _, id := range result.Succeeded {
		records, err := p.Transitions().ListByObject(ctx, models.KindSample, id)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	}

	records, err := p.Transitions().ListByObject(ctx, models.KindSample, "s-3")
	require.NoError(t, err)
	assert.Empty(t, records)

	entity, err := p.Entities().GetByID(ctx, models.KindSample, "s-3")
	require.NoError(t, err)
	assert.Equal(t, "DISPOSED", entity.Status)
}

func TestExecuteBulkAdminForcesIllegalItems(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	now := time.Now().UTC()

	seedEntity(t, p, models.KindSample, "s-1", "REGISTERED", "lab-1", now)
	seedEntity(t, p, models.KindSample, "s-2", "IN_ANALYSIS", "lab-1", now)

	bulk := newBulkTransitioner(t, p)

	result, err := bulk.ExecuteBulk(ctx, services.BulkRequest{
		Kind:         models.KindSample,
		ObjectIDs:    []string{"s-1", "s-2"},
		TargetStatus: "DISPOSED",
		Actor:        "root",
		ActorRoles:   []models.Role{models.RoleAdmin},
		Comment:      "spill cleanup",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"s-1", "s-2"}, result.Succeeded)
	assert.Empty(t, result.Failed)

	// REGISTERED -> DISPOSED is legal, IN_ANALYSIS -> DISPOSED is not; the
	// admin batch applies both, marking only the illegal one forced.
	records, err := p.Transitions().ListByObject(ctx, models.KindSample, "s-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Forced)

	records, err = p.Transitions().ListByObject(ctx, models.KindSample, "s-2")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Forced)
	assert.Contains(t, records[0].Comment, "[forced]")
}

func TestExecuteBulkRejectsEntitiesOutsideLaboratoryScope(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	now := time.Now().UTC()

	seedEntity(t, p, models.KindSample, "s-1", "QC_PENDING", "lab-1", now)
	seedEntity(t, p, models.KindSample, "x-1", "QC_PENDING", "lab-2", now)

	bulk := newBulkTransitioner(t, p)

	// The QA grant was resolved for lab-1; the lab-2 sample must fail closed
	// even though the transition itself would be legal for QA.
	result, err := bulk.ExecuteBulk(ctx, services.BulkRequest{
		Kind:         models.KindSample,
		ObjectIDs:    []string{"s-1", "x-1"},
		TargetStatus: "QC_PASSED",
		Actor:        "carol",
		ActorRoles:   []models.Role{models.RoleQA},
		LaboratoryID: "lab-1",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"s-1"}, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "x-1", result.Failed[0].ObjectID)
	assert.Contains(t, result.Failed[0].Reason, "lab-2")

	entity, err := p.Entities().GetByID(ctx, models.KindSample, "x-1")
	require.NoError(t, err)
	assert.Equal(t, "QC_PENDING", entity.Status)

	records, err := p.Transitions().ListByObject(ctx, models.KindSample, "x-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestExecuteBulkAdminForceStopsAtLaboratoryScope(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	now := time.Now().UTC()

	seedEntity(t, p, models.KindSample, "x-1", "IN_ANALYSIS", "lab-2", now)

	bulk := newBulkTransitioner(t, p)

	// ADMIN in lab-1 forces illegal transitions there, but the scope gate
	// runs before the force fallback: lab-2 entities stay untouched.
	result, err := bulk.ExecuteBulk(ctx, services.BulkRequest{
		Kind:         models.KindSample,
		ObjectIDs:    []string{"x-1"},
		TargetStatus: "DISPOSED",
		Actor:        "root",
		ActorRoles:   []models.Role{models.RoleAdmin},
		LaboratoryID: "lab-1",
	})
	require.NoError(t, err)

	assert.Empty(t, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Contains(t, result.Failed[0].Reason, "laboratory")

	// The same scoped request through the executor classifies as a
	// permission failure, not an invalid transition.
	_, err = newTransitioner(t, p).Execute(ctx, services.TransitionRequest{
		Kind:         models.KindSample,
		ObjectID:     "x-1",
		TargetStatus: "DISPOSED",
		Actor:        "root",
		ActorRoles:   []models.Role{models.RoleAdmin},
		LaboratoryID: "lab-1",
		Force:        true,
	})
	assert.True(t, services.IsPermissionDenied(err))

	entity, err := p.Entities().GetByID(ctx, models.KindSample, "x-1")
	require.NoError(t, err)
	assert.Equal(t, "IN_ANALYSIS", entity.Status)
}

func TestExecuteBulkPermissionFailuresRecorded(t *testing.T) {
	ctx := context.Background()
	p := memory.NewPersistence()
	now := time.Now().UTC()

	seedEntity(t, p, models.KindSample, "s-1", "QC_PENDING", "lab-1", now)
	seedEntity(t, p, models.KindSample, "s-2", "QC_PENDING", "lab-1", now)

	bulk := newBulkTransitioner(t, p)

	result, err := bulk.ExecuteBulk(ctx, services.BulkRequest{
		Kind:         models.KindSample,
		ObjectIDs:    []string{"s-1", "s-2"},
		TargetStatus: "QC_PASSED",
		Actor:        "alice",
		ActorRoles:   []models.Role{models.RoleLabTech},
	})
	require.NoError(t, err)

	assert.Empty(t, result.Succeeded)
	require.Len(t, result.Failed, 2)

	for _, failure := range result.Failed {
		records, err := p.Transitions().ListByObject(ctx, models.KindSample, failure.ObjectID)
		require.NoError(t, err)
		assert.Empty(t, records)
	}
}

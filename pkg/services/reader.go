package services

import (
	"context"

	"github.com/labflow/labflow/pkg/models"
	"github.com/labflow/labflow/pkg/persistence"
	"github.com/labflow/labflow/pkg/rules"
)

// WorkflowReader serves the read-only workflow surface: entity lookup,
// role-filtered next states, and the audit trail. It never mutates anything.
type WorkflowReader struct {
	persistence persistence.Persistence
	rules       *rules.Table
}

func NewWorkflowReader(p persistence.Persistence, table *rules.Table) *WorkflowReader {
	return &WorkflowReader{persistence: p, rules: table}
}

// Get returns the entity by kind and id.
func (r *WorkflowReader) Get(ctx context.Context, kind models.Kind, objectID string) (*models.Entity, error) {
	return r.persistence.Entities().GetByID(ctx, kind, objectID)
}

// AllowedNextStates returns the target statuses the actor may transition the
// entity into from its current status: the rule table's legal targets, minus
// those whose role requirement the actor does not meet. A terminal status
// yields an empty slice.
func (r *WorkflowReader) AllowedNextStates(ctx context.Context, kind models.Kind, objectID string, actorRoles []models.Role) ([]string, error) {
	entity, err := r.persistence.Entities().GetByID(ctx, kind, objectID)
	if err != nil {
		return nil, err
	}

	next, err := r.rules.AllowedNextStates(kind, entity.Status)
	if err != nil {
		return nil, err
	}

	allowed := make([]string, 0, len(next))

	for _, target := range next {
		required, err := r.rules.RequiredRoles(kind, entity.Status, target)
		if err != nil {
			return nil, err
		}

		if len(required) == 0 || hasAnyRole(actorRoles, required) {
			allowed = append(allowed, target)
		}
	}

	return allowed, nil
}

// History returns the entity's full audit trail in chronological order.
func (r *WorkflowReader) History(ctx context.Context, kind models.Kind, objectID string) ([]*models.TransitionRecord, error) {
	if _, err := r.persistence.Entities().GetByID(ctx, kind, objectID); err != nil {
		return nil, err
	}

	return r.persistence.Transitions().ListByObject(ctx, kind, objectID)
}

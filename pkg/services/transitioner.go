// Package services implements the workflow engine's business operations on
// top of the persistence, rules, and sla packages: the transition executor,
// the bulk executor, the read-only workflow reader, and the SLA service.
package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labflow/labflow/pkg/eventbus"
	"github.com/labflow/labflow/pkg/events"
	"github.com/labflow/labflow/pkg/models"
	"github.com/labflow/labflow/pkg/otelhelper"
	"github.com/labflow/labflow/pkg/persistence"
	"github.com/labflow/labflow/pkg/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// forcedCommentPrefix marks forced transitions in the human-readable audit
// comment, in addition to the record's Forced flag.
const forcedCommentPrefix = "[forced]"

// TransitionRequest describes one requested status change. ActorRoles is the
// verified role set the caller resolved for the actor in the entity's
// laboratory; an empty set fails closed on role-restricted transitions.
type TransitionRequest struct {
	Kind         models.Kind
	ObjectID     string
	TargetStatus string
	Actor        string
	ActorRoles   []models.Role
	Comment      string

	// LaboratoryID, when set, names the laboratory the role set was resolved
	// for. An entity owned by a different laboratory fails closed before any
	// other gate, so a role grant in one laboratory never carries over to
	// another. Single transitions resolve roles against the entity's own
	// laboratory and leave this empty; bulk requests set it from the batch
	// scope.
	LaboratoryID string

	// Force lets the transition through when the legality gate rejects it,
	// marking the audit record as forced. It is honored only when ActorRoles
	// contains ADMIN; for anyone else it is ignored. A transition that passes
	// validation on its own commits unforced even when Force is set.
	Force bool
}

// TransitionResult reports a committed transition.
type TransitionResult struct {
	Kind       models.Kind              `json:"kind"`
	ObjectID   string                   `json:"object_id"`
	FromStatus string                   `json:"from_status"`
	ToStatus   string                   `json:"to_status"`
	Forced     bool                     `json:"forced,omitempty"`
	Record     *models.TransitionRecord `json:"record"`
}

// Transitioner is the single authoritative transition executor. Every status
// change, single or bulk, live or forced, goes through Execute; nothing else
// in the system writes entity statuses.
type Transitioner struct {
	persistence persistence.Persistence
	rules       *rules.Table
	sla         *SLAService
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewTransitioner wires the executor. slaService and eventBus are optional;
// when nil the corresponding post-commit hook is skipped.
func NewTransitioner(
	p persistence.Persistence,
	table *rules.Table,
	slaService *SLAService,
	eventBus eventbus.EventPublisher,
	logger *slog.Logger,
) *Transitioner {
	return &Transitioner{
		persistence: p,
		rules:       table,
		sla:         slaService,
		eventBus:    eventBus,
		logger:      logger.With("module", "transitioner"),
		tracer:      otel.Tracer("labflow/transitioner"),
	}
}

// Execute validates and applies one transition inside the entity's exclusive
// critical section. The current status is read, validated, and written under
// the same lock, so concurrent executions serialize and the loser revalidates
// against the winner's committed status. The status write and the audit
// record append commit as one atomic unit.
//
// Gates, in order: entity lookup, laboratory scope (when the request carries
// one), legality against the rule table (terminal states first), then role
// membership. An ADMIN actor passes every role gate;
// an ADMIN actor with Force set additionally bypasses the legality gate, and
// the audit record is marked forced.
func (t *Transitioner) Execute(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, t.tracer, "workflow.transition",
		attribute.String(otelhelper.KindKey, string(req.Kind)),
		attribute.String(otelhelper.ObjectIDKey, req.ObjectID),
		attribute.String(otelhelper.ToStatusKey, req.TargetStatus),
		attribute.String(otelhelper.ActorKey, req.Actor),
	)
	defer span.End()

	canForce := req.Force && models.IsAdmin(req.ActorRoles)

	var (
		entity *models.Entity
		result *TransitionResult
	)

	err := t.persistence.WithEntityLock(ctx, req.Kind, req.ObjectID, func(store persistence.TransitionStore) error {
		current, err := store.Entity()
		if err != nil {
			return err
		}

		entity = current
		from := current.Status

		if req.LaboratoryID != "" && current.LaboratoryID != req.LaboratoryID {
			return &LaboratoryScopeError{
				Kind:         req.Kind,
				ObjectID:     req.ObjectID,
				Actor:        req.Actor,
				ScopeID:      req.LaboratoryID,
				LaboratoryID: current.LaboratoryID,
			}
		}

		required, forced, err := t.validate(req, from, canForce)
		if err != nil {
			return &TransitionError{Kind: req.Kind, ObjectID: req.ObjectID, From: from, To: req.TargetStatus, Err: err}
		}

		record := &models.TransitionRecord{
			Kind:         req.Kind,
			ObjectID:     req.ObjectID,
			FromStatus:   from,
			ToStatus:     req.TargetStatus,
			PerformedBy:  req.Actor,
			ActorRole:    recordedRole(req.ActorRoles, required),
			Comment:      auditComment(req.Comment, forced),
			Forced:       forced,
			LaboratoryID: current.LaboratoryID,
		}

		if err := store.ApplyTransition(req.TargetStatus, record); err != nil {
			return err
		}

		result = &TransitionResult{
			Kind:       req.Kind,
			ObjectID:   req.ObjectID,
			FromStatus: from,
			ToStatus:   req.TargetStatus,
			Forced:     forced,
			Record:     record,
		}

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.FromStatusKey, result.FromStatus),
		attribute.Bool(otelhelper.ForcedKey, result.Forced),
	)

	t.afterCommit(ctx, entity, result)

	return result, nil
}

// validate runs the legality and role gates and returns the role requirement
// for the transition plus whether the force fallback carried it. Forcing only
// bypasses the legality gate, and only toward a declared state: a made-up
// status never enters the system, forced or not.
func (t *Transitioner) validate(req TransitionRequest, from string, canForce bool) ([]models.Role, bool, error) {
	if err := t.rules.ValidateTransition(req.Kind, from, req.TargetStatus); err != nil {
		if !canForce || (!errors.Is(err, rules.ErrInvalidTransition) && !errors.Is(err, rules.ErrTerminalState)) {
			return nil, false, err
		}

		states, statesErr := t.rules.States(req.Kind)
		if statesErr != nil {
			return nil, false, statesErr
		}

		if !containsState(states, req.TargetStatus) {
			return nil, false, err
		}

		return nil, true, nil
	}

	required, err := t.rules.RequiredRoles(req.Kind, from, req.TargetStatus)
	if err != nil {
		return nil, false, err
	}

	if len(required) > 0 && !hasAnyRole(req.ActorRoles, required) {
		return nil, false, &PermissionError{
			Kind:     req.Kind,
			From:     from,
			To:       req.TargetStatus,
			Actor:    req.Actor,
			Required: required,
		}
	}

	return required, false, nil
}

// afterCommit runs the post-commit hooks: close the open alert for the state
// the entity just left, evaluate the new state, and publish the transition
// event. Hook failures are logged and never surfaced; the transition is
// already committed.
func (t *Transitioner) afterCommit(ctx context.Context, entity *models.Entity, result *TransitionResult) {
	now := time.Now().UTC()

	if t.sla != nil {
		if err := t.sla.ResolveAlertsForState(ctx, entity, result.FromStatus, now); err != nil {
			t.logger.WarnContext(ctx, "Failed to resolve alerts after transition",
				"kind", result.Kind, "object_id", result.ObjectID, "state", result.FromStatus, "error", err)
		}

		entered := *entity
		entered.Status = result.ToStatus

		if err := t.sla.EvaluateEntity(ctx, &entered, now, result.Record.PerformedBy); err != nil {
			t.logger.WarnContext(ctx, "Failed to evaluate SLA after transition",
				"kind", result.Kind, "object_id", result.ObjectID, "state", result.ToStatus, "error", err)
		}
	}

	if t.eventBus != nil {
		event := events.EntityTransitioned{
			BaseEvent: events.BaseEvent{
				ID:           uuid.NewString(),
				Type:         events.EntityTransitionedEvent,
				Timestamp:    now,
				Kind:         result.Kind,
				ObjectID:     result.ObjectID,
				LaboratoryID: entity.LaboratoryID,
			},
			FromStatus:  result.FromStatus,
			ToStatus:    result.ToStatus,
			PerformedBy: result.Record.PerformedBy,
			ActorRole:   string(result.Record.ActorRole),
			Forced:      result.Forced,
			RecordID:    result.Record.ID,
		}

		if err := t.eventBus.Publish(ctx, result.ObjectID, event); err != nil {
			t.logger.WarnContext(ctx, "Failed to publish transition event",
				"kind", result.Kind, "object_id", result.ObjectID, "error", err)
		}
	}
}

func auditComment(comment string, forced bool) string {
	comment = strings.TrimSpace(comment)
	if !forced {
		return comment
	}

	if comment == "" {
		return forcedCommentPrefix
	}

	return forcedCommentPrefix + " " + comment
}

// recordedRole picks the role to stamp on the audit record: the first actor
// role satisfying the requirement, ADMIN when that is what carried the gate,
// otherwise the actor's first role.
func recordedRole(roles, required []models.Role) models.Role {
	for _, want := range required {
		for _, have := range roles {
			if have == want {
				return have
			}
		}
	}

	if models.IsAdmin(roles) {
		return models.RoleAdmin
	}

	if len(roles) > 0 {
		return roles[0]
	}

	return ""
}

func hasAnyRole(roles, required []models.Role) bool {
	for _, want := range required {
		if models.HasRole(roles, want) {
			return true
		}
	}

	return false
}

func containsState(states []string, want string) bool {
	for _, s := range states {
		if s == want {
			return true
		}
	}

	return false
}

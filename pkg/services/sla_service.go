package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labflow/labflow/pkg/eventbus"
	"github.com/labflow/labflow/pkg/events"
	"github.com/labflow/labflow/pkg/models"
	"github.com/labflow/labflow/pkg/persistence"
	"github.com/labflow/labflow/pkg/sla"
)

// AlertSink receives alert lifecycle notifications for external delivery,
// such as the Redis alert stream. Sink failures never block the engine.
type AlertSink interface {
	AlertRaised(ctx context.Context, alert *models.AlertRecord) error
	AlertResolved(ctx context.Context, alert *models.AlertRecord) error
}

// Counts buckets a laboratory's entities of one kind by SLA standing.
type Counts struct {
	OK       int `json:"ok"`
	Warning  int `json:"warning"`
	Breached int `json:"breached"`
	None     int `json:"none"`
}

// SLAService evaluates entities against the SLA threshold table and manages
// the open-alert lifecycle. It is shared by the transition executor's
// post-commit hook, the periodic scanner, and the read-only API surface.
type SLAService struct {
	persistence persistence.Persistence
	table       *sla.Table
	eventBus    eventbus.EventPublisher
	sink        AlertSink
	logger      *slog.Logger
}

// NewSLAService wires the SLA engine. eventBus and sink are optional.
func NewSLAService(
	p persistence.Persistence,
	table *sla.Table,
	eventBus eventbus.EventPublisher,
	sink AlertSink,
	logger *slog.Logger,
) *SLAService {
	return &SLAService{
		persistence: p,
		table:       table,
		eventBus:    eventBus,
		sink:        sink,
		logger:      logger.With("module", "sla"),
	}
}

// stateEntryTime resolves when entity entered its current status: the newest
// audit record whose ToStatus matches, or the entity's creation time when no
// transition ever produced the status.
func (s *SLAService) stateEntryTime(ctx context.Context, entity *models.Entity) (time.Time, error) {
	record, err := s.persistence.Transitions().LatestEntry(ctx, entity.Kind, entity.ID, entity.Status)
	if err != nil {
		return time.Time{}, err
	}

	if record != nil {
		return record.CreatedAt, nil
	}

	return entity.CreatedAt, nil
}

// Status computes the SLA standing of one entity. An unmonitored state
// yields the not-monitored payload. Internal evaluation errors degrade to
// not-monitored rather than failing the read; only a missing entity is
// surfaced.
func (s *SLAService) Status(ctx context.Context, kind models.Kind, objectID string) (*sla.Payload, error) {
	entity, err := s.persistence.Entities().GetByID(ctx, kind, objectID)
	if err != nil {
		return nil, err
	}

	payload := s.evaluate(ctx, entity, time.Now().UTC())

	return &payload, nil
}

func (s *SLAService) evaluate(ctx context.Context, entity *models.Entity, now time.Time) sla.Payload {
	def, ok := s.table.Get(entity.Kind, entity.Status)
	if !ok {
		return sla.NotMonitored()
	}

	enteredAt, err := s.stateEntryTime(ctx, entity)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to resolve state entry time",
			"kind", entity.Kind, "object_id", entity.ID, "state", entity.Status, "error", err)

		return sla.NotMonitored()
	}

	return sla.Evaluate(def, enteredAt, now)
}

// Dashboard buckets every entity of every kind in the laboratory by SLA
// standing. Per-entity evaluation failures count into the none bucket; only
// listing failures are surfaced.
func (s *SLAService) Dashboard(ctx context.Context, laboratoryID string) (map[models.Kind]Counts, error) {
	now := time.Now().UTC()
	dashboard := make(map[models.Kind]Counts, len(models.Kinds()))

	for _, kind := range models.Kinds() {
		entities, err := s.persistence.Entities().ListByKind(ctx, kind, laboratoryID)
		if err != nil {
			return nil, err
		}

		var counts Counts

		for _, entity := range entities {
			switch s.evaluate(ctx, entity, now).Status {
			case sla.StatusOK:
				counts.OK++
			case sla.StatusWarning:
				counts.Warning++
			case sla.StatusBreached:
				counts.Breached++
			default:
				counts.None++
			}
		}

		dashboard[kind] = counts
	}

	return dashboard, nil
}

// EvaluateEntity raises an alert when the entity is overdue in its current
// state. The read-check-create runs under the alert-key lock and is
// idempotent: an already-open alert for the same (kind, object, state) makes
// the call a no-op, so scanner sweeps and executor hooks can overlap freely.
func (s *SLAService) EvaluateEntity(ctx context.Context, entity *models.Entity, now time.Time, createdBy string) error {
	def, ok := s.table.Get(entity.Kind, entity.Status)
	if !ok {
		return nil
	}

	enteredAt, err := s.stateEntryTime(ctx, entity)
	if err != nil {
		return err
	}

	payload := sla.Evaluate(def, enteredAt, now)
	if payload.Status != sla.StatusWarning && payload.Status != sla.StatusBreached {
		return nil
	}

	threshold := def.WarnAfter
	if payload.Status == sla.StatusBreached {
		threshold = def.BreachAfter
	}

	var created *models.AlertRecord

	err = s.persistence.WithAlertLock(ctx, entity.Kind, entity.ID, entity.Status, func(store persistence.AlertStore) error {
		open, err := store.Open()
		if err != nil {
			return err
		}

		if open != nil {
			return nil
		}

		alert := &models.AlertRecord{
			ID:               uuid.NewString(),
			Kind:             entity.Kind,
			ObjectID:         entity.ID,
			State:            entity.Status,
			Severity:         def.Severity,
			ThresholdSeconds: int64(threshold.Seconds()),
			TriggeredAt:      now,
			CreatedBy:        createdBy,
		}

		if err := store.Create(alert); err != nil {
			return err
		}

		created = alert

		return nil
	})
	if err != nil {
		if persistence.IsDuplicateOpenAlert(err) {
			return nil
		}

		return err
	}

	if created != nil {
		s.notifyRaised(ctx, entity, created)
	}

	return nil
}

// ResolveAlertsForState closes the open alert for (entity, state), if any.
// Called by the executor when the entity leaves a state and by the scanner
// when it finds an alert whose state the entity no longer occupies.
func (s *SLAService) ResolveAlertsForState(ctx context.Context, entity *models.Entity, state string, now time.Time) error {
	var resolved *models.AlertRecord

	err := s.persistence.WithAlertLock(ctx, entity.Kind, entity.ID, state, func(store persistence.AlertStore) error {
		record, err := store.ResolveOpen(now)
		if err != nil {
			return err
		}

		resolved = record

		return nil
	})
	if err != nil {
		return err
	}

	if resolved != nil {
		s.notifyResolved(ctx, entity, resolved)
	}

	return nil
}

// ResolveStaleAlerts closes every open alert on entity whose state no longer
// matches the entity's current status.
func (s *SLAService) ResolveStaleAlerts(ctx context.Context, entity *models.Entity, now time.Time) error {
	alerts, err := s.persistence.Alerts().ListByObject(ctx, entity.Kind, entity.ID)
	if err != nil {
		return err
	}

	for _, alert := range alerts {
		if !alert.Open() || alert.State == entity.Status {
			continue
		}

		if err := s.ResolveAlertsForState(ctx, entity, alert.State, now); err != nil {
			return err
		}
	}

	return nil
}

func (s *SLAService) notifyRaised(ctx context.Context, entity *models.Entity, alert *models.AlertRecord) {
	s.logger.WarnContext(ctx, "SLA alert raised",
		"kind", alert.Kind, "object_id", alert.ObjectID, "state", alert.State,
		"severity", alert.Severity, "threshold_seconds", alert.ThresholdSeconds)

	if s.eventBus != nil {
		event := events.SLAAlertRaised{
			BaseEvent: events.BaseEvent{
				ID:           uuid.NewString(),
				Type:         events.SLAAlertRaisedEvent,
				Timestamp:    alert.TriggeredAt,
				Kind:         alert.Kind,
				ObjectID:     alert.ObjectID,
				LaboratoryID: entity.LaboratoryID,
			},
			AlertID:          alert.ID,
			State:            alert.State,
			Severity:         alert.Severity,
			ThresholdSeconds: alert.ThresholdSeconds,
		}

		if err := s.eventBus.Publish(ctx, alert.ObjectID, event); err != nil {
			s.logger.WarnContext(ctx, "Failed to publish alert raised event", "alert_id", alert.ID, "error", err)
		}
	}

	if s.sink != nil {
		if err := s.sink.AlertRaised(ctx, alert); err != nil {
			s.logger.WarnContext(ctx, "Failed to push alert to sink", "alert_id", alert.ID, "error", err)
		}
	}
}

func (s *SLAService) notifyResolved(ctx context.Context, entity *models.Entity, alert *models.AlertRecord) {
	s.logger.InfoContext(ctx, "SLA alert resolved",
		"kind", alert.Kind, "object_id", alert.ObjectID, "state", alert.State,
		"duration_seconds", alert.DurationSeconds)

	if s.eventBus != nil {
		timestamp := alert.TriggeredAt
		if alert.ResolvedAt != nil {
			timestamp = *alert.ResolvedAt
		}

		event := events.SLAAlertResolved{
			BaseEvent: events.BaseEvent{
				ID:           uuid.NewString(),
				Type:         events.SLAAlertResolvedEvent,
				Timestamp:    timestamp,
				Kind:         alert.Kind,
				ObjectID:     alert.ObjectID,
				LaboratoryID: entity.LaboratoryID,
			},
			AlertID:         alert.ID,
			State:           alert.State,
			DurationSeconds: alert.DurationSeconds,
		}

		if err := s.eventBus.Publish(ctx, alert.ObjectID, event); err != nil {
			s.logger.WarnContext(ctx, "Failed to publish alert resolved event", "alert_id", alert.ID, "error", err)
		}
	}

	if s.sink != nil {
		if err := s.sink.AlertResolved(ctx, alert); err != nil {
			s.logger.WarnContext(ctx, "Failed to push alert resolution to sink", "alert_id", alert.ID, "error", err)
		}
	}
}

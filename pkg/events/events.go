// Package events defines event types and structures for workflow and SLA
// lifecycle notifications.
package events

import (
	"time"

	"github.com/labflow/labflow/pkg/models"
)

type EventType string

// Topic carries every engine event.
const Topic = "labflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	EntityTransitionedEvent EventType = "entity.transitioned"
	SLAAlertRaisedEvent     EventType = "sla.alert.raised"
	SLAAlertResolvedEvent   EventType = "sla.alert.resolved"
)

type BaseEvent struct {
	ID           string      `json:"id"`
	Type         EventType   `json:"type"`
	Timestamp    time.Time   `json:"timestamp"`
	Kind         models.Kind `json:"kind"`
	ObjectID     string      `json:"object_id"`
	LaboratoryID string      `json:"laboratory_id,omitempty"`
}

// EntityTransitioned is emitted after every committed status transition.
type EntityTransitioned struct {
	BaseEvent

	FromStatus  string `json:"from_status"`
	ToStatus    string `json:"to_status"`
	PerformedBy string `json:"performed_by"`
	ActorRole   string `json:"actor_role"`
	Forced      bool   `json:"forced,omitempty"`
	RecordID    string `json:"record_id"`
}

func (e EntityTransitioned) GetType() EventType {
	return EntityTransitionedEvent
}

// SLAAlertRaised is emitted when the scanner or a post-transition check
// opens an alert.
type SLAAlertRaised struct {
	BaseEvent

	AlertID          string `json:"alert_id"`
	State            string `json:"state"`
	Severity         string `json:"severity"`
	ThresholdSeconds int64  `json:"threshold_seconds"`
}

func (e SLAAlertRaised) GetType() EventType {
	return SLAAlertRaisedEvent
}

// SLAAlertResolved is emitted when an open alert is closed because the
// entity left the offending state.
type SLAAlertResolved struct {
	BaseEvent

	AlertID         string `json:"alert_id"`
	State           string `json:"state"`
	DurationSeconds int64  `json:"duration_seconds"`
}

func (e SLAAlertResolved) GetType() EventType {
	return SLAAlertResolvedEvent
}

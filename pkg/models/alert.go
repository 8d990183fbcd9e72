package models

import "time"

// AlertRecord marks an SLA violation for one entity in one state. An alert
// with a nil ResolvedAt is open; at most one open alert may exist per
// (kind, object, state).
type AlertRecord struct {
	ID               string     `json:"id"`
	Kind             Kind       `json:"kind"`
	ObjectID         string     `json:"object_id"`
	State            string     `json:"state"`
	Severity         string     `json:"severity"`
	ThresholdSeconds int64      `json:"threshold_seconds"`
	DurationSeconds  int64      `json:"duration_seconds"`
	TriggeredAt      time.Time  `json:"triggered_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	CreatedBy        string     `json:"created_by"`
}

// Open reports whether the alert is still unresolved.
func (a *AlertRecord) Open() bool {
	return a.ResolvedAt == nil
}

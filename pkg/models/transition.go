package models

import "time"

// TransitionRecord is one line of the append-only audit trail. Records are
// never updated or deleted; the newest record whose ToStatus matches an
// entity's current status is the source of truth for when the entity
// entered that status.
type TransitionRecord struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	ObjectID     string    `json:"object_id"`
	FromStatus   string    `json:"from_status"`
	ToStatus     string    `json:"to_status"`
	PerformedBy  string    `json:"performed_by"`
	ActorRole    Role      `json:"actor_role"`
	Comment      string    `json:"comment,omitempty"`
	Forced       bool      `json:"forced,omitempty"`
	LaboratoryID string    `json:"laboratory_id"`
	CreatedAt    time.Time `json:"created_at"`
}

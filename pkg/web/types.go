// Package web provides HTTP request and response types for the workflow API.
package web

// TransitionRequestBody is the request body for a single transition.
type TransitionRequestBody struct {
	TargetStatus string `json:"target_status" validate:"required"`
	Comment      string `json:"comment,omitempty"`
	Force        bool   `json:"force,omitempty"`
}

// BulkTransitionRequestBody is the request body for a bulk transition. The
// laboratory scope determines which role grant governs the whole batch.
type BulkTransitionRequestBody struct {
	ObjectIDs    []string `json:"object_ids"    validate:"required,min=1,dive,required"`
	TargetStatus string   `json:"target_status" validate:"required"`
	LaboratoryID string   `json:"laboratory_id" validate:"required"`
	Comment      string   `json:"comment,omitempty"`
}

// NextStatesResponse lists the transitions the calling actor may perform.
type NextStatesResponse struct {
	Kind          string   `json:"kind"`
	ObjectID      string   `json:"object_id"`
	CurrentStatus string   `json:"current_status"`
	NextStates    []string `json:"next_states"`
}

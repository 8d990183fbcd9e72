// Package models defines the core domain models for the lab workflow engine.
package models

import "time"

// Kind identifies an entity category governed by the workflow engine.
// Each kind has its own state table, role table, and SLA thresholds.
type Kind string

const (
	KindSample     Kind = "sample"
	KindExperiment Kind = "experiment"
)

// Kinds lists every kind known to the engine, in declaration order.
func Kinds() []Kind {
	return []Kind{KindSample, KindExperiment}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSample, KindExperiment:
		return true
	}

	return false
}

// Entity is a workflowable lab object. Status is only ever written through
// the transition executor's unit of work; every other save path keeps the
// stored status untouched.
type Entity struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"          validate:"required"`
	Status       string         `json:"status"        validate:"required"`
	LaboratoryID string         `json:"laboratory_id" validate:"required"`
	Name         string         `json:"name"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

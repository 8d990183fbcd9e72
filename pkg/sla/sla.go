// Package sla defines SLA thresholds per (kind, state) and the pure payload
// computation over them. The package has no storage dependency; resolving
// when an entity entered its state is the caller's job.
package sla

import (
	"errors"
	"fmt"
	"time"

	"github.com/labflow/labflow/pkg/models"
)

// ErrConfiguration indicates an invalid SLA definition set.
var ErrConfiguration = errors.New("sla configuration error")

// Status classifies how an entity is tracking against its SLA.
type Status string

const (
	StatusNone     Status = "none" // state not monitored
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusBreached Status = "breached"
)

// Definition is the SLA threshold for one (kind, state) pair. BreachAfter
// may be zero, meaning the state is tracked for warnings only and never
// reaches breached.
type Definition struct {
	Kind        models.Kind   `json:"kind"`
	State       string        `json:"state"`
	WarnAfter   time.Duration `json:"warn_after"`
	BreachAfter time.Duration `json:"breach_after"`
	Severity    string        `json:"severity"`
}

type tableKey struct {
	kind  models.Kind
	state string
}

// Table is the immutable SLA threshold lookup table.
type Table struct {
	defs map[tableKey]Definition
}

// NewTable builds and validates an SLA table.
func NewTable(defs []Definition) (*Table, error) {
	table := &Table{defs: make(map[tableKey]Definition, len(defs))}

	for _, def := range defs {
		if !def.Kind.Valid() {
			return nil, fmt.Errorf("%w: unknown kind %q", ErrConfiguration, def.Kind)
		}

		if def.State == "" {
			return nil, fmt.Errorf("%w: kind %q definition with empty state", ErrConfiguration, def.Kind)
		}

		if def.WarnAfter <= 0 {
			return nil, fmt.Errorf("%w: %s/%s warn threshold must be positive", ErrConfiguration, def.Kind, def.State)
		}

		if def.BreachAfter != 0 && def.BreachAfter <= def.WarnAfter {
			return nil, fmt.Errorf("%w: %s/%s breach threshold must exceed warn threshold", ErrConfiguration, def.Kind, def.State)
		}

		key := tableKey{kind: def.Kind, state: def.State}
		if _, exists := table.defs[key]; exists {
			return nil, fmt.Errorf("%w: duplicate definition for %s/%s", ErrConfiguration, def.Kind, def.State)
		}

		table.defs[key] = def
	}

	return table, nil
}

// Get returns the definition for (kind, state), if the state is monitored.
func (t *Table) Get(kind models.Kind, state string) (Definition, bool) {
	def, ok := t.defs[tableKey{kind: kind, state: state}]

	return def, ok
}

// Payload is the computed SLA standing of one entity in its current state.
type Payload struct {
	Applies            bool       `json:"applies"`
	Status             Status     `json:"status"`
	Severity           string     `json:"severity,omitempty"`
	EnteredAt          *time.Time `json:"entered_at,omitempty"`
	AgeSeconds         int64      `json:"age_seconds"`
	WarnAfterSeconds   int64      `json:"warn_after_seconds,omitempty"`
	BreachAfterSeconds int64      `json:"breach_after_seconds,omitempty"`
	RemainingSeconds   int64      `json:"remaining_seconds"`
}

// NotMonitored is the payload for states with no SLA definition.
func NotMonitored() Payload {
	return Payload{Applies: false, Status: StatusNone}
}

// Evaluate computes the payload for an entity that entered the monitored
// state at enteredAt. Remaining seconds count down to the breach threshold
// and go negative once breached; with a warn-only definition they stay zero.
func Evaluate(def Definition, enteredAt, now time.Time) Payload {
	age := now.Sub(enteredAt)
	entered := enteredAt

	payload := Payload{
		Applies:            true,
		Status:             StatusOK,
		Severity:           def.Severity,
		EnteredAt:          &entered,
		AgeSeconds:         int64(age.Seconds()),
		WarnAfterSeconds:   int64(def.WarnAfter.Seconds()),
		BreachAfterSeconds: int64(def.BreachAfter.Seconds()),
	}

	if def.BreachAfter > 0 {
		payload.RemainingSeconds = int64((def.BreachAfter - age).Seconds())
	}

	switch {
	case def.BreachAfter > 0 && age >= def.BreachAfter:
		payload.Status = StatusBreached
	case age >= def.WarnAfter:
		payload.Status = StatusWarning
	}

	return payload
}

package sla

import (
	"time"

	"github.com/labflow/labflow/pkg/models"
)

// DefaultDefinitions are the lab's standard turnaround expectations. States
// not listed here are not monitored.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Kind: models.KindSample, State: "REGISTERED", WarnAfter: 12 * time.Hour, BreachAfter: 24 * time.Hour, Severity: "high"},
		{Kind: models.KindSample, State: "QC_PENDING", WarnAfter: 24 * time.Hour, BreachAfter: 48 * time.Hour, Severity: "high"},
		{Kind: models.KindSample, State: "IN_ANALYSIS", WarnAfter: 72 * time.Hour, BreachAfter: 120 * time.Hour, Severity: "medium"},
		{Kind: models.KindExperiment, State: "ACTIVE", WarnAfter: 7 * 24 * time.Hour, BreachAfter: 14 * 24 * time.Hour, Severity: "medium"},
		{Kind: models.KindExperiment, State: "COMPLETED", WarnAfter: 48 * time.Hour, BreachAfter: 96 * time.Hour, Severity: "low"},
	}
}

// DefaultTable builds the built-in SLA table.
func DefaultTable() (*Table, error) {
	return NewTable(DefaultDefinitions())
}

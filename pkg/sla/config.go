package sla

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/labflow/labflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

const definitionsSchema = `{
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"additionalProperties": {
			"type": "object",
			"required": ["warn_after_seconds"],
			"additionalProperties": false,
			"properties": {
				"warn_after_seconds": {"type": "integer", "minimum": 1},
				"breach_after_seconds": {"type": "integer", "minimum": 1},
				"severity": {"type": "string", "minLength": 1}
			}
		}
	}
}`

type definitionConfig struct {
	WarnAfterSeconds   int64  `json:"warn_after_seconds"`
	BreachAfterSeconds int64  `json:"breach_after_seconds"`
	Severity           string `json:"severity"`
}

// LoadFile reads a JSON SLA threshold file, keyed kind -> state ->
// thresholds, validates it against the SLA schema, and builds a table.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading sla file %s: %v", ErrConfiguration, path, err)
	}

	return Load(data)
}

// Load validates and builds a table from raw JSON SLA configuration.
func Load(data []byte) (*Table, error) {
	schemaLoader := gojsonschema.NewStringLoader(definitionsSchema)
	dataLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return nil, fmt.Errorf("%w: validating sla config: %v", ErrConfiguration, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return nil, fmt.Errorf("%w: sla schema violations: %s", ErrConfiguration, strings.Join(details, "; "))
	}

	var config map[string]map[string]definitionConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: parsing sla config: %v", ErrConfiguration, err)
	}

	defs := make([]Definition, 0, len(config))

	for rawKind, states := range config {
		for state, dc := range states {
			defs = append(defs, Definition{
				Kind:        models.Kind(rawKind),
				State:       state,
				WarnAfter:   time.Duration(dc.WarnAfterSeconds) * time.Second,
				BreachAfter: time.Duration(dc.BreachAfterSeconds) * time.Second,
				Severity:    dc.Severity,
			})
		}
	}

	return NewTable(defs)
}

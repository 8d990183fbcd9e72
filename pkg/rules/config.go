package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// specSchema constrains rule override files before they are unmarshalled.
const specSchema = `{
	"type": "object",
	"minProperties": 1,
	"additionalProperties": {
		"type": "object",
		"required": ["states", "transitions"],
		"additionalProperties": false,
		"properties": {
			"states": {
				"type": "array",
				"minItems": 1,
				"items": {"type": "string", "minLength": 1}
			},
			"transitions": {
				"type": "object",
				"additionalProperties": {
					"type": "array",
					"items": {"type": "string", "minLength": 1}
				}
			},
			"roles": {
				"type": "object",
				"additionalProperties": {
					"type": "array",
					"items": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

// LoadFile reads a JSON rule specification, validates it against the rule
// schema, and builds a table from it. Any problem is a configuration error.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading rules file %s: %v", ErrConfiguration, path, err)
	}

	return Load(data)
}

// Load validates and builds a table from raw JSON rule configuration.
func Load(data []byte) (*Table, error) {
	schemaLoader := gojsonschema.NewStringLoader(specSchema)
	dataLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return nil, fmt.Errorf("%w: validating rules: %v", ErrConfiguration, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return nil, fmt.Errorf("%w: rules schema violations: %s", ErrConfiguration, strings.Join(details, "; "))
	}

	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: parsing rules: %v", ErrConfiguration, err)
	}

	return NewTable(spec)
}

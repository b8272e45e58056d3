package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// DefaultSchema is the JSON Schema (Draft 2020-12) for a rivulex
// configuration document: the group name, streams to subscribe to, and
// the subscriber/trimmer tunables. It intentionally says nothing about
// event payloads — payload schema enforcement is out of scope for this
// runtime.
const DefaultSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["group"],
  "properties": {
    "group": {"type": "string", "minLength": 1},
    "streams": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "ackTimeout": {"type": "integer", "minimum": 0},
    "processTimeout": {"type": "integer", "minimum": 0},
    "processConcurrency": {"type": "integer", "minimum": 0},
    "fetchBatchSize": {"type": "integer", "minimum": 0},
    "blockTime": {"type": "integer", "minimum": 0},
    "retries": {"type": "integer", "minimum": 0},
    "trimmer": {
      "type": "object",
      "properties": {
        "intervalTime": {"type": "integer", "minimum": 0},
        "retentionPeriod": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

// DocumentValidator schema-validates a configuration document. Adapted from
// the contract validator that schema-validated event payloads: here the
// single document under validation is the configuration itself, not a
// per-message-type contract.
type DocumentValidator struct {
	schema *jsonschema.Schema
}

// NewDocumentValidator compiles schemaJSON (Draft 2020-12). Pass nil to use
// DefaultSchema.
func NewDocumentValidator(schemaJSON []byte) (*DocumentValidator, error) {
	if schemaJSON == nil {
		schemaJSON = []byte(DefaultSchema)
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return nil, fmt.Errorf("config: parse schema: %w", err)
	}

	const resourceName = "rivulex-config.schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceName, schemaDoc); err != nil {
		return nil, fmt.Errorf("config: add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("config: compile schema: %w", err)
	}

	return &DocumentValidator{schema: schema}, nil
}

// ValidateDocument validates doc (e.g. a decoded YAML/JSON config file)
// against the compiled schema.
func (v *DocumentValidator) ValidateDocument(doc map[string]interface{}) error {
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("config: document invalid: %w", err)
	}
	return nil
}

package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator checks JSON payloads against a JSON Schema document.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

func NewSchemaValidator(name, schemaJSON string) (*SchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := compiler.AddResource(resource, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// MustSchemaValidator is for schemas embedded in the binary.
func MustSchemaValidator(name, schemaJSON string) *SchemaValidator {
	v, err := NewSchemaValidator(name, schemaJSON)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *SchemaValidator) Validate(payload []byte) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

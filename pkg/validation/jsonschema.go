package validation

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON schema, safe for concurrent use.
type Schema struct {
	sch *jsonschema.Schema
}

// Compile parses schemaJSON under the resource name name.
func Compile(name, schemaJSON string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader([]byte(schemaJSON))); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile JSON schema: %w", err)
	}
	return &Schema{sch: sch}, nil
}

// MustCompile is Compile for schemas embedded in code.
func MustCompile(name, schemaJSON string) *Schema {
	s, err := Compile(name, schemaJSON)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks the JSON document data against the schema.
func (s *Schema) Validate(data []byte) error {
	var doc interface{}
	if err := sonic.ConfigStd.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal JSON data: %w", err)
	}
	if err := s.sch.Validate(doc); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return fmt.Errorf("JSON data failed validation against schema: %v", validationErr)
		}
		return fmt.Errorf("JSON data failed validation (unexpected error type): %w", err)
	}
	return nil
}

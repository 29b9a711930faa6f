package zap

import (
	"bytes"
	"embed"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var ErrInvalidPayload = errors.New("invalid payload")

const (
	schemaAutomation = "automation.json"
	schemaEscrow     = "escrow.json"
)

// Schemas validates automation and escrow payloads before they are
// written.
type Schemas struct {
	automation *jsonschema.Schema
	escrow     *jsonschema.Schema
}

func LoadSchemas() (*Schemas, error) {
	compiler := jsonschema.NewCompiler()
	for _, name := range []string{schemaAutomation, schemaEscrow} {
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := compiler.AddResource(schemaURL(name), doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	automation, err := compiler.Compile(schemaURL(schemaAutomation))
	if err != nil {
		return nil, fmt.Errorf("compile automation schema: %w", err)
	}
	escrow, err := compiler.Compile(schemaURL(schemaEscrow))
	if err != nil {
		return nil, fmt.Errorf("compile escrow schema: %w", err)
	}
	return &Schemas{automation: automation, escrow: escrow}, nil
}

func (s *Schemas) ValidateAutomation(raw []byte) error {
	return validate(s.automation, raw)
}

func (s *Schemas) ValidateEscrow(raw []byte) error {
	return validate(s.escrow, raw)
}

func validate(schema *jsonschema.Schema, raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func schemaURL(name string) string {
	return "https://bridgbox.cloud/schemas/" + name
}

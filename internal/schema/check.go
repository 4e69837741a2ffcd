package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONSchema describes a defaulted record: every field required, no extras,
// strings or null for leaves, "Yes"/"No" or null for yes/no fields.
func (s *Schema) JSONSchema() map[string]any {
	return objectSchema(s.fields)
}

func objectSchema(fields []Field) map[string]any {
	props := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		required = append(required, f.Name)
		switch f.Kind {
		case KindGroup:
			props[f.Name] = objectSchema(f.Fields)
		case KindYesNo:
			props[f.Name] = map[string]any{"enum": []any{"Yes", "No", nil}}
		default:
			props[f.Name] = map[string]any{"type": []string{"string", "null"}}
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func (s *Schema) compile() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		b, err := json.Marshal(s.JSONSchema())
		if err != nil {
			s.errCheck = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("record.json", bytes.NewReader(b)); err != nil {
			s.errCheck = fmt.Errorf("add schema: %w", err)
			return
		}
		s.compiled, s.errCheck = compiler.Compile("record.json")
	})
	return s.compiled, s.errCheck
}

// Check validates a defaulted record against JSONSchema.
func (s *Schema) Check(rec Record) error {
	compiled, err := s.compile()
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	if err := compiled.Validate(v); err != nil {
		return fmt.Errorf("record does not match schema: %w", err)
	}
	return nil
}

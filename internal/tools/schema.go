package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateSchema derives a JSON Schema from a Go struct type. Use
// jsonschema_description struct tags for field descriptions and
// omitempty to mark a field optional.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// schemaShape is the slice of a JSON Schema that payload validation
// needs: the property set and the required list.
type schemaShape struct {
	Properties map[string]json.RawMessage `json:"properties"`
	Required   []string                   `json:"required"`
}

// ValidatePayload checks payload against schema: required fields must
// be present and every supplied key must be a declared property. The
// error, if any, is a validation ToolError.
func ValidatePayload(schema *jsonschema.Schema, payload map[string]any) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return ValidationError(fmt.Sprintf("unusable schema: %v", err), nil)
	}
	var shape schemaShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return ValidationError(fmt.Sprintf("unusable schema: %v", err), nil)
	}

	for _, field := range shape.Required {
		if _, ok := payload[field]; !ok {
			return ValidationError(
				fmt.Sprintf("missing required field %q", field),
				map[string]any{"field": field})
		}
	}
	for key := range payload {
		if _, ok := shape.Properties[key]; !ok {
			return ValidationError(
				fmt.Sprintf("unknown field %q", key),
				map[string]any{"field": key})
		}
	}
	return nil
}

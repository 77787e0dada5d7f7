package ai

import (
	"encoding/json"
	"fmt"

	jsonschema "github.com/swaggest/jsonschema-go"
)

// ReflectSchema builds the JSON schema of a Go struct.
// Properties come from json tags; `required:"true"` and `description:"..."` tags are honoured.
func ReflectSchema(v any) (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{}
	schema, err := reflector.Reflect(v, jsonschema.InlineRefs)
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema: %w", err)
	}
	return &schema, nil
}

// ToolParameters returns the JSON schema of v encoded for a ToolDescriptor.
func ToolParameters(v any) (string, error) {
	schema, err := ReflectSchema(v)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("failed to encode schema: %w", err)
	}
	return string(raw), nil
}

package tool

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Param describes a single argument for the BuildSchema helper.
type Param struct {
	Name        string
	Type        string // "string", "integer", "boolean", "number"
	Description string
	Required    bool
	Enum        []string
	Default     any
}

// BuildSchema generates a JSON Schema object from a parameter list so tool
// specs avoid hand-writing JSON strings. Unknown argument names are always
// rejected (additionalProperties=false): the validator needs a closed key
// set to produce accepted-args lists and name suggestions.
func BuildSchema(params ...Param) json.RawMessage {
	properties := make(map[string]any, len(params))
	var required []string

	for _, p := range params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	data, _ := json.Marshal(schema)
	return data
}

// SchemaFor derives a JSON Schema from a Go argument struct. Useful for
// tools with nested argument shapes that BuildSchema's flat parameter list
// cannot express.
func SchemaFor(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
		ExpandedStruct:            true,
	}
	s := r.Reflect(v)
	data, _ := json.Marshal(s)
	return data
}

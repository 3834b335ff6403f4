package llm

// Schema is the one canonical internal JSON-Schema representation the
// pipeline consumes. Callers may hand in a schema shaped as a raw example
// object, a JSON-Schema document, or a third-party builder's output;
// FromSimpleObject/FromJSONSchema/FromExternalBuilder normalize all three
// at the boundary so the core never duck-types (spec.md §9).
type Schema struct {
	Name        string
	Description string
	Raw         map[string]any // canonical JSON-Schema document
}

// RequiredKeys returns the schema's top-level required property names, or
// nil if the schema declares none.
func (s *Schema) RequiredKeys() []string {
	if s == nil || s.Raw == nil {
		return nil
	}
	raw, ok := s.Raw["required"].([]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if str, ok := k.(string); ok {
			keys = append(keys, str)
		}
	}
	return keys
}

// FromSimpleObject builds a Schema from an example object, inferring a
// JSON-Schema with every top-level key marked required. This is the
// "duck-typed raw object" shape from spec.md §9.
func FromSimpleObject(name string, example map[string]any) *Schema {
	properties := make(map[string]any, len(example))
	required := make([]any, 0, len(example))
	for key, value := range example {
		properties[key] = map[string]any{"type": jsonSchemaType(value)}
		required = append(required, key)
	}
	return &Schema{
		Name: name,
		Raw: map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}

// FromJSONSchema wraps an already-valid JSON-Schema document, the
// "JSON-Schema-like" duck-typed shape from spec.md §9.
func FromJSONSchema(name, description string, raw map[string]any) *Schema {
	return &Schema{Name: name, Description: description, Raw: raw}
}

// ExternalSchemaBuilder is the minimal surface a third-party schema
// builder must expose to be normalized via FromExternalBuilder.
type ExternalSchemaBuilder interface {
	ToJSONSchema() map[string]any
}

// FromExternalBuilder normalizes a third-party builder's output, the
// "third-party builder" duck-typed shape from spec.md §9.
func FromExternalBuilder(name, description string, builder ExternalSchemaBuilder) *Schema {
	return &Schema{Name: name, Description: description, Raw: builder.ToJSONSchema()}
}

func jsonSchemaType(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return "string"
	}
}

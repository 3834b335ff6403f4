package llm

import (
	"encoding/json"
	"fmt"
)

// parseGeneratedSchema decodes a {"name","description","schema"} candidate
// produced by GenerateSchema's prompt.
func parseGeneratedSchema(candidate string) (name, description string, schema map[string]any, err error) {
	var parsed struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Schema      map[string]any `json:"schema"`
	}
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return "", "", nil, fmt.Errorf("decode generated schema: %w", err)
	}
	if parsed.Schema == nil {
		return "", "", nil, fmt.Errorf("generated schema missing \"schema\" key")
	}
	return parsed.Name, parsed.Description, parsed.Schema, nil
}

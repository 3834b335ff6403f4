package llm

import (
	"strings"

	"github.com/tidwall/gjson"
)

// findJSONObjectCandidates scans text for balanced top-level `{...}`
// substrings and returns each one that parses as valid JSON. A raw model
// response may wrap its JSON in prose or markdown fences, or emit more
// than one balanced brace group; disambiguating between candidates is
// what triggers the repair prompt (spec.md §4.6).
func findJSONObjectCandidates(text string) []string {
	var candidates []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		if inString {
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := text[start : i+1]
					if gjson.Valid(candidate) {
						candidates = append(candidates, candidate)
					}
					start = -1
				}
			}
		}
	}
	return candidates
}

// validateAgainstSchema accepts candidate only if it is a plain JSON object
// and, when schema declares required top-level keys, every one is present.
func validateAgainstSchema(candidate string, schema *Schema) bool {
	parsed := gjson.Parse(candidate)
	if !parsed.IsObject() {
		return false
	}
	for _, key := range schema.RequiredKeys() {
		if !parsed.Get(gjsonEscapeKey(key)).Exists() {
			return false
		}
	}
	return true
}

// gjsonEscapeKey escapes gjson path metacharacters in a literal key name.
func gjsonEscapeKey(key string) string {
	replacer := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return replacer.Replace(key)
}

// selectJSONObject applies the parse-then-validate step of spec.md §4.6:
// it is accepted only if extraction found exactly one candidate and that
// candidate validates against schema. Zero or multiple candidates, or a
// candidate failing shape validation, all require a repair prompt.
func selectJSONObject(text string, schema *Schema) (string, bool) {
	candidates := findJSONObjectCandidates(text)
	if len(candidates) != 1 {
		return "", false
	}
	if schema != nil && !validateAgainstSchema(candidates[0], schema) {
		return "", false
	}
	return candidates[0], true
}

func buildRepairPrompt(previousResponse string, schema *Schema) string {
	var b strings.Builder
	b.WriteString("Your previous response could not be parsed as a single valid JSON object")
	if schema != nil && len(schema.RequiredKeys()) > 0 {
		b.WriteString(" containing the required keys: ")
		b.WriteString(strings.Join(schema.RequiredKeys(), ", "))
	}
	b.WriteString(".\n\nRespond again with ONLY the JSON object, no prose, no markdown fences.\n\nPrevious response:\n")
	b.WriteString(previousResponse)
	return b.String()
}

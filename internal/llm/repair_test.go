package llm

import "testing"

func TestFindJSONObjectCandidates_Single(t *testing.T) {
	candidates := findJSONObjectCandidates(`Here you go: {"a": 1, "b": "x"}`)
	if len(candidates) != 1 {
		t.Fatalf("candidates = %v, want 1", candidates)
	}
}

func TestFindJSONObjectCandidates_Multiple(t *testing.T) {
	candidates := findJSONObjectCandidates(`{"a":1} and also {"b":2}`)
	if len(candidates) != 2 {
		t.Fatalf("candidates = %v, want 2", candidates)
	}
}

func TestFindJSONObjectCandidates_IgnoresBracesInsideStrings(t *testing.T) {
	candidates := findJSONObjectCandidates(`{"note": "use {curly} braces"}`)
	if len(candidates) != 1 {
		t.Fatalf("candidates = %v, want 1", candidates)
	}
}

func TestFindJSONObjectCandidates_None(t *testing.T) {
	candidates := findJSONObjectCandidates(`no json here`)
	if len(candidates) != 0 {
		t.Fatalf("candidates = %v, want 0", candidates)
	}
}

func TestSelectJSONObject_AmbiguousRejected(t *testing.T) {
	_, ok := selectJSONObject(`{"a":1} and also {"b":2}`, nil)
	if ok {
		t.Error("two candidates should be rejected as ambiguous")
	}
}

func TestSelectJSONObject_MissingRequiredKeyRejected(t *testing.T) {
	schema := FromSimpleObject("invoice", map[string]any{"total": 0.0})
	_, ok := selectJSONObject(`{"other": 1}`, schema)
	if ok {
		t.Error("candidate missing required key should be rejected")
	}
}

func TestSelectJSONObject_Valid(t *testing.T) {
	schema := FromSimpleObject("invoice", map[string]any{"total": 0.0})
	data, ok := selectJSONObject(`{"total": 42}`, schema)
	if !ok || data != `{"total": 42}` {
		t.Errorf("selectJSONObject() = %q, %v", data, ok)
	}
}

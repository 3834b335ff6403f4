// Package llm is the LLM Adapter (spec.md §4.6, §6): a helper around a
// provider's chat completion call that enforces JSON-object output against
// a canonical schema, with a one-shot repair prompt and ordered provider
// fallback.
package llm

import "context"

// Usage is token accounting, summed across the initial call and any repair
// call (spec.md §4.6).
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ExtractRequest is the input to Registry.Extract.
type ExtractRequest struct {
	Markdown string
	Schema   *Schema // nil for a schemaless extraction
	Hints    string
}

// ExtractResult is a successful extraction: Data is the raw JSON object
// text returned by the model (post-validation).
type ExtractResult struct {
	Data  string
	Usage Usage
	Model string
}

// GenerateSchemaRequest is the input to Registry.GenerateSchema.
type GenerateSchemaRequest struct {
	Markdown string
	Hints    string
}

// GeneratedSchema is a model-proposed schema for a document whose shape
// isn't known in advance.
type GeneratedSchema struct {
	Name        string
	Description string
	Schema      *Schema
	Usage       Usage
	Model       string
}

// Provider is one LLM backend. Complete returns the raw model response
// text; prompt building, JSON enforcement and repair happen in Registry, not
// here, so providers stay thin transport clients.
type Provider interface {
	Name() string
	Complete(ctx context.Context, systemPrompt, userPrompt string) (text string, usage Usage, model string, err error)
}

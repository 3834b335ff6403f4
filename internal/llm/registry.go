package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ocrbase/internal/apierr"
)

// Registry is the ordered-fallback list of LLM providers: Extract and
// GenerateSchema try providers in registration order, falling through on
// transport failure (not on JSON-shape failure — that surfaces
// LLM_PARSE_FAILED immediately per spec.md §4.6).
type Registry struct {
	providers []Provider
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register appends provider to the fallback order.
func (r *Registry) Register(p Provider) {
	r.providers = append(r.providers, p)
}

const extractSystemPrompt = `You are a document data extraction assistant. Given markdown text extracted from a document, respond with a single JSON object matching the requested shape. Respond with ONLY the JSON object — no prose, no markdown fences.`

func buildExtractPrompt(req ExtractRequest) string {
	var b strings.Builder
	b.WriteString("Extract structured data from the following document.\n\n")
	if req.Schema != nil {
		b.WriteString("Required JSON shape (schema):\n")
		b.WriteString(fmt.Sprintf("%v\n\n", req.Schema.Raw))
	}
	if req.Hints != "" {
		b.WriteString("Hints: ")
		b.WriteString(req.Hints)
		b.WriteString("\n\n")
	}
	b.WriteString("Document:\n")
	b.WriteString(req.Markdown)
	return b.String()
}

// Extract invokes the LLM with schema + hints + markdown, enforces JSON
// output, and issues one repair prompt on ambiguous/invalid shape before
// surfacing LLM_PARSE_FAILED (spec.md §4.6).
func (r *Registry) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("llm: no providers registered")
	}

	var lastTransportErr error
	for _, p := range r.providers {
		text, usage, model, err := p.Complete(ctx, extractSystemPrompt, buildExtractPrompt(req))
		if err != nil {
			r.logger.Warn("llm: provider unavailable, trying next", "provider", p.Name(), "error", err)
			lastTransportErr = err
			continue
		}

		if data, ok := selectJSONObject(text, req.Schema); ok {
			return &ExtractResult{Data: data, Usage: usage, Model: model}, nil
		}

		repairedText, repairUsage, _, err := p.Complete(ctx, extractSystemPrompt, buildRepairPrompt(text, req.Schema))
		usage.InputTokens += repairUsage.InputTokens
		usage.OutputTokens += repairUsage.OutputTokens
		if err == nil {
			if data, ok := selectJSONObject(repairedText, req.Schema); ok {
				return &ExtractResult{Data: data, Usage: usage, Model: model}, nil
			}
		}

		return nil, apierr.LLMParseFailed(fmt.Errorf("provider %s: response not a valid JSON object for the requested schema after repair", p.Name()))
	}

	return nil, fmt.Errorf("llm: all providers unavailable: %w", lastTransportErr)
}

const generateSchemaSystemPrompt = `You are a document schema inference assistant. Given markdown text extracted from a document, propose a JSON Schema describing the structured data that could be extracted from documents like it. Respond with ONLY a JSON object of the shape {"name": string, "description": string, "schema": <json-schema>} — no prose, no markdown fences.`

// GenerateSchema proposes a schema for a document whose shape isn't known
// in advance.
func (r *Registry) GenerateSchema(ctx context.Context, req GenerateSchemaRequest) (*GeneratedSchema, error) {
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("llm: no providers registered")
	}

	prompt := fmt.Sprintf("Document:\n%s\n\nHints: %s", req.Markdown, req.Hints)

	var lastErr error
	for _, p := range r.providers {
		text, usage, model, err := p.Complete(ctx, generateSchemaSystemPrompt, prompt)
		if err != nil {
			lastErr = err
			continue
		}

		candidate, ok := selectJSONObject(text, nil)
		if !ok {
			return nil, apierr.LLMParseFailed(fmt.Errorf("provider %s: schema proposal not a valid JSON object", p.Name()))
		}

		name, description, schemaRaw, err := parseGeneratedSchema(candidate)
		if err != nil {
			return nil, apierr.LLMParseFailed(err)
		}

		return &GeneratedSchema{
			Name:        name,
			Description: description,
			Schema:      FromJSONSchema(name, description, schemaRaw),
			Usage:       usage,
			Model:       model,
		}, nil
	}

	return nil, fmt.Errorf("llm: all providers unavailable: %w", lastErr)
}

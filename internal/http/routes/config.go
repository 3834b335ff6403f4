// Package routes registers the pipeline's HTTP surface — the six
// operations of spec.md §6 — against a huma.API, producing the OpenAPI
// document alongside request routing.
package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"ocrbase/internal/http/mw"
	"ocrbase/internal/version"
)

// NewHumaConfig builds the shared Huma configuration.
func NewHumaConfig(baseURL string) huma.Config {
	cfg := huma.DefaultConfig("ocrbase", version.Get().Short())
	cfg.Info.Description = "Asynchronous document OCR and structured-extraction pipeline."

	// $schema conflicts with the "schema" field SDK codegen expects.
	cfg.CreateHooks = nil

	if baseURL != "" {
		cfg.Servers = []*huma.Server{{URL: baseURL, Description: "API Server"}}
	}

	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		mw.SecurityScheme: {
			Type:         "http",
			Scheme:       "bearer",
			Description:  "Bearer token authentication. Include the token in the Authorization header as `Bearer <token>`.",
		},
	}

	cfg.Tags = []*huma.Tag{
		{Name: "Submission", Description: "Document admission for OCR and extraction", Extensions: map[string]any{"x-displayName": "Submission"}},
		{Name: "Jobs", Description: "Job status retrieval", Extensions: map[string]any{"x-displayName": "Jobs"}},
		{Name: "Realtime", Description: "Realtime job event streaming", Extensions: map[string]any{"x-displayName": "Realtime"}},
		{Name: "Health", Description: "System health and status", Extensions: map[string]any{"x-displayName": "Health"}},
	}

	return cfg
}

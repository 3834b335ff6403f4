package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"ocrbase/internal/http/mw"
	"ocrbase/internal/models"
)

// RealtimeStreamInput documents GET /v1/realtime's query parameters. The
// actual connection is served by internal/realtime.Gateway as a raw chi
// handler (SSE needs response flushing and, for the bidi profile, a
// protocol upgrade neither of which huma.Register models) — this
// registration exists purely so the operation appears in the OpenAPI
// document with its security requirement.
type RealtimeStreamInput struct {
	JobID string `query:"job_id" required:"true" doc:"Job ID to subscribe to"`
}

// RegisterRealtimeDocs registers the OpenAPI-only placeholder for GET
// /v1/realtime.
func RegisterRealtimeDocs(api huma.API) {
	sse.Register(api, huma.Operation{
		OperationID: "streamJob",
		Method:      http.MethodGet,
		Path:        "/v1/realtime",
		Summary:     "Subscribe to a job's realtime event stream",
		Description: "Server-Sent Events by default; send a WebSocket Upgrade header for the bidirectional profile. Emits a status/completed/error snapshot immediately, then forwards Event Bus events until a terminal one closes the stream.",
		Tags:        []string{"Realtime"},
		Security:    []map[string][]string{{mw.SecurityScheme: {}}},
	}, map[string]any{
		"status":    models.Event{},
		"completed": models.Event{},
		"error":     models.Event{},
		"pong":      models.Event{},
	}, func(ctx context.Context, input *RealtimeStreamInput, send sse.Sender) {
		<-ctx.Done()
	})
}

package routes

import (
	"ocrbase/internal/http/handlers"
	"ocrbase/internal/http/mw"

	"github.com/danielgtaylor/huma/v2"
)

// Handlers bundles every handler Register needs, constructed in main with
// the pipeline's collaborators already wired in.
type Handlers struct {
	Submission *handlers.SubmissionHandler
	Jobs       *handlers.JobHandler
	Readyz     *handlers.ReadyzHandler
}

// Register wires the six operations of spec.md §6 plus health/liveness/
// readiness probes onto api. The Realtime Gateway itself is mounted as a
// raw chi handler by the caller (SSE/WebSocket need the underlying
// http.ResponseWriter); RegisterRealtimeDocs below only adds it to the
// OpenAPI document.
func Register(api huma.API, h Handlers) {
	mw.PublicGet(api, "/healthz", handlers.HealthCheck,
		mw.WithTags("Health"), mw.WithSummary("Health check"), mw.WithHidden())
	mw.PublicGet(api, "/livez", handlers.Livez,
		mw.WithTags("Health"), mw.WithSummary("Liveness probe"), mw.WithHidden())
	mw.PublicGet(api, "/readyz", h.Readyz.Readyz,
		mw.WithTags("Health"), mw.WithSummary("Readiness probe"), mw.WithHidden())

	mw.ProtectedPost(api, "/v1/parse", h.Submission.Parse,
		mw.WithTags("Submission"), mw.WithSummary("Submit a document for OCR text extraction"),
		mw.WithDescription("Admits a document by direct upload (base64 file) or URL ingest. Returns the Job snapshot immediately; processing happens asynchronously (spec.md §4.1, §4.2)."))

	mw.ProtectedPost(api, "/v1/extract", h.Submission.Extract,
		mw.WithTags("Submission"), mw.WithSummary("Submit a document for OCR plus schema-driven LLM extraction"),
		mw.WithDescription("Same admission paths as /v1/parse, plus a required schemaId resolved against the LLM collaborator's schema registry."))

	mw.ProtectedPost(api, "/v1/uploads/presign", h.Submission.Presign,
		mw.WithTags("Submission"), mw.WithSummary("Reserve a blob key and get a presigned upload URL"),
		mw.WithDescription("First phase of the two-phase upload: the job is created pending with no Work Item enqueued until /v1/uploads/{jobId}/complete confirms the upload."))

	mw.ProtectedPost(api, "/v1/uploads/{jobId}/complete", h.Submission.CompleteUpload,
		mw.WithTags("Submission"), mw.WithSummary("Confirm a presigned upload and enqueue the job"),
		mw.WithDescription("Idempotent: a second call for an already-confirmed job returns 409."))

	mw.ProtectedGet(api, "/v1/jobs/{id}", h.Jobs.GetJob,
		mw.WithTags("Jobs"), mw.WithSummary("Get a job's current snapshot"),
		mw.WithDescription("Cross-tenant access returns 404, never 403."))

	handlers.RegisterRealtimeDocs(api)
}

package handlers

import (
	"context"
	"encoding/base64"

	"github.com/danielgtaylor/huma/v2"

	"ocrbase/internal/http/mw"
	"ocrbase/internal/models"
	"ocrbase/internal/submission"
)

// SubmissionHandler serves the Submission API's three admission paths
// (spec.md §4.1, §6): direct upload, URL ingest, and presigned two-phase
// upload.
type SubmissionHandler struct {
	svc *submission.Service
}

// NewSubmissionHandler wires a SubmissionHandler against the Submission
// API.
func NewSubmissionHandler(svc *submission.Service) *SubmissionHandler {
	return &SubmissionHandler{svc: svc}
}

// submitBody is the shared JSON shape of POST /v1/parse and POST
// /v1/extract: exactly one of File (base64-encoded bytes) or URL must be
// set.
type submitBody struct {
	File      string `json:"file,omitempty" doc:"Base64-encoded document bytes. Exactly one of file/url is required."`
	URL       string `json:"url,omitempty" doc:"Source URL to fetch at processing time. Exactly one of file/url is required."`
	FileName  string `json:"fileName,omitempty" doc:"Original file name, used to derive the blob key"`
	MimeType  string `json:"mimeType,omitempty" doc:"Document MIME type, e.g. application/pdf"`
	Hints     string `json:"hints,omitempty" doc:"Free-form hints passed to the LLM collaborator"`
	WebhookURL string `json:"webhookUrl,omitempty" doc:"Optional URL notified once the job reaches a terminal state"`
}

// ParseInput is the input for POST /v1/parse.
type ParseInput struct {
	Body submitBody
}

// ExtractInput is the input for POST /v1/extract.
type ExtractInput struct {
	Body struct {
		submitBody
		SchemaRef string `json:"schemaId" required:"true" doc:"Reference to a registered extraction schema"`
	}
}

// JobOutput wraps a Job snapshot, returned by every admission endpoint.
type JobOutput struct {
	Body models.Job
}

// Parse implements POST /v1/parse (spec.md §6): direct submission for
// text extraction with no schema.
func (h *SubmissionHandler) Parse(ctx context.Context, input *ParseInput) (*JobOutput, error) {
	claims := mw.GetUserClaims(ctx)
	if claims == nil {
		return nil, huma.Error401Unauthorized("missing authentication")
	}

	job, err := h.submit(ctx, claims.TenantID, models.JobTypeParse, input.Body, "")
	if err != nil {
		return nil, mapSubmissionError(err)
	}
	return &JobOutput{Body: *job}, nil
}

// Extract implements POST /v1/extract (spec.md §6): the same admission
// paths as Parse, plus a required schemaId used for structured LLM
// extraction once OCR completes.
func (h *SubmissionHandler) Extract(ctx context.Context, input *ExtractInput) (*JobOutput, error) {
	claims := mw.GetUserClaims(ctx)
	if claims == nil {
		return nil, huma.Error401Unauthorized("missing authentication")
	}

	job, err := h.submit(ctx, claims.TenantID, models.JobTypeExtract, input.Body.submitBody, input.Body.SchemaRef)
	if err != nil {
		return nil, mapSubmissionError(err)
	}
	return &JobOutput{Body: *job}, nil
}

func (h *SubmissionHandler) submit(ctx context.Context, tenantID string, jobType models.JobType, body submitBody, schemaRef string) (*models.Job, error) {
	if (body.URL == "") == (body.File == "") {
		return nil, huma.Error400BadRequest("exactly one of file or url is required")
	}
	if body.URL != "" {
		return h.svc.SubmitURL(ctx, submission.URLIngestInput{
			TenantID:   tenantID,
			Type:       jobType,
			SourceURL:  body.URL,
			FileName:   body.FileName,
			MimeType:   body.MimeType,
			SchemaRef:  schemaRef,
			Hints:      body.Hints,
			WebhookURL: body.WebhookURL,
		})
	}

	data, err := base64.StdEncoding.DecodeString(body.File)
	if err != nil {
		return nil, huma.Error400BadRequest("file must be base64-encoded: " + err.Error())
	}
	return h.svc.SubmitDirect(ctx, submission.DirectUploadInput{
		TenantID:   tenantID,
		Type:       jobType,
		FileName:   body.FileName,
		MimeType:   body.MimeType,
		Data:       data,
		SchemaRef:  schemaRef,
		Hints:      body.Hints,
		WebhookURL: body.WebhookURL,
	})
}

// PresignInput is the input for POST /v1/uploads/presign.
type PresignInput struct {
	Body struct {
		Type      string `json:"type" required:"true" enum:"parse,extract" doc:"Job type"`
		FileName  string `json:"fileName,omitempty"`
		MimeType  string `json:"mimeType,omitempty"`
		SchemaRef string `json:"schemaId,omitempty" doc:"Required when type is extract"`
		Hints     string `json:"hints,omitempty"`
		WebhookURL string `json:"webhookUrl,omitempty"`
	}
}

// PresignOutput is returned by POST /v1/uploads/presign.
type PresignOutput struct {
	Body struct {
		JobID     string `json:"jobId"`
		UploadURL string `json:"uploadUrl"`
	}
}

// Presign implements POST /v1/uploads/presign (spec.md §6, §4.1.3's first
// phase): reserves a blobKey and issues a short-lived upload URL.
func (h *SubmissionHandler) Presign(ctx context.Context, input *PresignInput) (*PresignOutput, error) {
	claims := mw.GetUserClaims(ctx)
	if claims == nil {
		return nil, huma.Error401Unauthorized("missing authentication")
	}

	result, err := h.svc.Presign(ctx, submission.PresignInput{
		TenantID:   claims.TenantID,
		Type:       models.JobType(input.Body.Type),
		FileName:   input.Body.FileName,
		MimeType:   input.Body.MimeType,
		SchemaRef:  input.Body.SchemaRef,
		Hints:      input.Body.Hints,
		WebhookURL: input.Body.WebhookURL,
	})
	if err != nil {
		return nil, mapSubmissionError(err)
	}

	out := &PresignOutput{}
	out.Body.JobID = result.JobID
	out.Body.UploadURL = result.UploadURL
	return out, nil
}

// CompleteUploadInput is the input for POST /v1/uploads/{jobId}/complete.
type CompleteUploadInput struct {
	JobID string `path:"jobId" doc:"Job ID returned by the presign step"`
}

// CompleteUpload implements POST /v1/uploads/{jobId}/complete (spec.md §6,
// §4.1.3's second phase): confirms the presigned object exists and
// enqueues the job. Idempotent — a repeat call returns 409.
func (h *SubmissionHandler) CompleteUpload(ctx context.Context, input *CompleteUploadInput) (*JobOutput, error) {
	claims := mw.GetUserClaims(ctx)
	if claims == nil {
		return nil, huma.Error401Unauthorized("missing authentication")
	}

	job, err := h.svc.Confirm(ctx, submission.ConfirmInput{TenantID: claims.TenantID, JobID: input.JobID})
	if err != nil {
		return nil, mapSubmissionError(err)
	}
	return &JobOutput{Body: *job}, nil
}

package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"ocrbase/internal/http/mw"
	"ocrbase/internal/models"
	"ocrbase/internal/repository"
)

// JobHandler serves the Job snapshot endpoint against the Job Store.
type JobHandler struct {
	jobs repository.JobRepository
}

// NewJobHandler wires a JobHandler against the Job Store.
func NewJobHandler(jobs repository.JobRepository) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// GetJobInput is the input for GET /v1/jobs/{id}.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID"`
}

// GetJobOutput wraps a Job snapshot.
type GetJobOutput struct {
	Body models.Job
}

// GetJob implements GET /v1/jobs/{id} (spec.md §6): cross-tenant access
// returns 404, never 403, so existence of another tenant's job is not
// disclosed.
func (h *JobHandler) GetJob(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	claims := mw.GetUserClaims(ctx)
	if claims == nil {
		return nil, huma.Error401Unauthorized("missing authentication")
	}

	job, err := h.jobs.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load job", err)
	}
	if job == nil || job.TenantID != claims.TenantID {
		return nil, huma.Error404NotFound("job not found")
	}

	return &GetJobOutput{Body: *job}, nil
}

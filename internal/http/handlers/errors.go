package handlers

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"ocrbase/internal/submission"
)

// mapSubmissionError maps the Submission API's admission-time sentinel
// errors onto HTTP status, per spec.md §7's propagation policy: admission
// errors are synchronous and mapped directly, unlike execution errors
// which only ever surface via the Event Bus/Job Store once terminal.
func mapSubmissionError(err error) error {
	switch {
	case errors.Is(err, submission.ErrValidation):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, submission.ErrForbidden):
		return huma.Error404NotFound("job not found")
	case errors.Is(err, submission.ErrJobNotFound):
		return huma.Error404NotFound("job not found")
	case errors.Is(err, submission.ErrAlreadyConfirmed):
		return huma.Error409Conflict(err.Error())
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}

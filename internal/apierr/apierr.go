// Package apierr defines the stable error taxonomy propagated through the
// pipeline as errorCode/errorMessage: typed variants raised by each
// collaborator adapter, with retry classification carried on the type
// itself rather than recovered by matching message text.
package apierr

import "errors"

// Code is one of the stable taxonomy codes surfaced in Job.ErrorCode.
type Code string

const (
	CodeUploadFailed        Code = "UPLOAD_FAILED"
	CodeEnqueueFailed       Code = "ENQUEUE_FAILED"
	CodeJobNotFound         Code = "JOB_NOT_FOUND"
	CodeNoSource            Code = "NO_SOURCE"
	CodeFetchFailed         Code = "FETCH_FAILED"
	CodeOCRFailed           Code = "OCR_FAILED"
	CodeSchemaNotFound      Code = "SCHEMA_NOT_FOUND"
	CodeLLMParseFailed      Code = "LLM_PARSE_FAILED"
	CodeTimeout             Code = "TIMEOUT"
	CodeRealtimeUnavailable Code = "REALTIME_UNAVAILABLE"
)

// Error is a classified pipeline error: a stable Code, a human-readable
// Message, whether the Queue should redeliver it, and the collaborator
// error it wraps (if any).
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// As reports whether err (or any error in its chain) is an *Error, and
// returns it.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsRetryable reports whether err should be redelivered by the Queue.
// Unclassified errors default to retryable per the residual "unknown →
// retryable" rule.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable
	}
	return true
}

// CodeOf extracts the stable taxonomy code from err, defaulting to "" when
// err is not a classified *Error.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

func newErr(code Code, message string, retryable bool, cause error) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable, Err: cause}
}

// UploadFailed wraps a Blob Store put failure at submission time. Never
// retryable — the caller receives it synchronously and resubmits.
func UploadFailed(cause error) *Error {
	return newErr(CodeUploadFailed, "failed to store uploaded document", false, cause)
}

// EnqueueFailed wraps a Queue insert failure after the Job row was already
// created. Never retryable — the row is left in a state the caller must
// investigate rather than one the Worker can heal by redelivery.
func EnqueueFailed(cause error) *Error {
	return newErr(CodeEnqueueFailed, "failed to enqueue job", false, cause)
}

// JobNotFound means the Worker dequeued a Work Item whose Job row is gone
// (deleted, or never committed). Never retryable.
func JobNotFound(jobID string) *Error {
	return newErr(CodeJobNotFound, "job not found: "+jobID, false, nil)
}

// NoSource means neither blobKey nor sourceUrl was present on the job.
// Never retryable — it is a data integrity bug, not a transient fault.
func NoSource(jobID string) *Error {
	return newErr(CodeNoSource, "job has no source: "+jobID, false, nil)
}

// FetchFailed wraps a non-2xx or transport error from URL ingest.
// Retryability depends on the classifier: transient HTTP codes and
// transport errors are retryable, permanent 4xx responses are not.
func FetchFailed(cause error, retryable bool) *Error {
	return newErr(CodeFetchFailed, "failed to fetch source url", retryable, cause)
}

// OCRFailed wraps an OCR collaborator error, retryable per its own
// classifier (network/5xx transient vs. unrecoverable document errors).
func OCRFailed(cause error, retryable bool) *Error {
	return newErr(CodeOCRFailed, "OCR processing failed", retryable, cause)
}

// SchemaNotFound means an extract job's schemaRef could not be resolved.
// Never retryable.
func SchemaNotFound(schemaRef string) *Error {
	return newErr(CodeSchemaNotFound, "schema not found: "+schemaRef, false, nil)
}

// LLMParseFailed means the LLM response was not a JSON object, or was
// missing required keys, even after the repair-prompt retry. Never
// retryable regardless of the job's configured maxAttempts (§8.4).
func LLMParseFailed(cause error) *Error {
	return newErr(CodeLLMParseFailed, "LLM response could not be parsed as the requested schema", false, cause)
}

// Timeout means a per-attempt deadline was exceeded. Retryable.
func Timeout(cause error) *Error {
	return newErr(CodeTimeout, "operation timed out", true, cause)
}

// RealtimeUnavailable means the Client Waiter exhausted its reconnect
// budget without observing a terminal event. Client-side only — never
// surfaced as a Job.ErrorCode.
func RealtimeUnavailable(cause error) *Error {
	return newErr(CodeRealtimeUnavailable, "realtime stream unavailable", false, cause)
}

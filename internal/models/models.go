// Package models defines the domain types shared across the pipeline.
package models

import "time"

// JobType is the kind of processing a Job requests.
type JobType string

const (
	JobTypeParse   JobType = "parse"
	JobTypeExtract JobType = "extract"
)

// JobStatus is the lifecycle state of a Job. Status is monotonic toward a
// terminal state (Completed/Failed) and never transitions back out of one.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusExtracting JobStatus = "extracting"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether s is a terminal status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the single entity at the core of the pipeline. Source is exactly
// one of BlobKey, SourceURL, or PendingUpload — callers populate exactly
// one at creation time.
type Job struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenantId"`
	Type     JobType   `json:"type"`
	Status   JobStatus `json:"status"`

	BlobKey       string `json:"blobKey,omitempty"`
	SourceURL     string `json:"sourceUrl,omitempty"`
	PendingUpload string `json:"pendingUpload,omitempty"`

	FileName string `json:"fileName,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`

	SchemaRef string `json:"schemaRef,omitempty"`
	Hints     string `json:"hints,omitempty"`

	MarkdownResult string `json:"markdownResult,omitempty"`
	JSONResult     string `json:"jsonResult,omitempty"` // raw JSON object, or ""

	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	AttemptsMade int `json:"attemptsMade"`
	MaxAttempts  int `json:"maxAttempts"`

	ProcessingTimeMs int64  `json:"processingTimeMs,omitempty"`
	PageCount        int    `json:"pageCount,omitempty"`
	LLMModel         string `json:"llmModel,omitempty"`
	TokenCount       int    `json:"tokenCount,omitempty"`

	WebhookURL string `json:"webhookUrl,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// WorkItem is the Queue-level descriptor pointing at a Job to be processed.
type WorkItem struct {
	JobID       string `json:"jobId"`
	TenantID    string `json:"tenantId"`
	SubmitterID string `json:"submitterId,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
}

// EventType discriminates Event payload variants on the Event Bus.
type EventType string

const (
	EventTypeStatus    EventType = "status"
	EventTypeCompleted EventType = "completed"
	EventTypeError     EventType = "error"
	EventTypePong      EventType = "pong"
)

// Event is a transient message carried on a job's Event Bus channel. Events
// are never persisted beyond delivery — the Job Store is the source of
// truth for terminal state. Exactly one of the Data fields is populated,
// selected by Type.
type Event struct {
	Type  EventType `json:"type"`
	JobID string    `json:"jobId"`
	Data  EventData `json:"data,omitempty"`
}

// EventData is the per-variant payload of an Event.
type EventData struct {
	Status           JobStatus `json:"status,omitempty"`
	MarkdownResult   string    `json:"markdownResult,omitempty"`
	JSONResult       string    `json:"jsonResult,omitempty"`
	ProcessingTimeMs int64     `json:"processingTimeMs,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// WebhookDeliveryStatus is the outcome of a single webhook delivery attempt.
type WebhookDeliveryStatus string

const (
	WebhookDeliveryStatusPending  WebhookDeliveryStatus = "pending"
	WebhookDeliveryStatusSuccess  WebhookDeliveryStatus = "success"
	WebhookDeliveryStatusFailed   WebhookDeliveryStatus = "failed"
	WebhookDeliveryStatusRetrying WebhookDeliveryStatus = "retrying"
)

// WebhookDelivery is one attempt to notify a job's WebhookURL of a terminal
// event. Supplemental to spec.md's required wire surface; not excluded by
// its Non-goals.
type WebhookDelivery struct {
	ID             string                `json:"id"`
	JobID          string                `json:"jobId"`
	EventType      string                `json:"eventType"` // "job.completed" | "job.failed"
	URL            string                `json:"url"`
	PayloadJSON    string                `json:"payloadJson"`
	StatusCode     *int                  `json:"statusCode,omitempty"`
	Status         WebhookDeliveryStatus `json:"status"`
	ErrorMessage   string                `json:"errorMessage,omitempty"`
	AttemptNumber  int                   `json:"attemptNumber"`
	MaxAttempts    int                   `json:"maxAttempts"`
	NextRetryAt    *time.Time            `json:"nextRetryAt,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	DeliveredAt    *time.Time            `json:"deliveredAt,omitempty"`
}

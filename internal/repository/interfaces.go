// Package repository defines the Job Store's data access interfaces and
// their libsql-backed implementation.
package repository

import (
	"context"
	"database/sql"
	"time"

	"ocrbase/internal/models"
)

// JobFilter narrows a List query.
type JobFilter struct {
	TenantID string
	Status   models.JobStatus
	Type     models.JobType
}

// Page requests one page of a List query.
type Page struct {
	Limit  int
	Offset int
}

// Patch is a field-scoped update to a Job row: only the fields explicitly
// set are written, so the Worker (status/markdownResult/jsonResult/
// attemptsMade) and the Submission API (blobKey at creation, at confirm)
// never clobber each other's writes to disjoint columns.
type Patch struct {
	Status           *models.JobStatus
	BlobKey          *string
	PendingUpload    *string
	MimeType         *string
	FileSize         *int64
	MarkdownResult   *string
	JSONResult       *string
	ErrorCode        *string
	ErrorMessage     *string
	AttemptsMade     *int
	ProcessingTimeMs *int64
	PageCount        *int
	LLMModel         *string
	TokenCount       *int
	StartedAt        *time.Time
	CompletedAt      *time.Time
	DeletedAt        *time.Time
}

// JobRepository is the Job Store external interface of spec §6:
// insert/getById/update(field-scoped)/delete/list.
type JobRepository interface {
	Insert(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	Update(ctx context.Context, id string, patch Patch) (*models.Job, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter JobFilter, page Page) ([]*models.Job, error)
	// MarkStaleRunningJobsFailed flips jobs stuck in processing/extracting
	// past maxAge (e.g. after a worker process crash) to failed/TIMEOUT.
	MarkStaleRunningJobsFailed(ctx context.Context, maxAge time.Duration) (int64, error)
}

// WebhookDeliveryRepository tracks attempts of the supplemental
// terminal-state webhook notification (SPEC_FULL.md §4).
type WebhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *models.WebhookDelivery) error
	Update(ctx context.Context, delivery *models.WebhookDelivery) error
	GetByJobID(ctx context.Context, jobID string) ([]*models.WebhookDelivery, error)
	GetPendingRetries(ctx context.Context, limit int) ([]*models.WebhookDelivery, error)
}

// Repositories holds all repository instances wired at startup.
type Repositories struct {
	Job             JobRepository
	WebhookDelivery WebhookDeliveryRepository
}

// NewRepositories creates all repository instances against db.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Job:             NewSQLiteJobRepository(db),
		WebhookDelivery: NewSQLiteWebhookDeliveryRepository(db),
	}
}

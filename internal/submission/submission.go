// Package submission is the Submission API collaborator (spec.md §4.1):
// the three job admission paths — direct upload, URL ingest, and
// presigned two-phase upload — each following the same
// create-validate-persist-enqueue orchestration.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"ocrbase/internal/apierr"
	"ocrbase/internal/blobstore"
	"ocrbase/internal/llm"
	"ocrbase/internal/models"
	"ocrbase/internal/queue"
	"ocrbase/internal/repository"
)

// Stable admission-time errors, distinct from the Job.errorCode taxonomy in
// apierr: these are rejected synchronously before any Job row exists, or
// (ErrAlreadyConfirmed) a stable idempotency signal for the confirm step.
var (
	ErrValidation       = errors.New("VALIDATION")
	ErrJobNotFound      = errors.New("JOB_NOT_FOUND")
	ErrForbidden        = errors.New("FORBIDDEN")
	ErrAlreadyConfirmed = errors.New("ALREADY_CONFIRMED")
)

var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"image/tiff":      true,
}

const defaultMaxUploadBytes = 50 * 1024 * 1024
const defaultPresignTTL = 15 * time.Minute

// Service implements the Submission API's three admission paths.
type Service struct {
	jobRepo        repository.JobRepository
	blobs          blobstore.Store
	queue          *queue.Queue
	schemas        llm.SchemaResolver
	maxUploadBytes int64
	defaultAttempt queue.EnqueueOptions
	logger         *slog.Logger
}

// New creates a Service. schemas may be nil, in which case schemaRef
// resolvability is not checked at admission time (only at extract time).
func New(jobRepo repository.JobRepository, blobs blobstore.Store, q *queue.Queue, schemas llm.SchemaResolver, maxUploadBytes int64, enqueueOpts queue.EnqueueOptions, logger *slog.Logger) *Service {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jobRepo:        jobRepo,
		blobs:          blobs,
		queue:          q,
		schemas:        schemas,
		maxUploadBytes: maxUploadBytes,
		defaultAttempt: enqueueOpts,
		logger:         logger,
	}
}

// DirectUploadInput is a direct submission: caller-supplied bytes.
type DirectUploadInput struct {
	TenantID    string
	SubmitterID string
	Type        models.JobType
	FileName    string
	MimeType    string
	Data        []byte
	SchemaRef   string // required iff Type == extract
	Hints       string
	WebhookURL  string
}

// URLIngestInput is a URL-ingest submission: the Worker fetches at run time.
type URLIngestInput struct {
	TenantID    string
	SubmitterID string
	Type        models.JobType
	SourceURL   string
	FileName    string
	MimeType    string
	SchemaRef   string
	Hints       string
	WebhookURL  string
}

// PresignInput reserves a blobKey and issues a short-lived upload URL.
type PresignInput struct {
	TenantID    string
	SubmitterID string
	Type        models.JobType
	FileName    string
	MimeType    string
	SchemaRef   string
	Hints       string
	WebhookURL  string
}

// PresignResult is returned to the caller of the presign step.
type PresignResult struct {
	JobID     string
	UploadURL string
}

// ConfirmInput identifies the job whose presigned upload is complete.
type ConfirmInput struct {
	TenantID string
	JobID    string
}

func (s *Service) validateCommon(jobType models.JobType, mimeType string, schemaRef string) error {
	if jobType != models.JobTypeParse && jobType != models.JobTypeExtract {
		return fmt.Errorf("%w: type must be parse or extract", ErrValidation)
	}
	if mimeType != "" && !allowedMimeTypes[mimeType] {
		return fmt.Errorf("%w: unsupported mime type %q", ErrValidation, mimeType)
	}
	if jobType == models.JobTypeExtract {
		if schemaRef == "" {
			return fmt.Errorf("%w: extract requires schemaRef", ErrValidation)
		}
		if s.schemas != nil {
			if _, ok := s.schemas.Resolve(context.Background(), schemaRef); !ok {
				return fmt.Errorf("%w: schemaRef %q does not resolve", ErrValidation, schemaRef)
			}
		}
	}
	return nil
}

func blobKey(tenantID, jobID, fileName string) string {
	return fmt.Sprintf("%s/jobs/%s/%s", tenantID, jobID, fileName)
}

func newJobID() string {
	return "job_" + strings.ToLower(ulid.Make().String())
}

// SubmitDirect implements spec.md §4.1.1: create the row pending, upload
// bytes, update the row with blobKey, enqueue. Failures at (b)/(d) flip the
// job to failed with UPLOAD_FAILED/ENQUEUE_FAILED rather than rejecting the
// request — the caller always receives a Job snapshot.
func (s *Service) SubmitDirect(ctx context.Context, in DirectUploadInput) (*models.Job, error) {
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrValidation)
	}
	if int64(len(in.Data)) > s.maxUploadBytes {
		return nil, fmt.Errorf("%w: file exceeds max upload size of %d bytes", ErrValidation, s.maxUploadBytes)
	}
	if err := s.validateCommon(in.Type, in.MimeType, in.SchemaRef); err != nil {
		return nil, err
	}

	jobID := newJobID()
	key := blobKey(in.TenantID, jobID, in.FileName)
	now := time.Now()
	job := &models.Job{
		ID:         jobID,
		TenantID:   in.TenantID,
		Type:       in.Type,
		Status:     models.JobStatusPending,
		BlobKey:    key,
		FileName:   in.FileName,
		MimeType:   in.MimeType,
		FileSize:   int64(len(in.Data)),
		SchemaRef:  in.SchemaRef,
		Hints:      in.Hints,
		WebhookURL: in.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobRepo.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("create job row: %w", err)
	}

	if err := s.blobs.Put(ctx, key, in.Data, in.MimeType); err != nil {
		return s.failAdmission(ctx, job, apierr.UploadFailed(err))
	}

	if err := s.enqueue(ctx, job); err != nil {
		return s.failAdmission(ctx, job, apierr.EnqueueFailed(err))
	}

	return s.jobRepo.GetByID(ctx, job.ID)
}

// SubmitURL implements spec.md §4.1.2: create the row with sourceUrl set
// and no blobKey, enqueue. The Worker fetches the bytes at run time.
func (s *Service) SubmitURL(ctx context.Context, in URLIngestInput) (*models.Job, error) {
	if !strings.HasPrefix(in.SourceURL, "http://") && !strings.HasPrefix(in.SourceURL, "https://") {
		return nil, fmt.Errorf("%w: url must be http or https", ErrValidation)
	}
	if err := s.validateCommon(in.Type, in.MimeType, in.SchemaRef); err != nil {
		return nil, err
	}

	jobID := newJobID()
	now := time.Now()
	job := &models.Job{
		ID:         jobID,
		TenantID:   in.TenantID,
		Type:       in.Type,
		Status:     models.JobStatusPending,
		SourceURL:  in.SourceURL,
		FileName:   in.FileName,
		MimeType:   in.MimeType,
		SchemaRef:  in.SchemaRef,
		Hints:      in.Hints,
		WebhookURL: in.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobRepo.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("create job row: %w", err)
	}

	if err := s.enqueue(ctx, job); err != nil {
		return s.failAdmission(ctx, job, apierr.EnqueueFailed(err))
	}

	return s.jobRepo.GetByID(ctx, job.ID)
}

// Presign implements spec.md §4.1.3's first phase: reserve a blobKey, issue
// a short-lived upload URL, and leave the job pending with no Work Item.
func (s *Service) Presign(ctx context.Context, in PresignInput) (*PresignResult, error) {
	if err := s.validateCommon(in.Type, in.MimeType, in.SchemaRef); err != nil {
		return nil, err
	}

	jobID := newJobID()
	key := blobKey(in.TenantID, jobID, in.FileName)
	now := time.Now()
	job := &models.Job{
		ID:            jobID,
		TenantID:      in.TenantID,
		Type:          in.Type,
		Status:        models.JobStatusPending,
		PendingUpload: key,
		FileName:      in.FileName,
		MimeType:      in.MimeType,
		SchemaRef:     in.SchemaRef,
		Hints:         in.Hints,
		WebhookURL:    in.WebhookURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.jobRepo.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("create job row: %w", err)
	}

	uploadURL, err := s.blobs.PresignPut(ctx, key, in.MimeType, defaultPresignTTL)
	if err != nil {
		if _, failErr := s.failAdmission(ctx, job, apierr.UploadFailed(err)); failErr != nil {
			s.logger.Error("submission: failed to record presign failure", "job_id", job.ID, "error", failErr)
		}
		return nil, fmt.Errorf("presign upload url: %w", err)
	}

	return &PresignResult{JobID: job.ID, UploadURL: uploadURL}, nil
}

// Confirm implements spec.md §4.1.3's second phase. A second confirm on the
// same job returns the stable ErrAlreadyConfirmed and does not enqueue a
// second Work Item (spec.md §8 idempotence property).
func (s *Service) Confirm(ctx context.Context, in ConfirmInput) (*models.Job, error) {
	job, err := s.jobRepo.GetByID(ctx, in.JobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if job.TenantID != in.TenantID {
		return nil, ErrForbidden
	}
	if job.Status != models.JobStatusPending || job.PendingUpload == "" {
		return nil, ErrAlreadyConfirmed
	}

	key := job.PendingUpload
	exists, err := s.blobs.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check uploaded object: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: no object uploaded at the reserved key", ErrValidation)
	}

	cleared := ""
	if _, err := s.jobRepo.Update(ctx, job.ID, repository.Patch{BlobKey: &key, PendingUpload: &cleared}); err != nil {
		return nil, fmt.Errorf("persist confirmed blob key: %w", err)
	}
	job.BlobKey = key
	job.PendingUpload = cleared

	if err := s.enqueue(ctx, job); err != nil {
		return s.failAdmission(ctx, job, apierr.EnqueueFailed(err))
	}

	return s.jobRepo.GetByID(ctx, job.ID)
}

func (s *Service) enqueue(ctx context.Context, job *models.Job) error {
	return s.queue.Enqueue(ctx, queue.WorkItem{JobID: job.ID, TenantID: job.TenantID}, queue.EnqueueOptions{
		MaxAttempts: s.defaultAttempt.MaxAttempts,
		BackoffBase: s.defaultAttempt.BackoffBase,
		BackoffMax:  s.defaultAttempt.BackoffMax,
		DedupKey:    job.ID,
	})
}

// failAdmission flips job to failed with classifiedErr's code/message and
// returns the refreshed snapshot — the caller still receives a 2xx/Job
// response, not a synchronous admission error, per spec.md §4.1.
func (s *Service) failAdmission(ctx context.Context, job *models.Job, classifiedErr *apierr.Error) (*models.Job, error) {
	now := time.Now()
	status := models.JobStatusFailed
	code := string(classifiedErr.Code)
	message := classifiedErr.Error()
	if _, err := s.jobRepo.Update(ctx, job.ID, repository.Patch{
		Status:       &status,
		ErrorCode:    &code,
		ErrorMessage: &message,
		CompletedAt:  &now,
	}); err != nil {
		s.logger.Error("submission: failed to record admission failure", "job_id", job.ID, "error", err)
	}
	return s.jobRepo.GetByID(ctx, job.ID)
}

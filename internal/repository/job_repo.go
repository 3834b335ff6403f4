package repository

import (
	"database/sql"
	"context"
	"fmt"
	"strings"
	"time"

	"ocrbase/internal/models"
)

// SQLiteJobRepository implements JobRepository against libsql/SQLite.
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a new Job Store repository.
func NewSQLiteJobRepository(db *sql.DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

func (r *SQLiteJobRepository) Insert(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, tenant_id, type, status, blob_key, source_url, pending_upload,
			file_name, mime_type, file_size, schema_ref, hints,
			markdown_result, json_result, error_code, error_message,
			attempts_made, max_attempts, processing_time_ms, page_count, llm_model, token_count,
			webhook_url, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.TenantID, job.Type, job.Status,
		nullString(job.BlobKey), nullString(job.SourceURL), nullString(job.PendingUpload),
		nullString(job.FileName), nullString(job.MimeType), job.FileSize,
		nullString(job.SchemaRef), nullString(job.Hints),
		nullString(job.MarkdownResult), nullString(job.JSONResult),
		nullString(job.ErrorCode), nullString(job.ErrorMessage),
		job.AttemptsMade, job.MaxAttempts,
		job.ProcessingTimeMs, job.PageCount, nullString(job.LLMModel), job.TokenCount,
		nullString(job.WebhookURL),
		nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.CreatedAt.Format(time.RFC3339), job.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `id, tenant_id, type, status, blob_key, source_url, pending_upload,
	file_name, mime_type, file_size, schema_ref, hints,
	markdown_result, json_result, error_code, error_message,
	attempts_made, max_attempts, processing_time_ms, page_count, llm_model, token_count,
	webhook_url, started_at, completed_at, created_at, updated_at, deleted_at`

func (r *SQLiteJobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ? AND deleted_at IS NULL`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Update applies a field-scoped patch: only columns whose Patch field is
// non-nil are written, so the Worker and the Submission API never clobber
// each other's writes to disjoint columns (spec §5).
func (r *SQLiteJobRepository) Update(ctx context.Context, id string, patch Patch) (*models.Job, error) {
	var sets []string
	var args []interface{}

	add := func(col string, val interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.BlobKey != nil {
		add("blob_key", nullString(*patch.BlobKey))
	}
	if patch.PendingUpload != nil {
		add("pending_upload", nullString(*patch.PendingUpload))
	}
	if patch.MimeType != nil {
		add("mime_type", nullString(*patch.MimeType))
	}
	if patch.FileSize != nil {
		add("file_size", *patch.FileSize)
	}
	if patch.MarkdownResult != nil {
		add("markdown_result", nullString(*patch.MarkdownResult))
	}
	if patch.JSONResult != nil {
		add("json_result", nullString(*patch.JSONResult))
	}
	if patch.ErrorCode != nil {
		add("error_code", nullString(*patch.ErrorCode))
	}
	if patch.ErrorMessage != nil {
		add("error_message", nullString(*patch.ErrorMessage))
	}
	if patch.AttemptsMade != nil {
		add("attempts_made", *patch.AttemptsMade)
	}
	if patch.ProcessingTimeMs != nil {
		add("processing_time_ms", *patch.ProcessingTimeMs)
	}
	if patch.PageCount != nil {
		add("page_count", *patch.PageCount)
	}
	if patch.LLMModel != nil {
		add("llm_model", nullString(*patch.LLMModel))
	}
	if patch.TokenCount != nil {
		add("token_count", *patch.TokenCount)
	}
	if patch.StartedAt != nil {
		add("started_at", nullTime(patch.StartedAt))
	}
	if patch.CompletedAt != nil {
		add("completed_at", nullTime(patch.CompletedAt))
	}
	if patch.DeletedAt != nil {
		add("deleted_at", nullTime(patch.DeletedAt))
	}

	if len(sets) == 0 {
		return r.GetByID(ctx, id)
	}

	add("updated_at", time.Now().Format(time.RFC3339))
	args = append(args, id)

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = ?", strings.Join(sets, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}

	return r.GetByID(ctx, id)
}

func (r *SQLiteJobRepository) Delete(ctx context.Context, id string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, "UPDATE jobs SET deleted_at = ?, updated_at = ? WHERE id = ?", now, now, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteJobRepository) List(ctx context.Context, filter JobFilter, page Page) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE deleted_at IS NULL`
	var args []interface{}

	if filter.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, filter.TenantID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}

	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, page.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJobFromRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkStaleRunningJobsFailed flips jobs stuck in processing/extracting past
// maxAge (a prior worker process crash) to failed/TIMEOUT.
func (r *SQLiteJobRepository) MarkStaleRunningJobsFailed(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Format(time.RFC3339)
	now := time.Now().Format(time.RFC3339)

	query := `
		UPDATE jobs
		SET status = ?, error_code = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE status IN (?, ?) AND started_at < ?
	`
	result, err := r.db.ExecContext(ctx, query,
		models.JobStatusFailed,
		"TIMEOUT",
		"job terminated: worker process restarted before completion",
		now, now,
		models.JobStatusProcessing, models.JobStatusExtracting,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("mark stale running jobs failed: %w", err)
	}
	count, _ := result.RowsAffected()
	return count, nil
}

func scanJob(row *sql.Row) (*models.Job, error) {
	var job models.Job
	var blobKey, sourceURL, pendingUpload, fileName, mimeType sql.NullString
	var schemaRef, hints, markdownResult, jsonResult sql.NullString
	var errorCode, errorMessage, llmModel sql.NullString
	var startedAt, completedAt, deletedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&job.ID, &job.TenantID, &job.Type, &job.Status,
		&blobKey, &sourceURL, &pendingUpload,
		&fileName, &mimeType, &job.FileSize,
		&schemaRef, &hints,
		&markdownResult, &jsonResult,
		&errorCode, &errorMessage,
		&job.AttemptsMade, &job.MaxAttempts,
		&job.ProcessingTimeMs, &job.PageCount, &llmModel, &job.TokenCount,
		&job.WebhookURL,
		&startedAt, &completedAt, &createdAt, &updatedAt, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	fillJob(&job, blobKey, sourceURL, pendingUpload, fileName, mimeType, schemaRef, hints,
		markdownResult, jsonResult, errorCode, errorMessage, llmModel,
		startedAt, completedAt, deletedAt, createdAt, updatedAt)
	return &job, nil
}

func scanJobFromRows(rows *sql.Rows) (*models.Job, error) {
	var job models.Job
	var blobKey, sourceURL, pendingUpload, fileName, mimeType sql.NullString
	var schemaRef, hints, markdownResult, jsonResult sql.NullString
	var errorCode, errorMessage, llmModel sql.NullString
	var startedAt, completedAt, deletedAt sql.NullString
	var createdAt, updatedAt string

	err := rows.Scan(
		&job.ID, &job.TenantID, &job.Type, &job.Status,
		&blobKey, &sourceURL, &pendingUpload,
		&fileName, &mimeType, &job.FileSize,
		&schemaRef, &hints,
		&markdownResult, &jsonResult,
		&errorCode, &errorMessage,
		&job.AttemptsMade, &job.MaxAttempts,
		&job.ProcessingTimeMs, &job.PageCount, &llmModel, &job.TokenCount,
		&job.WebhookURL,
		&startedAt, &completedAt, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	fillJob(&job, blobKey, sourceURL, pendingUpload, fileName, mimeType, schemaRef, hints,
		markdownResult, jsonResult, errorCode, errorMessage, llmModel,
		startedAt, completedAt, deletedAt, createdAt, updatedAt)
	return &job, nil
}

func fillJob(job *models.Job, blobKey, sourceURL, pendingUpload, fileName, mimeType, schemaRef, hints,
	markdownResult, jsonResult, errorCode, errorMessage, llmModel,
	startedAt, completedAt, deletedAt sql.NullString, createdAt, updatedAt string) {
	job.BlobKey = blobKey.String
	job.SourceURL = sourceURL.String
	job.PendingUpload = pendingUpload.String
	job.FileName = fileName.String
	job.MimeType = mimeType.String
	job.SchemaRef = schemaRef.String
	job.Hints = hints.String
	job.MarkdownResult = markdownResult.String
	job.JSONResult = jsonResult.String
	job.ErrorCode = errorCode.String
	job.ErrorMessage = errorMessage.String
	job.LLMModel = llmModel.String
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		job.CompletedAt = &t
	}
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339, deletedAt.String)
		job.DeletedAt = &t
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

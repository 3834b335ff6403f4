package repository

import (
	"context"
	"testing"
	"time"

	"ocrbase/internal/models"

	"github.com/oklog/ulid/v2"
)

func newTestJob(id, tenantID string) *models.Job {
	now := time.Now()
	return &models.Job{
		ID:          id,
		TenantID:    tenantID,
		Type:        models.JobTypeParse,
		Status:      models.JobStatusPending,
		SourceURL:   "https://example.com/doc.pdf",
		MaxAttempts: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestJobRepository_Insert(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	job := newTestJob(ulid.Make().String(), "tenant_123")
	if err := repos.Job.Insert(ctx, job); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := repos.Job.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() returned nil")
	}
	if got.ID != job.ID {
		t.Errorf("ID = %s, want %s", got.ID, job.ID)
	}
	if got.TenantID != job.TenantID {
		t.Errorf("TenantID = %s, want %s", got.TenantID, job.TenantID)
	}
	if got.Status != job.Status {
		t.Errorf("Status = %s, want %s", got.Status, job.Status)
	}
	if got.SourceURL != job.SourceURL {
		t.Errorf("SourceURL = %s, want %s", got.SourceURL, job.SourceURL)
	}
}

func TestJobRepository_GetByID_NotFound(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	got, err := repos.Job.GetByID(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent job")
	}
}

func TestJobRepository_Update_FieldScoped(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	job := newTestJob(ulid.Make().String(), "tenant_123")
	if err := repos.Job.Insert(ctx, job); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	status := models.JobStatusProcessing
	startedAt := time.Now()
	if _, err := repos.Job.Update(ctx, job.ID, Patch{
		Status:    &status,
		StartedAt: &startedAt,
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repos.Job.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != models.JobStatusProcessing {
		t.Errorf("Status = %s, want %s", got.Status, models.JobStatusProcessing)
	}
	if got.StartedAt == nil {
		t.Fatal("StartedAt should be set")
	}
	if got.SourceURL != job.SourceURL {
		t.Errorf("SourceURL = %s, want %s (unset fields must not be clobbered)", got.SourceURL, job.SourceURL)
	}

	markdown := "# Invoice"
	completedAt := time.Now()
	completedStatus := models.JobStatusCompleted
	if _, err := repos.Job.Update(ctx, job.ID, Patch{
		Status:         &completedStatus,
		MarkdownResult: &markdown,
		CompletedAt:    &completedAt,
	}); err != nil {
		t.Fatalf("Update() second call error = %v", err)
	}

	got2, err := repos.Job.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got2.Status != models.JobStatusCompleted {
		t.Errorf("Status = %s, want %s", got2.Status, models.JobStatusCompleted)
	}
	if got2.MarkdownResult != markdown {
		t.Errorf("MarkdownResult = %s, want %s", got2.MarkdownResult, markdown)
	}
	if got2.StartedAt == nil {
		t.Error("StartedAt should still be set after a disjoint patch")
	}
}

func TestJobRepository_Update_NoFields(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	job := newTestJob(ulid.Make().String(), "tenant_123")
	if err := repos.Job.Insert(ctx, job); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := repos.Job.Update(ctx, job.ID, Patch{})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Status != job.Status {
		t.Errorf("Status = %s, want unchanged %s", got.Status, job.Status)
	}
}

func TestJobRepository_Delete(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	job := newTestJob(ulid.Make().String(), "tenant_123")
	if err := repos.Job.Insert(ctx, job); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if err := repos.Job.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got, err := repos.Job.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got != nil {
		t.Error("expected nil for soft-deleted job")
	}
}

func TestJobRepository_List_FilterByTenant(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	tenantA := "tenant_a"
	tenantB := "tenant_b"

	for i := 0; i < 3; i++ {
		if err := repos.Job.Insert(ctx, newTestJob(ulid.Make().String(), tenantA)); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	if err := repos.Job.Insert(ctx, newTestJob(ulid.Make().String(), tenantB)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	jobs, err := repos.Job.List(ctx, JobFilter{TenantID: tenantA}, Page{Limit: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 3 {
		t.Errorf("len(jobs) = %d, want 3", len(jobs))
	}
	for _, job := range jobs {
		if job.TenantID != tenantA {
			t.Errorf("job.TenantID = %s, want %s", job.TenantID, tenantA)
		}
	}
}

func TestJobRepository_List_FilterByStatus(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	statuses := []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusPending,
		models.JobStatusProcessing,
		models.JobStatusCompleted,
		models.JobStatusFailed,
	}

	for _, status := range statuses {
		job := newTestJob(ulid.Make().String(), "tenant_123")
		job.Status = status
		if err := repos.Job.Insert(ctx, job); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	jobs, err := repos.Job.List(ctx, JobFilter{Status: models.JobStatusPending}, Page{Limit: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("len(jobs) = %d, want 2", len(jobs))
	}
	for _, job := range jobs {
		if job.Status != models.JobStatusPending {
			t.Errorf("job.Status = %s, want pending", job.Status)
		}
	}
}

func TestJobRepository_MarkStaleRunningJobsFailed(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	staleStarted := time.Now().Add(-2 * time.Hour)
	stale := newTestJob(ulid.Make().String(), "tenant_123")
	stale.Status = models.JobStatusProcessing
	stale.StartedAt = &staleStarted
	if err := repos.Job.Insert(ctx, stale); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	recentStarted := time.Now().Add(-10 * time.Minute)
	recent := newTestJob(ulid.Make().String(), "tenant_123")
	recent.Status = models.JobStatusExtracting
	recent.StartedAt = &recentStarted
	if err := repos.Job.Insert(ctx, recent); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	count, err := repos.Job.MarkStaleRunningJobsFailed(ctx, time.Hour)
	if err != nil {
		t.Fatalf("MarkStaleRunningJobsFailed() error = %v", err)
	}
	if count != 1 {
		t.Errorf("marked count = %d, want 1", count)
	}

	gotStale, err := repos.Job.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if gotStale.Status != models.JobStatusFailed {
		t.Errorf("stale job Status = %s, want failed", gotStale.Status)
	}
	if gotStale.ErrorCode != "TIMEOUT" {
		t.Errorf("stale job ErrorCode = %s, want TIMEOUT", gotStale.ErrorCode)
	}

	gotRecent, err := repos.Job.GetByID(ctx, recent.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if gotRecent.Status != models.JobStatusExtracting {
		t.Errorf("recent job Status = %s, want extracting", gotRecent.Status)
	}
}

// Package worker drives the Job state machine of spec.md §4.2: dequeue,
// fetch, OCR, optional LLM extraction, terminal persist — a concurrency-gated
// pool of goroutines each blocked in queue.Subscribe, with an activeJobs
// counter and a graceful Stop that waits out a shutdown grace period.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ocrbase/internal/apierr"
	"ocrbase/internal/blobstore"
	"ocrbase/internal/eventbus"
	"ocrbase/internal/llm"
	"ocrbase/internal/models"
	"ocrbase/internal/ocr"
	"ocrbase/internal/queue"
	"ocrbase/internal/repository"
	"ocrbase/internal/webhook"
)

const maxFetchBytes = 50 * 1024 * 1024

// Config holds worker tuning knobs.
type Config struct {
	Concurrency         int           // number of concurrent job processors
	PerAttemptTimeout   time.Duration // deadline for one dequeue-to-terminal attempt
	ShutdownGracePeriod time.Duration // max time to wait for running jobs during shutdown
}

// Worker processes Work Items dequeued from the Queue, driving each Job
// through the state machine of spec.md §4.2.
type Worker struct {
	jobRepo    repository.JobRepository
	blobStore  blobstore.Store
	ocrParser  ocr.Parser
	llmReg     *llm.Registry
	schemas    llm.SchemaResolver
	bus        *eventbus.Bus
	queue      *queue.Queue
	notifier   *webhook.Notifier
	httpClient *http.Client

	concurrency         int
	perAttemptTimeout   time.Duration
	shutdownGracePeriod time.Duration

	activeJobs int64
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// New wires the Worker's collaborators. notifier may be nil if no
// terminal-state webhook notification is configured.
func New(
	jobRepo repository.JobRepository,
	blobStore blobstore.Store,
	ocrParser ocr.Parser,
	llmReg *llm.Registry,
	schemas llm.SchemaResolver,
	bus *eventbus.Bus,
	q *queue.Queue,
	notifier *webhook.Notifier,
	cfg Config,
	logger *slog.Logger,
) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.PerAttemptTimeout <= 0 {
		cfg.PerAttemptTimeout = 5 * time.Minute
	}
	if cfg.ShutdownGracePeriod <= 0 {
		cfg.ShutdownGracePeriod = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Worker{
		jobRepo:             jobRepo,
		blobStore:           blobStore,
		ocrParser:           ocrParser,
		llmReg:              llmReg,
		schemas:             schemas,
		bus:                 bus,
		queue:               q,
		notifier:            notifier,
		httpClient:          &http.Client{Timeout: 2 * time.Minute},
		concurrency:         cfg.Concurrency,
		perAttemptTimeout:   cfg.PerAttemptTimeout,
		shutdownGracePeriod: cfg.ShutdownGracePeriod,
		logger:              logger.With("component", "worker"),
	}
	w.queue.OnTerminalFailure(w.onTerminalFailure)
	return w
}

// Start launches cfg.Concurrency goroutines each subscribed to the Queue,
// plus one that moves Work Items whose retry backoff has elapsed back onto
// the pending list every 500ms. BRPopLPush guarantees each Work Item is claimed by exactly one caller, so
// this is safe across both goroutines and separate processes (spec.md §4.2
// "the Worker must be safe to run in multiple processes").
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting", "concurrency", w.concurrency, "per_attempt_timeout", w.perAttemptTimeout)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func(workerID int) {
			defer w.wg.Done()
			if err := w.queue.Subscribe(ctx, w.handle); err != nil && ctx.Err() == nil {
				w.logger.Error("worker: subscribe loop exited", "worker_id", workerID, "error", err)
			}
		}(i)
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = w.queue.ProcessRetries(ctx)
			}
		}
	}()
}

// ActiveJobs reports the number of Work Items currently being processed.
func (w *Worker) ActiveJobs() int64 {
	return atomic.LoadInt64(&w.activeJobs)
}

// Stop waits for in-flight jobs to finish, up to the configured grace
// period, then returns once all subscribe loops have exited.
func (w *Worker) Stop() {
	w.logger.Info("stopping, waiting for active jobs to complete", "grace_period", w.shutdownGracePeriod)

	deadline := time.Now().Add(w.shutdownGracePeriod)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&w.activeJobs) == 0 {
			break
		}
		time.Sleep(250 * time.Millisecond)
	}
	if remaining := atomic.LoadInt64(&w.activeJobs); remaining > 0 {
		w.logger.Warn("shutdown grace period exceeded, some jobs may be interrupted", "remaining_jobs", remaining)
	}

	w.wg.Wait()
	w.logger.Info("stopped")
}

// handle adapts one Work Item into the Queue's Handler contract, bounding
// the attempt by perAttemptTimeout and classifying the outcome via apierr.
func (w *Worker) handle(ctx context.Context, item queue.WorkItem) (queue.HandlerResult, string, string) {
	atomic.AddInt64(&w.activeJobs, 1)
	defer atomic.AddInt64(&w.activeJobs, -1)

	attemptCtx, cancel := context.WithTimeout(ctx, w.perAttemptTimeout)
	defer cancel()

	err := w.process(attemptCtx, item)
	if err == nil {
		return queue.ResultSuccess, "", ""
	}

	if attemptCtx.Err() == context.DeadlineExceeded {
		err = apierr.Timeout(err)
	}

	code := string(apierr.CodeOf(err))
	message := err.Error()
	w.recordAttemptError(ctx, item.JobID, item.Attempt, code, message)

	if apierr.IsRetryable(err) {
		w.logger.Warn("worker: attempt failed, retryable", "job_id", item.JobID, "attempt", item.Attempt, "code", code, "error", message)
		return queue.ResultRetryable, code, message
	}
	w.logger.Error("worker: attempt failed, unrecoverable", "job_id", item.JobID, "code", code, "error", message)
	return queue.ResultUnrecoverable, code, message
}

// process executes the state machine of spec.md §4.2 for one attempt.
func (w *Worker) process(ctx context.Context, item queue.WorkItem) error {
	job, err := w.jobRepo.GetByID(ctx, item.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", item.JobID, err)
	}
	if job == nil {
		return apierr.JobNotFound(item.JobID)
	}
	if job.Status.Terminal() {
		// Already terminal from a prior attempt's terminal write racing this
		// redelivery; acknowledge without reprocessing.
		return nil
	}

	if job.Status == models.JobStatusPending {
		now := time.Now()
		status := models.JobStatusProcessing
		if _, err := w.jobRepo.Update(ctx, job.ID, repository.Patch{Status: &status, StartedAt: &now}); err != nil {
			return fmt.Errorf("transition to processing: %w", err)
		}
		job.Status = status
		job.StartedAt = &now
		w.publishStatus(ctx, job.ID, status)
	}

	data, mimeType, err := w.obtainSource(ctx, job)
	if err != nil {
		return err
	}

	result, err := w.ocrParser.Parse(ctx, data, mimeType)
	if err != nil {
		return err
	}
	if _, err := w.jobRepo.Update(ctx, job.ID, repository.Patch{
		MarkdownResult: &result.Markdown,
		PageCount:      &result.PageCount,
	}); err != nil {
		return fmt.Errorf("persist markdown result: %w", err)
	}
	job.MarkdownResult = result.Markdown
	job.PageCount = result.PageCount

	if job.Type == models.JobTypeParse {
		return w.complete(ctx, job)
	}
	return w.extract(ctx, job)
}

// obtainSource loads the job's input bytes from the Blob Store or, for URL
// ingest, fetches them over HTTP — updating mimeType/fileSize from the
// response when the source was a URL (spec.md §4.2 step 3).
func (w *Worker) obtainSource(ctx context.Context, job *models.Job) ([]byte, string, error) {
	switch {
	case job.BlobKey != "":
		data, err := w.blobStore.Get(ctx, job.BlobKey)
		if err != nil {
			return nil, "", fmt.Errorf("read blob %s: %w", job.BlobKey, err)
		}
		return data, job.MimeType, nil

	case job.SourceURL != "":
		data, mimeType, err := w.fetchURL(ctx, job.SourceURL)
		if err != nil {
			return nil, "", err
		}
		fileSize := int64(len(data))
		if _, err := w.jobRepo.Update(ctx, job.ID, repository.Patch{MimeType: &mimeType, FileSize: &fileSize}); err != nil {
			w.logger.Warn("worker: failed to persist fetched mime/size", "job_id", job.ID, "error", err)
		}
		job.MimeType = mimeType
		job.FileSize = fileSize
		return data, mimeType, nil

	default:
		return nil, "", apierr.NoSource(job.ID)
	}
}

func (w *Worker) fetchURL(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", apierr.FetchFailed(err, false)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, "", apierr.FetchFailed(err, true)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", apierr.FetchFailed(fmt.Errorf("fetch %s: HTTP %d", sourceURL, resp.StatusCode), isTransientFetch(resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", apierr.FetchFailed(err, true)
	}

	mimeType := resp.Header.Get("Content-Type")
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return data, strings.TrimSpace(mimeType), nil
}

func isTransientFetch(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return statusCode >= 500
}

// extract resolves the job's schema, runs the LLM collaborator, and
// persists jsonResult on success (spec.md §4.2 step 7).
func (w *Worker) extract(ctx context.Context, job *models.Job) error {
	schema, ok := w.schemas.Resolve(ctx, job.SchemaRef)
	if !ok {
		return apierr.SchemaNotFound(job.SchemaRef)
	}

	status := models.JobStatusExtracting
	if _, err := w.jobRepo.Update(ctx, job.ID, repository.Patch{Status: &status}); err != nil {
		return fmt.Errorf("transition to extracting: %w", err)
	}
	job.Status = status
	w.publishStatus(ctx, job.ID, status)

	extracted, err := w.llmReg.Extract(ctx, llm.ExtractRequest{
		Markdown: job.MarkdownResult,
		Schema:   schema,
		Hints:    job.Hints,
	})
	if err != nil {
		return err
	}

	tokenCount := extracted.Usage.InputTokens + extracted.Usage.OutputTokens
	if _, err := w.jobRepo.Update(ctx, job.ID, repository.Patch{
		JSONResult: &extracted.Data,
		LLMModel:   &extracted.Model,
		TokenCount: &tokenCount,
	}); err != nil {
		return fmt.Errorf("persist extraction result: %w", err)
	}
	job.JSONResult = extracted.Data
	job.LLMModel = extracted.Model
	job.TokenCount = tokenCount

	return w.complete(ctx, job)
}

// complete transitions job to its terminal completed state, publishes the
// completed event, and fires any configured webhook.
func (w *Worker) complete(ctx context.Context, job *models.Job) error {
	completedAt := time.Now()
	var processingMs int64
	if job.StartedAt != nil {
		processingMs = completedAt.Sub(*job.StartedAt).Milliseconds()
	}
	status := models.JobStatusCompleted

	updated, err := w.jobRepo.Update(ctx, job.ID, repository.Patch{
		Status:           &status,
		ProcessingTimeMs: &processingMs,
		CompletedAt:      &completedAt,
	})
	if err != nil {
		return fmt.Errorf("transition to completed: %w", err)
	}

	if err := w.bus.Publish(ctx, updated.ID, eventbus.Event{
		Type:             eventbus.EventCompleted,
		Status:           string(models.JobStatusCompleted),
		MarkdownResult:   updated.MarkdownResult,
		JSONResult:       updated.JSONResult,
		ProcessingTimeMs: updated.ProcessingTimeMs,
	}); err != nil {
		w.logger.Warn("worker: failed to publish completed event", "job_id", updated.ID, "error", err)
	}

	if w.notifier != nil {
		w.notifier.NotifyTerminal(ctx, updated)
	}
	w.logger.Info("worker: job completed", "job_id", updated.ID, "type", updated.Type, "processing_time_ms", processingMs)
	return nil
}

// recordAttemptError writes the most recent errorCode/errorMessage and mirrors
// the Queue's redelivery count onto the Job row, while keeping status
// non-terminal — the Queue's terminal-failure callback is the sole writer of
// status=failed (spec.md §4.2).
func (w *Worker) recordAttemptError(ctx context.Context, jobID string, attempt int, code, message string) {
	if _, err := w.jobRepo.Update(ctx, jobID, repository.Patch{AttemptsMade: &attempt, ErrorCode: &code, ErrorMessage: &message}); err != nil {
		w.logger.Error("worker: failed to record attempt error", "job_id", jobID, "error", err)
	}
}

// onTerminalFailure is the Queue's terminal-failure callback: it is the
// sole writer of status=failed once retries are exhausted or the handler
// reports an unrecoverable error (spec.md §4.2).
func (w *Worker) onTerminalFailure(ctx context.Context, jobID, code, message string) {
	now := time.Now()
	status := models.JobStatusFailed
	updated, err := w.jobRepo.Update(ctx, jobID, repository.Patch{
		Status:       &status,
		ErrorCode:    &code,
		ErrorMessage: &message,
		CompletedAt:  &now,
	})
	if err != nil {
		w.logger.Error("worker: failed to persist terminal failure", "job_id", jobID, "error", err)
		return
	}

	if err := w.bus.Publish(ctx, jobID, eventbus.Event{Type: eventbus.EventError, Status: string(models.JobStatusFailed), Error: message}); err != nil {
		w.logger.Warn("worker: failed to publish error event", "job_id", jobID, "error", err)
	}
	if w.notifier != nil {
		w.notifier.NotifyTerminal(ctx, updated)
	}
	w.logger.Error("worker: job failed", "job_id", jobID, "code", code, "error", message)
}

func (w *Worker) publishStatus(ctx context.Context, jobID string, status models.JobStatus) {
	if err := w.bus.Publish(ctx, jobID, eventbus.Event{Type: eventbus.EventStatus, Status: string(status)}); err != nil {
		w.logger.Warn("worker: failed to publish status event", "job_id", jobID, "status", status, "error", err)
	}
}

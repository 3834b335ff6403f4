// Package webhook delivers the supplemental terminal-state notification:
// when a Job reaches completed or failed, and it carries a WebhookURL, the
// Worker fires a signed POST at it and tracks the attempt.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	svixwebhook "github.com/svix/svix-webhooks/go"

	"ocrbase/internal/models"
	"ocrbase/internal/repository"
)

// Payload is the JSON body delivered to a Job's WebhookURL.
type Payload struct {
	Event            string    `json:"event"` // "job.completed" | "job.failed"
	JobID            string    `json:"jobId"`
	Status           string    `json:"status"`
	MarkdownResult   string    `json:"markdownResult,omitempty"`
	JSONResult       string    `json:"jsonResult,omitempty"`
	ErrorCode        string    `json:"errorCode,omitempty"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	ProcessingTimeMs int64     `json:"processingTimeMs,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Notifier sends terminal-state webhook notifications and tracks delivery
// attempts through a WebhookDeliveryRepository.
type Notifier struct {
	logger       *slog.Logger
	client       *http.Client
	deliveryRepo repository.WebhookDeliveryRepository
	signer       *svixwebhook.Webhook
	maxAttempts  int
}

// New creates a Notifier. signingSecret may be empty, in which case
// deliveries are sent unsigned.
func New(logger *slog.Logger, deliveryRepo repository.WebhookDeliveryRepository, signingSecret string, maxAttempts int) (*Notifier, error) {
	n := &Notifier{
		logger:       logger,
		client:       &http.Client{Timeout: 30 * time.Second},
		deliveryRepo: deliveryRepo,
		maxAttempts:  maxAttempts,
	}
	if maxAttempts <= 0 {
		n.maxAttempts = 3
	}
	if signingSecret != "" {
		signer, err := svixwebhook.NewWebhook(signingSecret)
		if err != nil {
			return nil, fmt.Errorf("init webhook signer: %w", err)
		}
		n.signer = signer
	}
	return n, nil
}

// NotifyTerminal fires a fire-and-forget delivery for a job that has just
// reached a terminal status. Safe to call with a background context since
// the send outlives the caller's request.
func (n *Notifier) NotifyTerminal(ctx context.Context, job *models.Job) {
	if job.WebhookURL == "" {
		return
	}

	event := "job.completed"
	if job.Status == models.JobStatusFailed {
		event = "job.failed"
	}

	payload := Payload{
		Event:            event,
		JobID:            job.ID,
		Status:           string(job.Status),
		MarkdownResult:   job.MarkdownResult,
		JSONResult:       job.JSONResult,
		ErrorCode:        job.ErrorCode,
		ErrorMessage:     job.ErrorMessage,
		ProcessingTimeMs: job.ProcessingTimeMs,
		Timestamp:        time.Now().UTC(),
	}

	go n.deliverWithTracking(context.WithoutCancel(ctx), job.WebhookURL, event, job.ID, payload)
}

func (n *Notifier) deliverWithTracking(ctx context.Context, url, event, jobID string, payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("webhook: failed to marshal payload", "job_id", jobID, "error", err)
		return
	}

	delivery := &models.WebhookDelivery{
		JobID:         jobID,
		EventType:     event,
		URL:           url,
		PayloadJSON:   string(body),
		Status:        models.WebhookDeliveryStatusPending,
		AttemptNumber: 1,
		MaxAttempts:   n.maxAttempts,
		CreatedAt:     time.Now(),
	}
	if err := n.deliveryRepo.Create(ctx, delivery); err != nil {
		n.logger.Error("webhook: failed to create delivery record", "job_id", jobID, "error", err)
	}

	n.attempt(ctx, delivery, body)
}

func (n *Notifier) attempt(ctx context.Context, delivery *models.WebhookDelivery, body []byte) {
	for {
		statusCode, err := n.send(ctx, delivery.ID, delivery.URL, body)

		if err == nil && statusCode >= 200 && statusCode < 300 {
			now := time.Now()
			delivery.Status = models.WebhookDeliveryStatusSuccess
			delivery.StatusCode = &statusCode
			delivery.DeliveredAt = &now
			n.logger.Info("webhook: delivered", "job_id", delivery.JobID, "url", delivery.URL, "attempt", delivery.AttemptNumber)
			n.save(ctx, delivery)
			return
		}

		if err != nil {
			delivery.ErrorMessage = err.Error()
		} else {
			delivery.StatusCode = &statusCode
			delivery.ErrorMessage = fmt.Sprintf("HTTP %d", statusCode)
		}

		if delivery.AttemptNumber >= delivery.MaxAttempts {
			delivery.Status = models.WebhookDeliveryStatusFailed
			n.logger.Error("webhook: delivery failed after all attempts",
				"job_id", delivery.JobID, "url", delivery.URL, "attempts", delivery.AttemptNumber, "error", delivery.ErrorMessage)
			n.save(ctx, delivery)
			return
		}

		backoff := time.Duration(delivery.AttemptNumber*delivery.AttemptNumber) * time.Second
		next := time.Now().Add(backoff)
		delivery.Status = models.WebhookDeliveryStatusRetrying
		delivery.NextRetryAt = &next
		n.save(ctx, delivery)

		n.logger.Warn("webhook: delivery failed, retrying", "job_id", delivery.JobID, "attempt", delivery.AttemptNumber, "next_retry", next)
		time.Sleep(backoff)
		delivery.AttemptNumber++
	}
}

func (n *Notifier) save(ctx context.Context, delivery *models.WebhookDelivery) {
	if err := n.deliveryRepo.Update(ctx, delivery); err != nil {
		n.logger.Error("webhook: failed to persist delivery", "delivery_id", delivery.ID, "error", err)
	}
}

func (n *Notifier) send(ctx context.Context, deliveryID, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ocrbase-webhook/1.0")

	if n.signer != nil {
		sig, err := n.signer.Sign(deliveryID, time.Now(), body)
		if err == nil {
			req.Header.Set("Webhook-Signature", sig)
		}
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	return resp.StatusCode, nil
}

// ProcessPendingRetries re-attempts deliveries whose NextRetryAt has passed.
// Intended to be called periodically by a background loop.
func (n *Notifier) ProcessPendingRetries(ctx context.Context, limit int) (int, error) {
	deliveries, err := n.deliveryRepo.GetPendingRetries(ctx, limit)
	if err != nil {
		return 0, err
	}

	for _, delivery := range deliveries {
		n.attempt(ctx, delivery, []byte(delivery.PayloadJSON))
	}

	return len(deliveries), nil
}

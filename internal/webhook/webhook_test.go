package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ocrbase/internal/models"
)

type fakeDeliveryRepo struct {
	mu         sync.Mutex
	deliveries map[string]*models.WebhookDelivery
	creates    int
	updates    int
}

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{deliveries: make(map[string]*models.WebhookDelivery)}
}

func (f *fakeDeliveryRepo) Create(_ context.Context, d *models.WebhookDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == "" {
		d.ID = "delivery_1"
	}
	f.deliveries[d.ID] = d
	f.creates++
	return nil
}

func (f *fakeDeliveryRepo) Update(_ context.Context, d *models.WebhookDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries[d.ID] = d
	f.updates++
	return nil
}

func (f *fakeDeliveryRepo) GetByJobID(_ context.Context, jobID string) ([]*models.WebhookDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.WebhookDelivery
	for _, d := range f.deliveries {
		if d.JobID == jobID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDeliveryRepo) GetPendingRetries(_ context.Context, limit int) ([]*models.WebhookDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.WebhookDelivery
	for _, d := range f.deliveries {
		if d.Status == models.WebhookDeliveryStatusRetrying {
			out = append(out, d)
		}
		if len(out) >= limit && limit > 0 {
			break
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNotifier_NotifyTerminal_NoURLNoOp(t *testing.T) {
	repo := newFakeDeliveryRepo()
	n, err := New(testLogger(), repo, "", 3)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	job := &models.Job{ID: "job_1", Status: models.JobStatusCompleted}
	n.NotifyTerminal(context.Background(), job)

	time.Sleep(20 * time.Millisecond)
	if repo.creates != 0 {
		t.Errorf("creates = %d, want 0 when WebhookURL is empty", repo.creates)
	}
}

func TestNotifier_NotifyTerminal_DeliversOnSuccess(t *testing.T) {
	var received []byte
	var sigHeader string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received, _ = io.ReadAll(r.Body)
		sigHeader = r.Header.Get("Webhook-Signature")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := newFakeDeliveryRepo()
	n, err := New(testLogger(), repo, "whsec_test_secret", 3)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	job := &models.Job{
		ID:         "job_1",
		Status:     models.JobStatusCompleted,
		WebhookURL: server.URL,
	}
	n.NotifyTerminal(context.Background(), job)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	})

	if sigHeader == "" {
		t.Error("expected Webhook-Signature header to be set")
	}

	deliveries, _ := repo.GetByJobID(context.Background(), "job_1")
	if len(deliveries) != 1 {
		t.Fatalf("len(deliveries) = %d, want 1", len(deliveries))
	}
	if deliveries[0].Status != models.WebhookDeliveryStatusSuccess {
		t.Errorf("delivery status = %v, want success", deliveries[0].Status)
	}
}

func TestNotifier_Attempt_RetriesThenFails(t *testing.T) {
	var hits int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	repo := newFakeDeliveryRepo()
	n, err := New(testLogger(), repo, "", 2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	delivery := &models.WebhookDelivery{
		ID:            "delivery_x",
		JobID:         "job_2",
		URL:           server.URL,
		Status:        models.WebhookDeliveryStatusPending,
		AttemptNumber: 1,
		MaxAttempts:   2,
	}
	repo.Create(context.Background(), delivery)

	n.attempt(context.Background(), delivery, []byte(`{}`))

	mu.Lock()
	gotHits := hits
	mu.Unlock()
	if gotHits != 2 {
		t.Errorf("hits = %d, want 2 (maxAttempts)", gotHits)
	}
	if delivery.Status != models.WebhookDeliveryStatusFailed {
		t.Errorf("delivery status = %v, want failed", delivery.Status)
	}
}

package queue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(client, logger, 3, 10*time.Millisecond, time.Second), client
}

func TestQueue_EnqueueSubscribe_Success(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Enqueue(ctx, WorkItem{JobID: "job_1", TenantID: "tenant_1"}, EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	var mu sync.Mutex
	var seen WorkItem
	go func() {
		_ = q.Subscribe(ctx, func(_ context.Context, item WorkItem) (HandlerResult, string, string) {
			mu.Lock()
			seen = item
			mu.Unlock()
			cancel()
			return ResultSuccess, "", ""
		})
	}()

	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if seen.JobID != "job_1" {
		t.Errorf("handled job = %q, want job_1", seen.JobID)
	}
}

func TestQueue_Enqueue_DedupSkipsSecond(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, WorkItem{JobID: "job_1"}, EnqueueOptions{DedupKey: "upload:abc"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := q.Enqueue(ctx, WorkItem{JobID: "job_2"}, EnqueueOptions{DedupKey: "upload:abc"}); err != nil {
		t.Fatalf("Enqueue() (dup) error = %v", err)
	}

	n, err := q.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PendingCount() = %d, want 1 (second enqueue should dedup)", n)
	}
}

func TestQueue_RetryableExhaustsToTerminalCallback(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var terminalCode string
	var terminalMu sync.Mutex
	done := make(chan struct{})
	q.OnTerminalFailure(func(_ context.Context, jobID, code, message string) {
		terminalMu.Lock()
		terminalCode = code
		terminalMu.Unlock()
		close(done)
	})

	if err := q.Enqueue(ctx, WorkItem{JobID: "job_flaky"}, EnqueueOptions{MaxAttempts: 1}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	go func() {
		_ = q.Subscribe(ctx, func(_ context.Context, item WorkItem) (HandlerResult, string, string) {
			return ResultRetryable, "OCR_FAILED", "timeout"
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal-failure callback was never invoked")
	}

	terminalMu.Lock()
	defer terminalMu.Unlock()
	if terminalCode != "OCR_FAILED" {
		t.Errorf("terminal code = %q, want OCR_FAILED", terminalCode)
	}
}

func TestQueue_ProcessRetries_RequeuesReadyItems(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	client.ZAdd(ctx, retryKey, redis.Z{Score: float64(time.Now().Add(-time.Second).Unix()), Member: "job_due"})

	n, err := q.ProcessRetries(ctx)
	if err != nil {
		t.Fatalf("ProcessRetries() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ProcessRetries() = %d, want 1", n)
	}

	pending, _ := q.PendingCount(ctx)
	if pending != 1 {
		t.Errorf("PendingCount() after requeue = %d, want 1", pending)
	}
}

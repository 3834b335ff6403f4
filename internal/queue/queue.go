// Package queue is the Queue collaborator (spec.md §6): a Redis-backed
// work queue with an exclusive per-item claim, retry backoff, dedup, and a
// terminal-failure callback, grounded on the pack's Redis queue idiom
// (BRPopLPush claim, TxPipeline bookkeeping, ZSet-scheduled retries). Claims
// do not expire: an item left in the processing list by a consumer that
// stopped mid-item is not reclaimed.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingKey    = "ocrbase:queue:pending"
	processingKey = "ocrbase:queue:processing"
	retryKey      = "ocrbase:queue:retry"
	itemKeyPrefix = "ocrbase:queue:item:"
	dedupPrefix   = "dedup:"

	itemTTL   = 24 * time.Hour
	claimWait = 5 * time.Second
)

// WorkItem is the unit of work dequeued by a Worker.
type WorkItem struct {
	JobID     string    `json:"jobId"`
	TenantID  string    `json:"tenantId"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"createdAt"`
}

// EnqueueOptions configures retry and dedup behavior for one item.
type EnqueueOptions struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// DedupKey, if set, makes a second Enqueue with the same key a no-op
	// while the first is still pending/processing/retrying.
	DedupKey string
}

// HandlerResult tells the Queue what to do with the item just processed.
type HandlerResult int

const (
	// ResultSuccess removes the item from the processing set.
	ResultSuccess HandlerResult = iota
	// ResultRetryable schedules a redelivery with exponential backoff if
	// attempts remain, otherwise behaves like ResultUnrecoverable.
	ResultRetryable
	// ResultUnrecoverable fires the terminal-failure callback immediately,
	// regardless of attempts remaining.
	ResultUnrecoverable
)

// Handler processes one WorkItem and classifies the outcome.
type Handler func(ctx context.Context, item WorkItem) (HandlerResult, code string, message string)

// TerminalFailureCallback is invoked exactly once per item when retries are
// exhausted or the handler reports an unrecoverable error.
type TerminalFailureCallback func(ctx context.Context, jobID, code, message string)

// Queue is a Redis-backed implementation of the Queue collaborator.
type Queue struct {
	client      *redis.Client
	logger      *slog.Logger
	onTerminal  TerminalFailureCallback
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
}

// New creates a Queue against client. maxAttempts/backoffBase/backoffMax are
// defaults used when EnqueueOptions leaves them zero.
func New(client *redis.Client, logger *slog.Logger, maxAttempts int, backoffBase, backoffMax time.Duration) *Queue {
	return &Queue{
		client:      client,
		logger:      logger,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
	}
}

// OnTerminalFailure registers the callback invoked when a Work Item exhausts
// its attempts or fails unrecoverably. Must be set before Subscribe runs.
func (q *Queue) OnTerminalFailure(cb TerminalFailureCallback) {
	q.onTerminal = cb
}

func (q *Queue) resolveOpts(opts EnqueueOptions) EnqueueOptions {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = q.maxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = q.backoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = q.backoffMax
	}
	return opts
}

// Enqueue admits item for processing. If opts.DedupKey is set and an item
// with that key is already in flight, Enqueue is a no-op.
func (q *Queue) Enqueue(ctx context.Context, item WorkItem, opts EnqueueOptions) error {
	opts = q.resolveOpts(opts)

	if opts.DedupKey != "" {
		ok, err := q.client.SetNX(ctx, dedupPrefix+opts.DedupKey, item.JobID, itemTTL).Result()
		if err != nil {
			return fmt.Errorf("dedup check: %w", err)
		}
		if !ok {
			q.logger.Debug("queue: deduped enqueue", "job_id", item.JobID, "dedup_key", opts.DedupKey)
			return nil
		}
	}

	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	item.Attempt = 1

	itemData, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal work item: %w", err)
	}

	optsData, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("marshal enqueue options: %w", err)
	}

	itemKey := itemKeyPrefix + item.JobID
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, itemKey, map[string]interface{}{
		"item": string(itemData),
		"opts": string(optsData),
	})
	pipe.Expire(ctx, itemKey, itemTTL)
	pipe.LPush(ctx, pendingKey, item.JobID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %s: %w", item.JobID, err)
	}

	q.logger.Info("queue: enqueued", "job_id", item.JobID, "tenant_id", item.TenantID)
	return nil
}

// Subscribe runs handler over items as they arrive, blocking until ctx is
// canceled. Safe to call concurrently from multiple goroutines/processes —
// BRPopLPush guarantees each item is claimed by exactly one caller.
func (q *Queue) Subscribe(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		jobID, err := q.client.BRPopLPush(ctx, pendingKey, processingKey, claimWait).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Error("queue: claim failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		q.process(ctx, jobID, handler)
	}
}

func (q *Queue) process(ctx context.Context, jobID string, handler Handler) {
	itemKey := itemKeyPrefix + jobID
	fields, err := q.client.HGetAll(ctx, itemKey).Result()
	if err != nil || fields["item"] == "" {
		q.logger.Warn("queue: work item metadata missing, dropping", "job_id", jobID, "error", err)
		q.client.LRem(ctx, processingKey, 1, jobID)
		return
	}

	var item WorkItem
	if err := json.Unmarshal([]byte(fields["item"]), &item); err != nil {
		q.logger.Error("queue: corrupt work item, dropping", "job_id", jobID, "error", err)
		q.client.LRem(ctx, processingKey, 1, jobID)
		return
	}
	var opts EnqueueOptions
	_ = json.Unmarshal([]byte(fields["opts"]), &opts)
	opts = q.resolveOpts(opts)

	result, code, message := handler(ctx, item)

	switch result {
	case ResultSuccess:
		q.client.LRem(ctx, processingKey, 1, jobID)
		q.client.Del(ctx, itemKey)

	case ResultRetryable:
		if item.Attempt < opts.MaxAttempts {
			q.scheduleRetry(ctx, jobID, item, opts)
			return
		}
		q.fail(ctx, jobID, code, message)

	case ResultUnrecoverable:
		q.fail(ctx, jobID, code, message)
	}

	if opts.DedupKey != "" {
		q.client.Del(ctx, dedupPrefix+opts.DedupKey)
	}
}

func (q *Queue) scheduleRetry(ctx context.Context, jobID string, item WorkItem, opts EnqueueOptions) {
	item.Attempt++
	backoff := time.Duration(math.Min(
		float64(opts.BackoffBase)*math.Pow(2, float64(item.Attempt-2)),
		float64(opts.BackoffMax),
	))
	next := time.Now().Add(backoff)

	itemData, _ := json.Marshal(item)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, itemKeyPrefix+jobID, "item", string(itemData))
	pipe.ZAdd(ctx, retryKey, redis.Z{Score: float64(next.Unix()), Member: jobID})
	pipe.LRem(ctx, processingKey, 1, jobID)

	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("queue: failed to schedule retry", "job_id", jobID, "error", err)
		return
	}

	q.logger.Warn("queue: scheduled retry", "job_id", jobID, "attempt", item.Attempt, "next_retry", next)
}

func (q *Queue) fail(ctx context.Context, jobID, code, message string) {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, processingKey, 1, jobID)
	pipe.Del(ctx, itemKeyPrefix+jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("queue: failed to clear terminal item", "job_id", jobID, "error", err)
	}

	q.logger.Error("queue: item exhausted, terminal failure", "job_id", jobID, "code", code)
	if q.onTerminal != nil {
		q.onTerminal(ctx, jobID, code, message)
	}
}

// ProcessRetries moves items whose retry delay has elapsed back onto the
// pending list. Intended to be polled periodically by the Worker.
func (q *Queue) ProcessRetries(ctx context.Context) (int, error) {
	now := time.Now()
	ready, err := q.client.ZRangeByScore(ctx, retryKey, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan retry set: %w", err)
	}
	if len(ready) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, jobID := range ready {
		pipe.ZRem(ctx, retryKey, jobID)
		pipe.LPush(ctx, pendingKey, jobID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("requeue retries: %w", err)
	}

	return len(ready), nil
}

// PendingCount reports the number of items awaiting claim, for health/metrics.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, pendingKey).Result()
}

// Package eventbus is the Event Bus collaborator (spec.md §4.3): a logical
// per-job ordered channel "job:{jobId}" backed by Redis Pub/Sub, with a
// ref-counted registry so multiple Realtime Gateway subscribers for the
// same job share one upstream subscription.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// EventType is the discriminant of an Event's payload.
type EventType string

const (
	EventStatus    EventType = "status"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
	EventPong      EventType = "pong"
)

// Event is one message published on a job's channel.
type Event struct {
	Type             EventType `json:"type"`
	JobID            string    `json:"jobId"`
	Status           string    `json:"status,omitempty"`
	MarkdownResult   string    `json:"markdownResult,omitempty"`
	JSONResult       string    `json:"jsonResult,omitempty"`
	ProcessingTimeMs int64     `json:"processingTimeMs,omitempty"`
	Error            string    `json:"error,omitempty"`
}

func channelFor(jobID string) string {
	return "job:" + jobID
}

// Handler receives events forwarded from the bus. Returning stops nothing;
// callers unsubscribe via the Registry to detach.
type Handler func(Event)

// Bus publishes events; Subscribe/Unsubscribe are exposed through Registry
// so subscriptions can be shared and ref-counted.
type Bus struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a Bus against client.
func New(client *redis.Client, logger *slog.Logger) *Bus {
	return &Bus{client: client, logger: logger}
}

// Publish sends event on jobId's channel. The Bus does not retain history;
// subscribers not currently bound miss it.
func (b *Bus) Publish(ctx context.Context, jobID string, event Event) error {
	event.JobID = jobID
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(jobID), data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channelFor(jobID), err)
	}
	return nil
}

// subscription is the shared upstream Redis Pub/Sub subscription for one
// jobId, fanned out to N local handlers.
type subscription struct {
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	refCount int

	mu       sync.Mutex
	handlers map[int]Handler
	nextID   int
}

// Registry ref-counts subscriptions per jobId: the first Subscribe opens
// the upstream Pub/Sub connection and starts a fan-out goroutine; the last
// matching Unsubscribe tears it down.
type Registry struct {
	bus *Bus

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewRegistry creates a Registry that subscribes through bus.
func NewRegistry(bus *Bus) *Registry {
	return &Registry{bus: bus, subs: make(map[string]*subscription)}
}

// SubscriptionHandle identifies one Subscribe call so Unsubscribe can
// detach exactly that handler.
type SubscriptionHandle struct {
	jobID string
	id    int
}

// Subscribe attaches handler to jobId's channel, opening the upstream
// subscription if this is the first local subscriber, and blocks until the
// subscription is ready (or ctx is done). Returns a handle for Unsubscribe.
func (r *Registry) Subscribe(ctx context.Context, jobID string, handler Handler) (SubscriptionHandle, error) {
	r.mu.Lock()
	sub, exists := r.subs[jobID]
	if !exists {
		subCtx, cancel := context.WithCancel(context.Background())
		pubsub := r.bus.client.Subscribe(subCtx, channelFor(jobID))
		sub = &subscription{
			pubsub:   pubsub,
			cancel:   cancel,
			handlers: make(map[int]Handler),
		}
		r.subs[jobID] = sub
		go r.fanOut(jobID, sub)
	}
	sub.refCount++
	id := sub.nextID
	sub.nextID++
	sub.mu.Lock()
	sub.handlers[id] = handler
	sub.mu.Unlock()
	r.mu.Unlock()

	if !exists {
		// Block until Redis confirms the subscription, bounded by ctx.
		if _, err := sub.pubsub.Receive(ctx); err != nil {
			r.mu.Lock()
			delete(r.subs, jobID)
			r.mu.Unlock()
			sub.cancel()
			_ = sub.pubsub.Close()
			return SubscriptionHandle{}, fmt.Errorf("subscribe to %s: %w", channelFor(jobID), err)
		}
	}

	return SubscriptionHandle{jobID: jobID, id: id}, nil
}

func (r *Registry) fanOut(jobID string, sub *subscription) {
	ch := sub.pubsub.Channel()
	for msg := range ch {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			r.bus.logger.Error("eventbus: corrupt event payload", "job_id", jobID, "error", err)
			continue
		}
		sub.mu.Lock()
		handlers := make([]Handler, 0, len(sub.handlers))
		for _, h := range sub.handlers {
			handlers = append(handlers, h)
		}
		sub.mu.Unlock()
		for _, h := range handlers {
			h(event)
		}
	}
}

// Unsubscribe detaches the handler identified by handle. When the last
// handler for a jobId detaches, the upstream subscription is closed.
func (r *Registry) Unsubscribe(handle SubscriptionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[handle.jobID]
	if !ok {
		return
	}

	sub.mu.Lock()
	delete(sub.handlers, handle.id)
	sub.mu.Unlock()
	sub.refCount--

	if sub.refCount <= 0 {
		delete(r.subs, handle.jobID)
		sub.cancel()
		_ = sub.pubsub.Close()
	}
}

// RefCount reports the number of live local subscribers for jobId, for
// tests and diagnostics.
func (r *Registry) RefCount(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[jobID]; ok {
		return sub.refCount
	}
	return 0
}

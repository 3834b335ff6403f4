// Package realtime is the Realtime Gateway collaborator (spec.md §4.4): a
// per-job SSE or bidirectional WebSocket stream over the Event Bus. SSE
// headers and the heartbeat-via-comment convention follow the usual pattern
// for long-lived huma/chi streams, disabling the response write deadline via
// http.NewResponseController and subscribing to the Event Bus before reading
// the Job Store snapshot to avoid missing an event published in between.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ocrbase/internal/eventbus"
	"ocrbase/internal/http/mw"
	"ocrbase/internal/models"
	"ocrbase/internal/repository"
)

// Gateway serves GET /v1/realtime (spec.md §6): subscribe to a job's Event
// Bus channel, emit a snapshot of its current state, then forward events
// until a terminal one closes the stream.
type Gateway struct {
	registry  *eventbus.Registry
	jobRepo   repository.JobRepository
	keepAlive time.Duration
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// New wires a Gateway. keepAlive is clamped to 30s by config.Load per
// spec.md §4.4; it is not re-clamped here.
func New(registry *eventbus.Registry, jobRepo repository.JobRepository, keepAlive time.Duration, logger *slog.Logger) *Gateway {
	if keepAlive <= 0 {
		keepAlive = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		registry:  registry,
		jobRepo:   jobRepo,
		keepAlive: keepAlive,
		upgrader: websocket.Upgrader{
			// Cross-tenant access is rejected by tenant-ownership checks
			// below, not by origin; CORS policy is out of scope (spec.md §6).
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "realtime"),
	}
}

// ServeHTTP implements GET /v1/realtime?job_id=… (spec.md §6). It resolves
// the job, checks tenant ownership, and dispatches to the bidi WebSocket
// handler when the client asked to upgrade, SSE otherwise.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims := mw.GetUserClaims(r.Context())
	if claims == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, `{"error":"job_id is required"}`, http.StatusBadRequest)
		return
	}

	job, err := g.jobRepo.GetByID(r.Context(), jobID)
	if err != nil {
		http.Error(w, `{"error":"failed to load job"}`, http.StatusInternalServerError)
		return
	}
	// Cross-tenant access returns 404, not 403 (spec.md §6) — existence of
	// another tenant's job is not disclosed.
	if job == nil || job.TenantID != claims.TenantID {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		g.serveBidi(w, r, job)
		return
	}
	g.serveSSE(w, r, job)
}

func snapshotEvent(job *models.Job) models.Event {
	switch job.Status {
	case models.JobStatusCompleted:
		return models.Event{
			Type:  models.EventTypeCompleted,
			JobID: job.ID,
			Data: models.EventData{
				Status:           job.Status,
				MarkdownResult:   job.MarkdownResult,
				JSONResult:       job.JSONResult,
				ProcessingTimeMs: job.ProcessingTimeMs,
			},
		}
	case models.JobStatusFailed:
		return models.Event{
			Type:  models.EventTypeError,
			JobID: job.ID,
			Data:  models.EventData{Status: job.Status, Error: job.ErrorMessage},
		}
	default:
		return models.Event{Type: models.EventTypeStatus, JobID: job.ID, Data: models.EventData{Status: job.Status}}
	}
}

func toWireEvent(jobID string, e eventbus.Event) models.Event {
	return models.Event{
		Type:  models.EventType(e.Type),
		JobID: jobID,
		Data: models.EventData{
			Status:           models.JobStatus(e.Status),
			MarkdownResult:   e.MarkdownResult,
			JSONResult:       e.JSONResult,
			ProcessingTimeMs: e.ProcessingTimeMs,
			Error:            e.Error,
		},
	}
}

// serveSSE streams models.Event-shaped frames as "data: …\n\n" lines. The
// subscribe-then-snapshot ordering (spec.md §4.4) avoids the race where a
// terminal event fires between loading the job and opening the
// subscription: the subscription is live before the snapshot is read.
func (g *Gateway) serveSSE(w http.ResponseWriter, r *http.Request, job *models.Job) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	events := make(chan models.Event, 16)
	handle, err := g.registry.Subscribe(ctx, job.ID, func(e eventbus.Event) {
		select {
		case events <- toWireEvent(job.ID, e):
		default:
		}
	})
	if err != nil {
		http.Error(w, `{"error":"realtime subscription unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	defer g.registry.Unsubscribe(handle)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	snapshot := snapshotEvent(job)
	writeSSEEvent(w, flusher, snapshot)
	if snapshot.Type == models.EventTypeCompleted || snapshot.Type == models.EventTypeError {
		return
	}

	heartbeat := time.NewTicker(g.keepAlive)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev := <-events:
			writeSSEEvent(w, flusher, ev)
			if ev.Type == models.EventTypeCompleted || ev.Type == models.EventTypeError {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, ev models.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", body)
	flusher.Flush()
}

// serveBidi upgrades to a WebSocket connection and forwards the same
// snapshot-then-event stream as frames; a client text frame containing
// {"type":"ping"} receives a {"type":"pong"} frame (spec.md §6), letting a
// client confirm liveness without opening a second connection.
func (g *Gateway) serveBidi(w http.ResponseWriter, r *http.Request, job *models.Job) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("realtime: websocket upgrade failed", "job_id", job.ID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan models.Event, 16)
	handle, err := g.registry.Subscribe(ctx, job.ID, func(e eventbus.Event) {
		select {
		case events <- toWireEvent(job.ID, e):
		default:
		}
	})
	if err != nil {
		_ = conn.WriteJSON(models.Event{Type: models.EventTypeError, JobID: job.ID, Data: models.EventData{Error: "realtime subscription unavailable"}})
		return
	}
	defer g.registry.Unsubscribe(handle)

	snapshot := snapshotEvent(job)
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}
	if snapshot.Type == models.EventTypeCompleted || snapshot.Type == models.EventTypeError {
		return
	}

	pings := make(chan struct{})
	go g.readLoop(conn, cancel, pings)

	heartbeat := time.NewTicker(g.keepAlive)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-pings:
			if err := conn.WriteJSON(models.Event{Type: models.EventTypePong, JobID: job.ID}); err != nil {
				return
			}
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Type == models.EventTypeCompleted || ev.Type == models.EventTypeError {
				return
			}
		}
	}
}

// readLoop drains client frames, signaling pings on the returned channel
// and canceling ctx once the client disconnects.
func (g *Gateway) readLoop(conn *websocket.Conn, cancel context.CancelFunc, pings chan<- struct{}) {
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				g.logger.Debug("realtime: websocket read error", "error", err)
			}
			return
		}
		var frame struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &frame) == nil && frame.Type == "ping" {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
	}
}

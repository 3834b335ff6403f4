// Package client is the Client Waiter collaborator (spec.md §4.5): a thin
// SDK-side helper that opens the Realtime Gateway's SSE stream and blocks
// until a job reaches a terminal state, reconnecting with backoff when the
// stream drops before one arrives.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ocrbase/internal/apierr"
	"ocrbase/internal/models"
)

// Config configures a Client.
type Config struct {
	BaseURL     string // e.g. "https://api.example.com"
	AuthToken   string // bearer token sent with every request
	MaxAttempts int    // reconnect attempts before giving up; default 5
	Backoff     time.Duration
	HTTPClient  *http.Client
}

// Client waits for a job's terminal event over the Realtime Gateway.
type Client struct {
	baseURL     string
	authToken   string
	maxAttempts int
	backoff     time.Duration
	http        *http.Client
}

// New creates a Client from cfg, applying defaults for unset fields.
func New(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		authToken:   cfg.AuthToken,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		http:        cfg.HTTPClient,
	}
}

// WaitForCompletion blocks until jobID reaches a terminal event (completed
// or error) or timeout elapses, reconnecting the underlying SSE stream up
// to maxAttempts times on transport drops. It returns the terminal event,
// or an *apierr.Error with code REALTIME_UNAVAILABLE if the reconnect
// budget is exhausted without ever observing one (spec.md §4.5, §7 — this
// code is client-side only and never surfaces as a Job.errorCode).
func (c *Client) WaitForCompletion(ctx context.Context, jobID string, timeout time.Duration) (*models.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(1<<uint(attempt-1))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, apierr.RealtimeUnavailable(ctx.Err())
			case <-timer.C:
			}
		}

		event, err := c.streamOnce(ctx, jobID)
		if err != nil {
			lastErr = err
			continue
		}
		if event != nil {
			return event, nil
		}
		// Stream closed cleanly with no terminal event observed (e.g. the
		// gateway dropped the connection) — reconnect.
	}

	return nil, apierr.RealtimeUnavailable(lastErr)
}

// streamOnce opens one SSE connection and reads until a terminal event, a
// transport error, or ctx is done. A nil, nil return means the stream
// closed without a terminal event.
func (c *Client) streamOnce(ctx context.Context, jobID string) (*models.Event, error) {
	streamURL := fmt.Sprintf("%s/v1/realtime?job_id=%s", c.baseURL, url.QueryEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("realtime stream returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLines []string
	flush := func() (*models.Event, bool) {
		if len(dataLines) == 0 {
			return nil, false
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = nil
		var ev models.Event
		if json.Unmarshal([]byte(payload), &ev) != nil {
			return nil, false
		}
		return &ev, true
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev, ok := flush(); ok {
				if ev.Type == models.EventTypeCompleted {
					return ev, nil
				}
				if ev.Type == models.EventTypeError && ev.Data.Status == models.JobStatusFailed {
					return ev, nil
				}
				// An error event without a failed status is a transport/bus
				// signal, not a terminal job outcome — reconnect instead.
			}
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// comment / heartbeat, ignore
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

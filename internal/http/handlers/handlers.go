// Package handlers implements the six HTTP operations of spec.md §6 on top
// of the Submission API, Job Store, and Realtime Gateway collaborators.
package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"ocrbase/internal/version"
)

// HealthCheckOutput is the liveness-independent health payload.
type HealthCheckOutput struct {
	Body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
}

// HealthCheck reports process health and build version.
func HealthCheck(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
	out := &HealthCheckOutput{}
	out.Body.Status = "healthy"
	out.Body.Version = version.Get().Short()
	return out, nil
}

// LivezOutput is the Kubernetes liveness probe payload.
type LivezOutput struct {
	Body struct {
		Status string `json:"status" doc:"Liveness status"`
	}
}

// Livez returns 200 whenever the process is running.
func Livez(ctx context.Context, input *struct{}) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// ReadyzOutput is the Kubernetes readiness probe payload.
type ReadyzOutput struct {
	Body struct {
		Status string `json:"status" doc:"Readiness status"`
	}
}

// DBPinger is the subset of *sql.DB the readiness probe depends on.
type DBPinger interface {
	Ping() error
}

// ReadyzHandler checks Job Store connectivity before reporting ready.
type ReadyzHandler struct {
	db DBPinger
}

// NewReadyzHandler wires a readiness handler against db.
func NewReadyzHandler(db DBPinger) *ReadyzHandler {
	return &ReadyzHandler{db: db}
}

// Readyz returns 503 when the Job Store is unreachable.
func (h *ReadyzHandler) Readyz(ctx context.Context, input *struct{}) (*ReadyzOutput, error) {
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			return nil, huma.Error503ServiceUnavailable("database unavailable: " + err.Error())
		}
	}
	out := &ReadyzOutput{}
	out.Body.Status = "ok"
	return out, nil
}

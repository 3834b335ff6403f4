// Package blobstore provides opaque byte storage for uploaded originals,
// addressed by key.
package blobstore

import (
	"context"
	"time"
)

// Store is the Blob Store collaborator: put/get/exists/delete/presignPut
// against keys of the form {tenantId}/jobs/{jobId}/{fileName}.
type Store interface {
	Put(ctx context.Context, key string, data []byte, mimeType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// PresignPut issues a short-lived upload URL for the presigned two-phase
	// upload flow (spec.md §4.1.3).
	PresignPut(ctx context.Context, key string, mimeType string, ttl time.Duration) (string, error)
}

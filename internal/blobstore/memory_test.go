package blobstore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "tenant_1/jobs/job_1/invoice.pdf"

	if err := store.Put(ctx, key, []byte("pdf-bytes"), "application/pdf"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "pdf-bytes" {
		t.Errorf("Get() = %q, want %q", data, "pdf-bytes")
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "nonexistent")
	if err != ErrNotFound {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_Exists(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "tenant_1/jobs/job_1/invoice.pdf"

	exists, err := store.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Error("Exists() should be false before Put")
	}

	if err := store.Put(ctx, key, []byte("data"), "application/pdf"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	exists, err = store.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Error("Exists() should be true after Put")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "tenant_1/jobs/job_1/invoice.pdf"

	if err := store.Put(ctx, key, []byte("data"), "application/pdf"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	exists, _ := store.Exists(ctx, key)
	if exists {
		t.Error("Exists() should be false after Delete")
	}
}

func TestMemoryStore_PresignPut(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	url, err := store.PresignPut(ctx, "tenant_1/jobs/job_1/invoice.pdf", "application/pdf", 15*time.Minute)
	if err != nil {
		t.Fatalf("PresignPut() error = %v", err)
	}
	if url == "" {
		t.Error("PresignPut() returned empty URL")
	}
}

func TestMemoryStore_PutOverwrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "tenant_1/jobs/job_1/invoice.pdf"

	if err := store.Put(ctx, key, []byte("v1"), "application/pdf"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, key, []byte("v2"), "application/pdf"); err != nil {
		t.Fatalf("Put() overwrite error = %v", err)
	}

	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("Get() = %q, want %q", data, "v2")
	}
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*S3Store)(nil)

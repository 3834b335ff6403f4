package ocr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"ocrbase/internal/apierr"
)

func TestHTTPParser_Parse_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"markdown":"# Hello","pageCount":3}`))
	}))
	defer server.Close()

	parser := NewHTTPParser(server.URL)
	result, err := parser.Parse(context.Background(), []byte("pdf-bytes"), "application/pdf")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if result.Markdown != "# Hello" || result.PageCount != 3 {
		t.Errorf("Parse() = %+v, want markdown=# Hello pageCount=3", result)
	}
}

func TestHTTPParser_Parse_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	parser := NewHTTPParser(server.URL)
	_, err := parser.Parse(context.Background(), []byte("data"), "application/pdf")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := apierr.As(err)
	if !ok {
		t.Fatalf("expected *apierr.Error, got %T", err)
	}
	if apiErr.Code != apierr.CodeOCRFailed {
		t.Errorf("Code = %q, want OCR_FAILED", apiErr.Code)
	}
	if !apiErr.Retryable {
		t.Error("503 should be classified retryable")
	}
}

func TestHTTPParser_Parse_BadRequestIsUnrecoverable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	parser := NewHTTPParser(server.URL)
	_, err := parser.Parse(context.Background(), []byte("data"), "application/pdf")
	apiErr, ok := apierr.As(err)
	if !ok {
		t.Fatalf("expected *apierr.Error, got %T", err)
	}
	if apiErr.Retryable {
		t.Error("400 should not be classified retryable")
	}
}

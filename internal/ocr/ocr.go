// Package ocr is the OCR collaborator (spec.md §6): turns a document's raw
// bytes into markdown text, classifying transport/service failures as
// retryable or unrecoverable the way the Worker's other collaborators do.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"ocrbase/internal/apierr"
)

// Result is the OCR collaborator's successful output.
type Result struct {
	Markdown  string
	PageCount int
}

// Parser extracts markdown text from a document.
type Parser interface {
	// Parse returns OCR_FAILED (via apierr) on any failure, classified
	// retryable or not by the adapter.
	Parse(ctx context.Context, data []byte, mimeType string) (*Result, error)
}

// HTTPParser calls an external OCR service over HTTP multipart upload.
type HTTPParser struct {
	endpoint string
	client   *http.Client
}

// NewHTTPParser creates a Parser against endpoint, an HTTP service that
// accepts a multipart "file" field and returns {"markdown", "pageCount"}.
func NewHTTPParser(endpoint string) *HTTPParser {
	return &HTTPParser{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

type httpResponse struct {
	Markdown  string `json:"markdown"`
	PageCount int    `json:"pageCount"`
}

func (p *HTTPParser) Parse(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "document")
	if err != nil {
		return nil, apierr.OCRFailed(fmt.Errorf("build request: %w", err), false)
	}
	if _, err := part.Write(data); err != nil {
		return nil, apierr.OCRFailed(fmt.Errorf("build request: %w", err), false)
	}
	if err := writer.Close(); err != nil {
		return nil, apierr.OCRFailed(fmt.Errorf("build request: %w", err), false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return nil, apierr.OCRFailed(err, false)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Mime-Type", mimeType)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apierr.OCRFailed(err, true)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024*1024))
	if err != nil {
		return nil, apierr.OCRFailed(err, true)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed httpResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, apierr.OCRFailed(fmt.Errorf("decode response: %w", err), false)
		}
		return &Result{Markdown: parsed.Markdown, PageCount: parsed.PageCount}, nil
	}

	retryable := isTransient(resp.StatusCode)
	return nil, apierr.OCRFailed(fmt.Errorf("ocr service returned HTTP %d: %s", resp.StatusCode, respBody), retryable)
}

// isTransient classifies an HTTP status code the way FETCH_FAILED does:
// rate limiting and server-side errors are worth retrying, everything else
// (bad request, unsupported document, unauthorized) is not.
func isTransient(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return statusCode >= 500
}

package apierr

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "with message",
			err:      &Error{Message: "custom message"},
			expected: "custom message",
		},
		{
			name:     "falls back to wrapped error",
			err:      &Error{Err: errors.New("wrapped")},
			expected: "wrapped",
		},
		{
			name:     "falls back to code",
			err:      &Error{Code: CodeTimeout},
			expected: "TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	wrapped := errors.New("network reset")
	err := &Error{Err: wrapped}

	if !errors.Is(err, wrapped) {
		t.Error("errors.Is should see through Unwrap to the wrapped error")
	}
}

func TestIsRetryable_ClassifiedError(t *testing.T) {
	if IsRetryable(LLMParseFailed(nil)) {
		t.Error("LLMParseFailed should never be retryable")
	}
	if !IsRetryable(Timeout(nil)) {
		t.Error("Timeout should be retryable")
	}
}

func TestIsRetryable_UnknownErrorDefaultsRetryable(t *testing.T) {
	if !IsRetryable(errors.New("some unclassified failure")) {
		t.Error("unclassified errors should default to retryable")
	}
}

func TestIsRetryable_WrappedClassifiedError(t *testing.T) {
	wrapped := fmt.Errorf("attempt 1: %w", FetchFailed(errors.New("503"), true))
	if !IsRetryable(wrapped) {
		t.Error("IsRetryable should see through fmt.Errorf wrapping via errors.As")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(SchemaNotFound("invoice-v2")); got != CodeSchemaNotFound {
		t.Errorf("CodeOf() = %q, want %q", got, CodeSchemaNotFound)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf() = %q, want empty for unclassified error", got)
	}
}

func TestLLMParseFailed_NotRetryableRegardlessOfMaxAttempts(t *testing.T) {
	// §8.4: malformed LLM JSON surfaces failed/LLM_PARSE_FAILED with no
	// retry regardless of the job's configured maxAttempts.
	err := LLMParseFailed(errors.New("missing required key \"total\""))
	if err.Retryable {
		t.Error("LLMParseFailed must not be retryable")
	}
	if err.Code != CodeLLMParseFailed {
		t.Errorf("Code = %q, want %q", err.Code, CodeLLMParseFailed)
	}
}

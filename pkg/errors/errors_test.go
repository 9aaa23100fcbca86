package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestNewCLIError creates and validates a CLI error
func TestNewCLIError(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewCLIError(ErrorTypeValidation, "Test error", cause)

	if err.Type != ErrorTypeValidation {
		t.Errorf("Expected type %s, got %s", ErrorTypeValidation, err.Type)
	}
	if err.Message != "Test error" {
		t.Errorf("Expected message 'Test error', got '%s'", err.Message)
	}
	if !errors.Is(err, cause) {
		t.Error("Cause should be reachable through Unwrap")
	}
}

// TestWithSuggestion adds suggestion to error
func TestWithSuggestion(t *testing.T) {
	err := NewCLIError(ErrorTypeValidation, "Test", nil)
	if err.HasSuggestion() {
		t.Error("New error should not have a suggestion")
	}

	result := err.WithSuggestion("Try something else")
	if !result.HasSuggestion() || result.Suggestion != "Try something else" {
		t.Errorf("Suggestion not set: %q", result.Suggestion)
	}
}

func TestQueueFullError(t *testing.T) {
	err := QueueFullError(16)
	if err.Type != ErrorTypeQueueFull {
		t.Errorf("Expected queue_full type, got %s", err.Type)
	}
	if !strings.Contains(err.Message, "16") {
		t.Errorf("Message should mention the limit: %s", err.Message)
	}
}

func TestServerError(t *testing.T) {
	err := ServerError(503)
	if err.StatusCode != 503 {
		t.Errorf("Expected status 503, got %d", err.StatusCode)
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"refused", errors.New("dial tcp 127.0.0.1:80: connect: connection refused"), ErrorTypeNetwork},
		{"deadline", fmt.Errorf("dial: %w", errors.New("context deadline exceeded")), ErrorTypeTimeout},
		{"i/o timeout", errors.New("read tcp: i/o timeout"), ErrorTypeTimeout},
		{"handshake", errors.New("websocket: bad handshake"), ErrorTypeConnection},
		{"close frame", errors.New("websocket: close 1006 (abnormal closure)"), ErrorTypeConnection},
		{"already typed", ClosedError(), ErrorTypeClosed},
		{"wrapped typed", fmt.Errorf("send: %w", QueueFullError(1)), ErrorTypeQueueFull},
		{"other", errors.New("something odd"), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CategorizeError(tt.err)
			if got.Type != tt.want {
				t.Errorf("CategorizeError(%v) type = %s, want %s", tt.err, got.Type, tt.want)
			}
		})
	}
}

func TestCategorizeErrorNil(t *testing.T) {
	if CategorizeError(nil) != nil {
		t.Error("nil error should categorize to nil")
	}
}

func TestFormatError(t *testing.T) {
	if FormatError(nil) != "" {
		t.Error("FormatError(nil) should be empty")
	}

	out := FormatError(errors.New("connect: connection refused"))
	if !strings.Contains(out, "(network)") {
		t.Errorf("Formatted error should include type: %q", out)
	}
	if !strings.Contains(out, "Suggestion:") {
		t.Errorf("Formatted error should include suggestion: %q", out)
	}

	out = FormatError(errors.New("mystery"))
	if strings.Contains(out, "(unknown)") {
		t.Errorf("Unknown type should not be printed: %q", out)
	}
	if !strings.Contains(out, "mystery") {
		t.Errorf("Message missing: %q", out)
	}
}

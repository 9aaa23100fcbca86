package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes different error types
type ErrorType string

const (
	// Network errors
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeConnection ErrorType = "connection"

	// Socket lifecycle errors
	ErrorTypeClosed    ErrorType = "closed"
	ErrorTypeQueueFull ErrorType = "queue_full"

	// Input errors
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"

	// Server errors
	ErrorTypeServer ErrorType = "server"

	ErrorTypeUnknown ErrorType = "unknown"
)

// CLIError represents a structured error with context
type CLIError struct {
	Type       ErrorType
	Message    string
	Cause      error
	Suggestion string
	StatusCode int
}

// Error implements the error interface
func (e *CLIError) Error() string {
	return e.Message
}

// WithSuggestion adds a helpful suggestion to the error
func (e *CLIError) WithSuggestion(suggestion string) *CLIError {
	e.Suggestion = suggestion
	return e
}

// HasSuggestion returns true if the error has a suggestion
func (e *CLIError) HasSuggestion() bool {
	return e.Suggestion != ""
}

// Unwrap returns the underlying error
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// NewCLIError creates a new CLI error
func NewCLIError(errorType ErrorType, message string, cause error) *CLIError {
	return &CLIError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NetworkError creates a network error
func NetworkError(message string) *CLIError {
	err := NewCLIError(ErrorTypeNetwork, message, nil)
	err.Suggestion = "Make sure the server is running and reachable, e.g. 'emoine serve'."
	return err
}

// TimeoutError creates a timeout error
func TimeoutError() *CLIError {
	err := NewCLIError(ErrorTypeTimeout, "Operation timed out", nil)
	err.Suggestion = "The server is taking too long to respond. Try again in a moment."
	return err
}

// ConnectionError wraps a transport failure on the WebSocket
func ConnectionError(message string, cause error) *CLIError {
	err := NewCLIError(ErrorTypeConnection, message, cause)
	err.Suggestion = "The connection is retried automatically; run with --verbose to watch reconnect attempts."
	return err
}

// ClosedError reports use of a connection that was shut down
func ClosedError() *CLIError {
	return NewCLIError(ErrorTypeClosed, "Connection is closed", nil)
}

// QueueFullError reports a send rejected while disconnected
func QueueFullError(limit int) *CLIError {
	err := NewCLIError(ErrorTypeQueueFull,
		fmt.Sprintf("Send queue is full (%d messages)", limit),
		nil)
	err.Suggestion = "Wait for the connection to open or raise ws.max_enqueued_messages."
	return err
}

// ValidationError creates a validation error
func ValidationError(field, reason string) *CLIError {
	message := fmt.Sprintf("Validation error: %s - %s", field, reason)
	return NewCLIError(ErrorTypeValidation, message, nil)
}

// ConfigError reports an unusable configuration value
func ConfigError(key string, cause error) *CLIError {
	err := NewCLIError(ErrorTypeConfig, fmt.Sprintf("Invalid configuration: %s", key), cause)
	err.Suggestion = "Check the value with 'emoine config' and fix it in your config file or environment."
	return err
}

// ServerError creates a server error
func ServerError(statusCode int) *CLIError {
	err := NewCLIError(ErrorTypeServer, fmt.Sprintf("Server error (HTTP %d)", statusCode), nil)
	err.StatusCode = statusCode
	err.Suggestion = "The server encountered an error. Try again in a few moments."
	return err
}

// CategorizeError converts a standard error into a CLIError
func CategorizeError(err error) *CLIError {
	if err == nil {
		return nil
	}

	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr
	}

	errMsg := err.Error()

	switch {
	case strings.Contains(errMsg, "connection refused"):
		e := NetworkError("Could not connect to server. Make sure it's running.")
		e.Cause = err
		return e
	case strings.Contains(errMsg, "timeout"), strings.Contains(errMsg, "context deadline exceeded"):
		e := TimeoutError()
		e.Cause = err
		return e
	case strings.Contains(errMsg, "bad handshake"):
		return ConnectionError("WebSocket handshake rejected", err)
	case strings.Contains(errMsg, "websocket: close"), strings.Contains(errMsg, "use of closed network connection"):
		return ConnectionError("WebSocket connection dropped", err)
	default:
		return NewCLIError(ErrorTypeUnknown, errMsg, err)
	}
}

// FormatError returns a user-friendly error message
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	cliErr := CategorizeError(err)
	var sb strings.Builder

	sb.WriteString("Error")
	if cliErr.Type != ErrorTypeUnknown {
		sb.WriteString(" (")
		sb.WriteString(string(cliErr.Type))
		sb.WriteString(")")
	}
	sb.WriteString(": ")
	sb.WriteString(cliErr.Message)
	sb.WriteString("\n")

	if cliErr.HasSuggestion() {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(cliErr.Suggestion)
		sb.WriteString("\n")
	}

	return sb.String()
}

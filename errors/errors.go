// Package errors provides the error handling system for the relay.
// It includes structured error types, JSON response formatting, request ID
// tracking, and integrated logging with Uber's zap logger.
//
// Errors that cross a component boundary (completion service, Telegram
// delivery, configuration) are returned as *RelayError so callers can branch on
// the Type without inspecting message text:
//
//	err := errors.NewProviderError(requestID, "completion failed", cause)
//	if errors.IsType(err, errors.ProviderError) {
//	    // send the fallback notice
//	}
//
// Only the HTTP surfaces outside the webhook write these errors to clients;
// the webhook always acknowledges with {"ok":true}.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultLogger is the default zap logger instance used throughout the package.
// It is initialized to a production configuration but can be overridden using SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger allows setting a custom zap logger instance.
// A nil logger is ignored.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType represents the category of a failure.
type ErrorType string

const (
	// ValidationError represents input validation failures
	ValidationError ErrorType = "validation_error"
	// PayloadError represents an inbound webhook body that could not be parsed
	PayloadError ErrorType = "payload_error"
	// InternalError represents unexpected internal failures
	InternalError ErrorType = "internal_error"
	// ConfigError represents configuration-related errors
	ConfigError ErrorType = "config_error"
	// ProviderError represents failures of the completion service
	ProviderError ErrorType = "provider_error"
	// DeliveryError represents failures sending a message to the chat platform
	DeliveryError ErrorType = "delivery_error"
	// NotFoundError represents resource not found errors
	NotFoundError ErrorType = "not_found"
)

// RelayError is the error type shared by all relay components. It serializes
// to JSON for HTTP responses while keeping the underlying cause for logging.
type RelayError struct {
	// Type categorizes the error for callers
	Type ErrorType `json:"type"`
	// Message is a human-readable error description
	Message string `json:"message"`
	// Code is the HTTP status code (not exposed in JSON)
	Code int `json:"-"`
	// RequestID links the error to the webhook request that caused it
	RequestID string `json:"request_id"`
	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`
	// err is the underlying error (not exposed in JSON)
	err error
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *RelayError) Unwrap() error {
	return e.err
}

// Is matches on Type only, so errors.Is(err, &RelayError{Type: ProviderError})
// holds for every provider failure.
func (e *RelayError) Is(target error) bool {
	t, ok := target.(*RelayError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WriteError writes a RelayError as a JSON response with its status code.
func WriteError(w http.ResponseWriter, err *RelayError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	json.NewEncoder(w).Encode(err)
}

// ErrorWithType is a drop-in replacement for http.Error that writes a
// RelayError of the given type, picking up the request ID from the response
// headers.
func ErrorWithType(w http.ResponseWriter, message string, errType ErrorType, code int) {
	WriteError(w, &RelayError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

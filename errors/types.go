package errors

import (
	stderrors "errors"
	"net/http"
)

// NewError creates a RelayError with full control over its fields.
// Prefer one of the specialized constructors below.
func NewError(errType ErrorType, message string, code int, requestID string, details map[string]interface{}, err error) *RelayError {
	return &RelayError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewValidationError creates a validation error.
//
// Example:
//
//	err := NewValidationError("req_123", "invalid port", map[string]interface{}{
//	    "field": "server.port",
//	})
func NewValidationError(requestID, message string, validationDetails map[string]interface{}) *RelayError {
	return &RelayError{
		Type:      ValidationError,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details:   validationDetails,
	}
}

// NewPayloadError reports a webhook body that is not a JSON object shaped like
// an update. The webhook never writes it to the client; it is logged only.
func NewPayloadError(requestID string, err error) *RelayError {
	return &RelayError{
		Type:      PayloadError,
		Message:   "Malformed update payload",
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		err:       err,
	}
}

// NewProviderError creates an error for completion service failures:
// timeouts, quota exhaustion, open circuit, malformed responses.
//
// Example:
//
//	err := NewProviderError("req_123", "completion timed out", ctx.Err())
func NewProviderError(requestID string, message string, err error) *RelayError {
	return &RelayError{
		Type:      ProviderError,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewDeliveryError creates an error for a failed chat message delivery.
// status is the HTTP status returned by the platform, 0 for transport errors.
func NewDeliveryError(requestID string, status int, description string, err error) *RelayError {
	details := map[string]interface{}{}
	if status > 0 {
		details["status"] = status
	}
	if description != "" {
		details["description"] = description
	}
	return &RelayError{
		Type:      DeliveryError,
		Message:   "Message delivery failed",
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewConfigError creates a configuration error. These are only produced at
// startup and are fatal.
func NewConfigError(message string, err error) *RelayError {
	return &RelayError{
		Type:    ConfigError,
		Message: message,
		Code:    http.StatusInternalServerError,
		err:     err,
	}
}

// NewInternalError creates an internal error for unexpected failures such as
// recovered panics.
func NewInternalError(requestID string, err error) *RelayError {
	return &RelayError{
		Type:      InternalError,
		Message:   "An internal error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}

// As is a wrapper around errors.As.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// IsType reports whether any RelayError in err's chain has the given type.
func IsType(err error, errType ErrorType) bool {
	return stderrors.Is(err, &RelayError{Type: errType})
}

package errors

import (
	"go.uber.org/zap"
)

// LogError logs an error with its context. RelayErrors are logged with their
// structured fields; anything else is logged as unexpected.
func LogError(logger *zap.Logger, err error, requestID string) {
	var relayErr *RelayError
	if As(err, &relayErr) {
		logger.Error("relay error",
			zap.String("error_type", string(relayErr.Type)),
			zap.String("message", relayErr.Message),
			zap.Int("code", relayErr.Code),
			zap.String("request_id", requestID),
			zap.Any("details", relayErr.Details),
			zap.NamedError("cause", relayErr.Unwrap()),
		)
		return
	}
	logger.Error("unexpected error",
		zap.Error(err),
		zap.String("request_id", requestID),
	)
}

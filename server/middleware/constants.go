package middleware

type contextKey string

const (
	RequestIDKey contextKey = "request_id"

	RequestIDHeader   = "X-Request-ID"
	SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
)

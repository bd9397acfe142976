package middleware

import (
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"

	"github.com/teilomillet/relay/server/metrics"
)

// SecretToken middleware checks the X-Telegram-Bot-Api-Secret-Token header
// against secret. Telegram retries any non-2xx answer, so a mismatching
// request is dropped with the usual {"ok":true} and never reaches next.
// An empty secret disables the check.
func SecretToken(secret string, logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		want := []byte(secret)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(SecretTokenHeader))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				logger.Warn("webhook secret mismatch, update dropped",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("remote_addr", r.RemoteAddr),
				)
				if m != nil {
					m.UpdatesTotal.WithLabelValues("unauthorized").Inc()
				}
				WriteAck(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteAck writes the fixed webhook answer, 200 {"ok":true}.
func WriteAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

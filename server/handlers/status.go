package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/teilomillet/relay/config"
)

// StatusResponse is the body of GET /.
type StatusResponse struct {
	Status      string  `json:"status"`
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	QueueDepth     int    `json:"queue_depth"`
	InFlight       int    `json:"in_flight"`
	CircuitBreaker string `json:"circuit_breaker,omitempty"`
}

// QueueStats reports dispatcher load. *queue.Dispatcher implements it.
type QueueStats interface {
	Len() int
	InFlight() int
}

// BreakerReporter exposes the completion circuit breaker state.
// *provider.CompletionClient implements it.
type BreakerReporter interface {
	BreakerState() gobreaker.State
}

// Status reports that the relay is running and which model answers.
func Status(cfg config.LLMConfig) http.HandlerFunc {
	resp := StatusResponse{
		Status:      "running",
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, resp)
	}
}

// Health reports liveness with the dispatcher backlog. breaker may be nil.
// An open breaker does not fail the check.
func Health(q QueueStats, breaker BreakerReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:     "ok",
			QueueDepth: q.Len(),
			InFlight:   q.InFlight(),
		}
		if breaker != nil {
			resp.CircuitBreaker = breaker.BreakerState().String()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

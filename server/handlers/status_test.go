package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilomillet/relay/config"
)

type fakeQueue struct{ depth, inFlight int }

func (q fakeQueue) Len() int      { return q.depth }
func (q fakeQueue) InFlight() int { return q.inFlight }

type fakeBreaker gobreaker.State

func (b fakeBreaker) BreakerState() gobreaker.State { return gobreaker.State(b) }

func TestStatus(t *testing.T) {
	cfg := config.DefaultConfig().LLM
	cfg.Model = "gpt-4o-mini"
	cfg.Temperature = 0.2

	rec := httptest.NewRecorder()
	Status(cfg)(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"running","provider":"openai","model":"gpt-4o-mini","temperature":0.2}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		breaker BreakerReporter
		want    HealthResponse
	}{
		{
			name:    "without breaker",
			breaker: nil,
			want:    HealthResponse{Status: "ok", QueueDepth: 3, InFlight: 2},
		},
		{
			name:    "breaker open stays healthy",
			breaker: fakeBreaker(gobreaker.StateOpen),
			want:    HealthResponse{Status: "ok", QueueDepth: 3, InFlight: 2, CircuitBreaker: "open"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Health(fakeQueue{depth: 3, inFlight: 2}, tt.breaker)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			var got HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

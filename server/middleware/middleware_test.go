package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teilomillet/relay/server/metrics"
)

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Handler should see the ID in its context
		seen = GetRequestID(r.Context())
		assert.NotEmpty(t, seen)
	}))

	tests := []struct {
		name           string
		providedReqID  string
		shouldBeReused bool
	}{
		{
			name:           "generates new request ID",
			providedReqID:  "",
			shouldBeReused: false,
		},
		{
			name:           "reuses provided request ID",
			providedReqID:  "test-id-123",
			shouldBeReused: true,
		},
		{
			name:           "replaces oversized request ID",
			providedReqID:  strings.Repeat("x", 100),
			shouldBeReused: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.providedReqID != "" {
				req.Header.Set(RequestIDHeader, tt.providedReqID)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			respID := rec.Header().Get(RequestIDHeader)
			assert.NotEmpty(t, respID)
			assert.Equal(t, seen, respID)

			if tt.shouldBeReused {
				assert.Equal(t, tt.providedReqID, respID)
			} else {
				assert.NotEqual(t, tt.providedReqID, respID)
			}
		})
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "", GetRequestID(req.Context()))
}

func TestRecovery(t *testing.T) {
	handler := RequestID(Recovery(zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})))

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body["type"])
	assert.Equal(t, rec.Header().Get(RequestIDHeader), body["request_id"])
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RequestID(Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	})))

	req := httptest.NewRequest("POST", "/webhook", strings.NewReader(`{"message":{"text":"private"}}`))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/webhook", fields["path"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, int64(5), fields["size"])
	assert.NotEmpty(t, fields["request_id"])
	assert.NotContains(t, entries[0].Message+toString(fields), "private")
}

func toString(fields map[string]interface{}) string {
	raw, _ := json.Marshal(fields)
	return string(raw)
}

func TestSecretToken(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		header     string
		wantCalled bool
	}{
		{name: "disabled", secret: "", header: "", wantCalled: true},
		{name: "match", secret: "s3cret", header: "s3cret", wantCalled: true},
		{name: "missing header", secret: "s3cret", header: "", wantCalled: false},
		{name: "wrong header", secret: "s3cret", header: "guess", wantCalled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.NewMetrics()
			called := false
			handler := SecretToken(tt.secret, zaptest.NewLogger(t), m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				WriteAck(w)
			}))

			req := httptest.NewRequest("POST", "/webhook", strings.NewReader(`{}`))
			if tt.header != "" {
				req.Header.Set(SecretTokenHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCalled, called)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

			unauthorized := testutil.ToFloat64(m.UpdatesTotal.WithLabelValues("unauthorized"))
			if tt.wantCalled {
				assert.Equal(t, float64(0), unauthorized)
			} else {
				assert.Equal(t, float64(1), unauthorized)
			}
		})
	}
}

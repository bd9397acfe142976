package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teilomillet/relay/config"
	"github.com/teilomillet/relay/errors"
)

const testToken = "123456:SECRET-TOKEN"

func testConfig(baseURL string) config.TelegramConfig {
	cfg := config.DefaultConfig().Telegram
	cfg.BotToken = testToken
	cfg.BaseURL = baseURL
	cfg.Timeout = 2 * time.Second
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.RateLimit = config.RateLimitConfig{}
	return cfg
}

type recordedRequest struct {
	Path string
	Body map[string]interface{}
}

// fakeTelegram answers sendMessage calls with the scripted responses in
// order, repeating the last one.
type fakeTelegram struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses []func(w http.ResponseWriter)
	calls     atomic.Int32
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := int(f.calls.Add(1))
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Path: r.URL.Path, Body: body})
	respond := f.responses[len(f.responses)-1]
	if n <= len(f.responses) {
		respond = f.responses[n-1]
	}
	f.mu.Unlock()

	respond(w)
}

func (f *fakeTelegram) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func ok(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
}

func fail(status int, description string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":          false,
			"error_code":  status,
			"description": description,
		})
	}
}

func newServer(t *testing.T, responses ...func(w http.ResponseWriter)) (*fakeTelegram, *httptest.Server) {
	t.Helper()
	fake := &fakeTelegram{responses: responses}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, srv
}

func TestSend_Success(t *testing.T) {
	fake, srv := newServer(t, ok)
	cfg := testConfig(srv.URL)
	cfg.ParseMode = "HTML"
	cfg.DisableWebPagePreview = true

	client := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, client.Send(context.Background(), 42, "hello"))

	reqs := fake.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/bot"+testToken+"/sendMessage", reqs[0].Path)
	assert.Equal(t, float64(42), reqs[0].Body["chat_id"])
	assert.Equal(t, "hello", reqs[0].Body["text"])
	assert.Equal(t, "HTML", reqs[0].Body["parse_mode"])
	assert.Equal(t, true, reqs[0].Body["disable_web_page_preview"])
}

func TestSend_OmitsEmptyParseMode(t *testing.T) {
	fake, srv := newServer(t, ok)

	client := New(testConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, client.Send(context.Background(), 7, "plain"))

	reqs := fake.recorded()
	require.Len(t, reqs, 1)
	_, present := reqs[0].Body["parse_mode"]
	assert.False(t, present)
}

func TestSend_APIErrors(t *testing.T) {
	tests := []struct {
		name       string
		response   func(w http.ResponseWriter)
		wantStatus int
		wantCalls  int32
	}{
		{
			name:       "chat not found is not retried",
			response:   fail(http.StatusBadRequest, "Bad Request: chat not found"),
			wantStatus: http.StatusBadRequest,
			wantCalls:  1,
		},
		{
			name:       "forbidden is not retried",
			response:   fail(http.StatusForbidden, "Forbidden: bot was blocked by the user"),
			wantStatus: http.StatusForbidden,
			wantCalls:  1,
		},
		{
			name: "ok false with 200",
			response: func(w http.ResponseWriter) {
				_, _ = w.Write([]byte(`{"ok":false,"description":"weird"}`))
			},
			wantStatus: http.StatusOK,
			wantCalls:  1,
		},
		{
			name:       "persistent 503 exhausts attempts",
			response:   fail(http.StatusServiceUnavailable, "Service Unavailable"),
			wantStatus: http.StatusServiceUnavailable,
			wantCalls:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, srv := newServer(t, tt.response)
			client := New(testConfig(srv.URL), zaptest.NewLogger(t))

			err := client.Send(context.Background(), 1, "hi")
			require.Error(t, err)

			assert.True(t, errors.IsType(err, errors.DeliveryError))
			var relayErr *errors.RelayError
			require.True(t, errors.As(err, &relayErr))
			assert.Equal(t, tt.wantStatus, relayErr.Details["status"])
			assert.NotContains(t, err.Error(), testToken)
			assert.Equal(t, tt.wantCalls, fake.calls.Load())
		})
	}
}

func TestSend_RetriesTransientFailures(t *testing.T) {
	fake, srv := newServer(t,
		fail(http.StatusBadGateway, "Bad Gateway"),
		fail(http.StatusTooManyRequests, "Too Many Requests: retry after 0"),
		ok,
	)

	client := New(testConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, client.Send(context.Background(), 1, "eventually"))
	assert.Equal(t, int32(3), fake.calls.Load())

	// Every attempt carries the full body.
	for _, r := range fake.recorded() {
		assert.Equal(t, "eventually", r.Body["text"])
	}
}

func TestSend_RetryAfterBeyondDeadlineIsNotAwaited(t *testing.T) {
	fake, srv := newServer(t, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 30","parameters":{"retry_after":30}}`))
	})

	cfg := testConfig(srv.URL)
	cfg.Timeout = 500 * time.Millisecond
	client := New(cfg, zaptest.NewLogger(t))

	start := time.Now()
	err := client.Send(context.Background(), 1, "hi")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, int32(1), fake.calls.Load())

	var relayErr *errors.RelayError
	require.True(t, errors.As(err, &relayErr))
	assert.Equal(t, http.StatusTooManyRequests, relayErr.Details["status"])
}

func TestSend_ParseModeFallback(t *testing.T) {
	fake, srv := newServer(t,
		fail(http.StatusBadRequest, "Bad Request: can't parse entities: Unsupported start tag"),
		ok,
	)
	cfg := testConfig(srv.URL)
	cfg.ParseMode = "HTML"

	client := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, client.Send(context.Background(), 1, "<b>unbalanced"))

	reqs := fake.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, "HTML", reqs[0].Body["parse_mode"])
	_, present := reqs[1].Body["parse_mode"]
	assert.False(t, present, "fallback must be sent as plain text")
}

func TestSend_TransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := testConfig(url)
	cfg.Retry.MaxAttempts = 1
	client := New(cfg, zaptest.NewLogger(t))

	err := client.Send(context.Background(), 1, "hi")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.DeliveryError))
	assert.NotContains(t, err.Error(), testToken)
	assert.NotContains(t, err.Error(), "/bot")
}

func TestSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	cfg := testConfig(srv.URL)
	cfg.Timeout = 100 * time.Millisecond
	client := New(cfg, zaptest.NewLogger(t))

	start := time.Now()
	err := client.Send(context.Background(), 1, "hi")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, strings.Contains(err.Error(), "deadline exceeded"), err.Error())
}

func TestSend_EmptyText(t *testing.T) {
	fake, srv := newServer(t, ok)
	client := New(testConfig(srv.URL), zaptest.NewLogger(t))

	err := client.Send(context.Background(), 1, "  \n")
	require.Error(t, err)
	assert.Equal(t, int32(0), fake.calls.Load())
}

func TestSend_RateLimited(t *testing.T) {
	fake, srv := newServer(t, ok)
	cfg := testConfig(srv.URL)
	cfg.RateLimit = config.RateLimitConfig{MessagesPerSecond: 20, Burst: 1}
	client := New(cfg, zaptest.NewLogger(t))

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, client.Send(context.Background(), 1, "tick"))
	}
	// Burst 1 at 20/s: the second and third sends wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, int32(3), fake.calls.Load())
}

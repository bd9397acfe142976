package telegram

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/teilomillet/relay/config"
)

// maxRetryBody bounds how much of a retryable response is buffered.
const maxRetryBody = 64 << 10

// RetryTransport is an http.RoundTripper that retries transport errors and
// configured status codes with capped exponential backoff. A 429 response's
// retry hint (Retry-After header or Telegram's parameters.retry_after) takes
// precedence over the backoff schedule.
//
// Requests with a body must be replayable (http.NewRequest sets GetBody for
// in-memory bodies).
type RetryTransport struct {
	Base        http.RoundTripper
	MaxAttempts int
	Retryable   map[int]bool
	NewBackOff  func() backoff.BackOff
	Logger      *zap.Logger
}

// NewRetryTransport builds a RetryTransport from cfg around base.
// A nil base means http.DefaultTransport.
func NewRetryTransport(base http.RoundTripper, cfg config.RetryConfig, logger *zap.Logger) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	retryable := make(map[int]bool, len(cfg.RetryableStatus))
	for _, code := range cfg.RetryableStatus {
		retryable[code] = true
	}
	return &RetryTransport{
		Base:        base,
		MaxAttempts: cfg.MaxAttempts,
		Retryable:   retryable,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = cfg.InitialDelay
			b.MaxInterval = cfg.MaxDelay
			b.Multiplier = cfg.Multiplier
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
		Logger: logger,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	attempts := t.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	if req.Body != nil && req.GetBody == nil {
		attempts = 1
	}

	var schedule backoff.BackOff = &backoff.ZeroBackOff{}
	if t.NewBackOff != nil {
		schedule = t.NewBackOff()
	}

	ctx := req.Context()
	for attempt := 1; ; attempt++ {
		r := req
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			r = req.Clone(ctx)
			r.Body = body
		}

		resp, err := t.Base.RoundTrip(r)
		if err == nil && !t.Retryable[resp.StatusCode] {
			return resp, nil
		}

		wait := schedule.NextBackOff()
		status := 0
		if err == nil {
			status = resp.StatusCode
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxRetryBody))
			_ = resp.Body.Close()
			resp.Body = io.NopCloser(bytes.NewReader(raw))
			if hint, ok := retryAfter(resp.Header, raw); ok {
				wait = hint
			}
		}

		if attempt >= attempts || wait == backoff.Stop || !fitsDeadline(req, wait) {
			return resp, err
		}

		t.Logger.Debug("retrying telegram request",
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Duration("wait", wait),
			zap.NamedError("cause", redact(err)),
		)

		if resp != nil {
			resp.Body.Close()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// fitsDeadline reports whether waiting d still leaves room before the
// request's deadline.
func fitsDeadline(req *http.Request, d time.Duration) bool {
	deadline, ok := req.Context().Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) > d
}

// retryAfter extracts the server's retry hint from the Retry-After header or
// from Telegram's {"parameters":{"retry_after":N}} error body.
func retryAfter(h http.Header, body []byte) (time.Duration, bool) {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second, true
		}
	}

	var out struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(body, &out); err == nil && out.Parameters.RetryAfter > 0 {
		return time.Duration(out.Parameters.RetryAfter) * time.Second, true
	}
	return 0, false
}


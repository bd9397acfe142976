package provider

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/teilomillet/gollm"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/teilomillet/relay/config"
	"github.com/teilomillet/relay/errors"
	"github.com/teilomillet/relay/server/circuitbreaker"
	"github.com/teilomillet/relay/server/metrics"
	"github.com/teilomillet/relay/server/middleware"
)

// CompletionClient sends a system instruction and a user message to the
// completion service and returns the generated text.
//
// Every failure is returned as an errors.ProviderError. Identical prompts in
// flight at the same time share one upstream call.
type CompletionClient struct {
	llm      Generator
	breaker  *circuitbreaker.CircuitBreaker
	group    singleflight.Group
	timeout  time.Duration
	provider string
	model    string
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewCompletionClient wraps gen with the breaker and timeout configured in
// cfg. m may be nil, in which case nothing is instrumented.
func NewCompletionClient(gen Generator, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*CompletionClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var registry *prometheus.Registry
	if m != nil {
		registry = m.Registry()
	}
	breaker, err := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		Name:             "completion",
		MaxRequests:      cfg.CircuitBreaker.MaxRequests,
		Interval:         cfg.CircuitBreaker.Interval,
		Timeout:          cfg.CircuitBreaker.Timeout,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
	}, logger, registry)
	if err != nil {
		return nil, err
	}

	return &CompletionClient{
		llm:      gen,
		breaker:  breaker,
		timeout:  cfg.LLM.Timeout,
		provider: cfg.LLM.Provider,
		model:    cfg.LLM.Model,
		logger:   logger,
		metrics:  m,
	}, nil
}

// Complete returns the model's reply to user under the system instruction.
// The returned text is trimmed; it may be empty.
func (c *CompletionClient) Complete(ctx context.Context, system, user string) (string, error) {
	requestID := middleware.GetRequestID(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prompt := &gollm.Prompt{Messages: []gollm.PromptMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}}

	start := time.Now()
	v, err, shared := c.group.Do(requestKey(system, user), func() (interface{}, error) {
		var text string
		err := c.breaker.Execute(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := c.llm.Generate(ctx, prompt)
			if err != nil {
				return err
			}
			text = out
			return nil
		})
		return text, err
	})
	duration := time.Since(start)

	if shared && c.metrics != nil {
		c.metrics.CoalescedCompletions.Inc()
	}

	if err != nil {
		c.observe("error", duration)
		c.logger.Warn("completion failed",
			zap.String("request_id", requestID),
			zap.String("provider", c.provider),
			zap.String("model", c.model),
			zap.Duration("duration", duration),
			zap.String("breaker_state", c.breaker.State().String()),
			zap.Error(err),
		)
		return "", errors.NewProviderError(requestID, failureMessage(err), err)
	}

	c.observe("ok", duration)
	text := strings.TrimSpace(v.(string))
	c.logger.Debug("completion finished",
		zap.String("request_id", requestID),
		zap.Duration("duration", duration),
		zap.Int("length", len([]rune(text))),
		zap.Bool("shared", shared),
	)
	return text, nil
}

// BreakerState reports the completion circuit breaker state for health output.
func (c *CompletionClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *CompletionClient) observe(result string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.CompletionDuration.WithLabelValues(result).Observe(d.Seconds())
	}
}

func failureMessage(err error) string {
	switch {
	case circuitbreaker.IsOpen(err):
		return "completion service unavailable"
	case stderrors.Is(err, context.DeadlineExceeded):
		return "completion timed out"
	case stderrors.Is(err, context.Canceled):
		return "completion canceled"
	default:
		return "completion failed"
	}
}

// requestKey identifies identical prompts for coalescing.
func requestKey(system, user string) string {
	return system + "\x00" + user
}

package processing

import (
	"context"
	"runtime/debug"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/teilomillet/relay/config"
	"github.com/teilomillet/relay/errors"
	"github.com/teilomillet/relay/server/metrics"
	"github.com/teilomillet/relay/server/middleware"
)

// Delivery kinds used for metrics.
const (
	kindWelcome = "welcome"
	kindAck     = "ack"
	kindReply   = "reply"
	kindNotice  = "notice"
)

// Pipeline answers one update at a time. Every stage is terminal on its own
// and no failure escapes Process: errors become fixed notices in the chat or
// log lines on the server.
//
// A Pipeline holds only read-only state and is safe for concurrent use;
// invocations for different chats never wait on each other.
type Pipeline struct {
	cfg       config.RelayConfig
	system    string
	triggers  map[string]struct{}
	sender    Sender
	completer Completer
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewPipeline creates a pipeline. system is the instruction placed before
// every user message. metrics may be nil.
func NewPipeline(cfg config.RelayConfig, system string, sender Sender, completer Completer, logger *zap.Logger, m *metrics.Metrics) (*Pipeline, error) {
	if sender == nil {
		return nil, errors.NewConfigError("sender is required", nil)
	}
	if completer == nil {
		return nil, errors.NewConfigError("completer is required", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	triggers := make(map[string]struct{}, len(cfg.WelcomeTriggers))
	for _, t := range cfg.WelcomeTriggers {
		if t = normalize(t); t != "" {
			triggers[t] = struct{}{}
		}
	}

	return &Pipeline{
		cfg:       cfg,
		system:    system,
		triggers:  triggers,
		sender:    sender,
		completer: completer,
		logger:    logger,
		metrics:   m,
	}, nil
}

// Process runs the pipeline for one update and reports where it stopped.
// Panics are recovered, logged and reported as OutcomePanic.
func (p *Pipeline) Process(ctx context.Context, update *Update) (outcome Outcome) {
	logger := p.logger
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			outcome = OutcomePanic
		}
		p.observeOutcome(outcome)
	}()

	msg := update.EffectiveMessage()
	chatID := msg.ChatID()
	if chatID == 0 {
		if update != nil {
			logger.Debug("update has no addressable message", zap.Int64("update_id", update.UpdateID))
		}
		return OutcomeIgnored
	}

	text := msg.Content()
	requestID := middleware.GetRequestID(ctx)
	logger = logger.With(
		zap.String("request_id", requestID),
		zap.Int64("update_id", update.UpdateID),
		zap.Int64("chat_id", chatID),
		zap.Int64("message_id", msg.MessageID),
		zap.Int("text_len", utf8.RuneCountInString(text)),
	)

	if p.isWelcome(msg, text) {
		p.deliver(ctx, logger, chatID, kindWelcome, p.cfg.Messages.Welcome)
		return OutcomeWelcome
	}

	text = strings.TrimSpace(text)
	if text == "" {
		logger.Debug("empty message, nothing to answer")
		return OutcomeEmpty
	}

	if ack := p.cfg.Messages.Acknowledgment; ack != "" {
		p.deliver(ctx, logger, chatID, kindAck, ack)
	}

	answer, err := p.completer.Complete(ctx, p.system, text)
	if err != nil {
		errors.LogError(logger, err, requestID)
		p.deliver(ctx, logger, chatID, kindNotice, p.cfg.Messages.CompletionFailed)
		return OutcomeCompletionFailed
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		logger.Warn("completion returned no text")
		p.deliver(ctx, logger, chatID, kindNotice, p.cfg.Messages.EmptyCompletion)
		return OutcomeEmptyCompletion
	}

	chunks := Chunk(answer, p.maxLen())
	if p.metrics != nil {
		p.metrics.ChunksPerReply.Observe(float64(len(chunks)))
	}

	failed := 0
	for i, chunk := range chunks {
		if !p.deliver(ctx, logger.With(zap.Int("chunk", i+1), zap.Int("chunks", len(chunks))), chatID, kindReply, chunk) {
			failed++
		}
	}
	if failed == 0 {
		logger.Info("reply delivered", zap.Int("chunks", len(chunks)))
		return OutcomeDelivered
	}

	logger.Warn("reply partially delivered",
		zap.Int("chunks", len(chunks)),
		zap.Int("failed", failed),
	)
	if notice := p.cfg.Messages.PartialDelivery; notice != "" {
		p.deliver(ctx, logger, chatID, kindNotice, notice)
	}
	return OutcomePartial
}

func (p *Pipeline) isWelcome(msg *Message, text string) bool {
	if p.cfg.WelcomeOnFirstMessage && msg.MessageID == 1 {
		return true
	}
	_, ok := p.triggers[normalize(text)]
	return ok
}

func (p *Pipeline) maxLen() int {
	if p.cfg.MaxMessageLen > 0 {
		return p.cfg.MaxMessageLen
	}
	return DefaultMaxMessageLen
}

// deliver sends one message and reports success. Failures are logged and
// counted, never returned.
func (p *Pipeline) deliver(ctx context.Context, logger *zap.Logger, chatID int64, kind, text string) bool {
	err := p.sender.Send(ctx, chatID, text)
	result := "ok"
	if err != nil {
		result = "error"
		logger.Warn("delivery failed", zap.String("kind", kind), zap.Error(err))
	}
	if p.metrics != nil {
		p.metrics.DeliveriesTotal.WithLabelValues(kind, result).Inc()
	}
	return err == nil
}

func (p *Pipeline) observeOutcome(o Outcome) {
	if p.metrics != nil {
		p.metrics.PipelineOutcomes.WithLabelValues(string(o)).Inc()
	}
}

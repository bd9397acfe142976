// Package handlers provides the HTTP handlers of the relay: the Telegram
// webhook and the status endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"sort"

	"go.uber.org/zap"

	"github.com/teilomillet/relay/errors"
	"github.com/teilomillet/relay/server/dedup"
	"github.com/teilomillet/relay/server/metrics"
	"github.com/teilomillet/relay/server/middleware"
	"github.com/teilomillet/relay/server/processing"
	"github.com/teilomillet/relay/server/queue"
)

// Submitter schedules background work. *queue.Dispatcher implements it.
type Submitter interface {
	Submit(t queue.Task) error
}

// Processor runs the relay pipeline for one update.
type Processor interface {
	Process(ctx context.Context, update *processing.Update) processing.Outcome
}

// WebhookHandler receives Telegram updates. It answers 200 {"ok":true} to
// every request, whatever happens, and never waits for the pipeline:
// Telegram redelivers anything that is not acknowledged, and a bad update
// retried forever helps nobody.
type WebhookHandler struct {
	pipeline   Processor
	dispatcher Submitter
	dedup      dedup.Store
	maxBody    int64
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewWebhookHandler creates the webhook handler. store and m may be nil.
func NewWebhookHandler(pipeline Processor, dispatcher Submitter, store dedup.Store, maxBody int64, logger *zap.Logger, m *metrics.Metrics) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		pipeline:   pipeline,
		dispatcher: dispatcher,
		dedup:      store,
		maxBody:    maxBody,
		logger:     logger,
		metrics:    m,
	}
}

// ServeHTTP implements http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	logger := h.logger.With(zap.String("request_id", requestID))

	defer func() {
		if err := recover(); err != nil {
			logger.Error("webhook panic recovered",
				zap.Any("error", err),
				zap.ByteString("stack", debug.Stack()),
			)
			h.count("dropped")
		}
		middleware.WriteAck(w)
	}()

	update, keys, err := h.decode(w, r)
	if err != nil {
		logger.Warn("malformed update", zap.Error(errors.NewPayloadError(requestID, err)))
		h.count("malformed")
		return
	}

	logger = logger.With(zap.Int64("update_id", update.UpdateID))
	logger.Info("update received", zap.Strings("keys", keys))

	if h.dedup != nil && update.UpdateID != 0 {
		seen, err := h.dedup.Seen(r.Context(), update.UpdateID)
		switch {
		case err != nil:
			logger.Warn("dedup store unavailable, processing anyway", zap.Error(err))
		case seen:
			logger.Info("duplicate update ignored")
			h.count("duplicate")
			return
		}
	}

	err = h.dispatcher.Submit(func(ctx context.Context) {
		h.pipeline.Process(middleware.WithRequestID(ctx, requestID), update)
	})
	if err != nil {
		logger.Error("update dropped", zap.Error(err))
		h.count("dropped")
		return
	}
	h.count("accepted")
}

// decode reads the body as a JSON object and returns the update together
// with its sorted top-level keys.
func (h *WebhookHandler) decode(w http.ResponseWriter, r *http.Request) (*processing.Update, []string, error) {
	body := r.Body
	if h.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, nil, err
	}
	if fields == nil {
		return nil, nil, fmt.Errorf("update is not a JSON object")
	}

	var update processing.Update
	if err := json.Unmarshal(data, &update); err != nil {
		return nil, nil, err
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &update, keys, nil
}

func (h *WebhookHandler) count(result string) {
	if h.metrics != nil {
		h.metrics.UpdatesTotal.WithLabelValues(result).Inc()
	}
}

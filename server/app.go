package server

import (
	"context"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/teilomillet/relay/config"
	"github.com/teilomillet/relay/server/dedup"
	"github.com/teilomillet/relay/server/handlers"
	"github.com/teilomillet/relay/server/metrics"
	"github.com/teilomillet/relay/server/processing"
	"github.com/teilomillet/relay/server/provider"
	"github.com/teilomillet/relay/server/queue"
	"github.com/teilomillet/relay/server/telegram"
)

// App is a fully wired relay: webhook endpoint, dispatcher, pipeline and
// the outbound clients behind it.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	dispatcher *queue.Dispatcher
	dedup      dedup.Store
	router     *Router
	server     *Server
}

// Option customizes an App.
type Option func(*appOptions)

type appOptions struct {
	completer processing.Completer
	sender    processing.Sender
}

// WithCompleter replaces the chat-model completion client.
func WithCompleter(c processing.Completer) Option {
	return func(o *appOptions) {
		o.completer = c
	}
}

// WithSender replaces the Telegram client.
func WithSender(s processing.Sender) Option {
	return func(o *appOptions) {
		o.sender = s
	}
}

// New builds an App from a validated configuration. The system instruction
// is read here, once, and shared by every pipeline invocation.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	m := metrics.NewMetrics()

	sender := o.sender
	if sender == nil {
		sender = telegram.New(cfg.Telegram, logger.Named("telegram"))
	}

	completer := o.completer
	if completer == nil {
		model, err := provider.NewChatModel(cfg.LLM)
		if err != nil {
			return nil, err
		}
		client, err := provider.NewCompletionClient(model, cfg, logger.Named("completion"), m)
		if err != nil {
			return nil, err
		}
		completer = client
	}

	system := config.LoadSystemInstruction(cfg.LLM.SystemPromptFile, cfg.LLM.SystemPrompt, logger)

	pipeline, err := processing.NewPipeline(cfg.Relay, system, sender, completer, logger.Named("pipeline"), m)
	if err != nil {
		return nil, err
	}

	store, err := dedup.New(cfg.Dedup, logger)
	if err != nil {
		return nil, err
	}

	dispatcher := queue.NewDispatcher(cfg.Queue, logger.Named("dispatcher"), m)

	breaker, _ := completer.(handlers.BreakerReporter)
	router := NewRouter(RouterConfig{
		Config:  cfg,
		Webhook: handlers.NewWebhookHandler(pipeline, dispatcher, store, cfg.Server.MaxBodyBytes, logger.Named("webhook"), m),
		Queue:   dispatcher,
		Breaker: breaker,
		Metrics: m,
		Logger:  logger,
	})

	return &App{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		dispatcher: dispatcher,
		dedup:      store,
		router:     router,
		server:     NewServer(cfg.Server, router, dispatcher, logger),
	}, nil
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler {
	return a.router
}

// Run serves on the configured port until ctx is canceled, then drains
// queued updates.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	return a.server.Start(ctx)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.close()
	return a.server.Serve(ctx, ln)
}

func (a *App) close() {
	if a.dedup == nil {
		return
	}
	if err := a.dedup.Close(); err != nil {
		a.logger.Warn("closing dedup store", zap.Error(err))
	}
}

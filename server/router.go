package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teilomillet/relay/config"
	"github.com/teilomillet/relay/errors"
	"github.com/teilomillet/relay/server/handlers"
	"github.com/teilomillet/relay/server/metrics"
	"github.com/teilomillet/relay/server/middleware"
)

// Router handles HTTP routing
type Router struct {
	router chi.Router
}

// RouterConfig holds what the routes are built from.
type RouterConfig struct {
	Config  *config.Config
	Webhook http.Handler
	Queue   handlers.QueueStats
	Breaker handlers.BreakerReporter // optional
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// NewRouter creates the relay router:
//
//	POST {webhook_path}  Telegram updates, always 200 {"ok":true}
//	GET  /               running status and model
//	GET  /health         liveness and dispatcher backlog
//	GET  /metrics        Prometheus exposition
func NewRouter(rc RouterConfig) *Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(rc.Logger))
	r.Use(middleware.Recovery(rc.Logger))

	r.Group(func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics(rc.Metrics))

		r.With(middleware.SecretToken(rc.Config.Telegram.SecretToken, rc.Logger, rc.Metrics)).
			Post(rc.Config.Server.WebhookPath, rc.Webhook.ServeHTTP)
		r.Get("/", handlers.Status(rc.Config.LLM))
		r.Get("/health", handlers.Health(rc.Queue, rc.Breaker))
	})
	r.Handle("/metrics", rc.Metrics.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errors.ErrorWithType(w, "Not found", errors.NotFoundError, http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errors.ErrorWithType(w, "Method not allowed", errors.ValidationError, http.StatusMethodNotAllowed)
	})

	return &Router{router: r}
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

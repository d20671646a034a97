// Package http assembles the service's HTTP surface: the route tree, the
// middleware chain, and the server lifecycle.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/WAL-Service/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/WAL-Service/internal/interfaces/http/handlers"
	"github.com/turtacn/WAL-Service/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handler and middleware dependencies required
// to build the route tree.
type RouterConfig struct {
	WALHandler         *handlers.WALHandler
	NamespaceHandler   *handlers.NamespaceHandler
	TransactionHandler *handlers.TransactionHandler
	HealthHandler      *handlers.HealthHandler

	RateLimiter    *middleware.RateLimiter
	MetricsHandler http.Handler

	// RequestTimeout is the implicit deadline stamped onto every request.
	RequestTimeout time.Duration

	// MaxBodySize bounds request bodies before JSON decoding.
	MaxBodySize int64

	Logger logging.Logger
}

// NewRouter wires the middleware chain and routes into one http.Handler.
// Order: request-id → real-ip → recoverer → timeout → logging → api-key →
// rate limit → routes. Health and metrics bypass auth and limiting.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}
	if cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(cfg.MaxBodySize))
	}
	r.Use(middleware.RequestLogging(cfg.Logger, middleware.DefaultLoggingConfig()))
	r.Use(middleware.APIKey)
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Handler)
	}

	// Public probes.
	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
	}
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	// WAL routes.
	r.Route("/wal", func(api chi.Router) {
		if cfg.WALHandler != nil {
			api.Post("/write", cfg.WALHandler.Write)
		}
		if cfg.NamespaceHandler != nil {
			api.Get("/namespaces/{name}", cfg.NamespaceHandler.Get)
		}
		if cfg.TransactionHandler != nil {
			api.Get("/transactions", cfg.TransactionHandler.List)
		}
	})

	return r
}

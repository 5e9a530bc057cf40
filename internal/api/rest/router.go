package rest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gavelworks/marketplace-backend/internal/infrastructure/auth"
	"github.com/gavelworks/marketplace-backend/internal/infrastructure/cache"
	"github.com/gavelworks/marketplace-backend/internal/metrics"
	"github.com/gavelworks/marketplace-backend/internal/service/auction"
)

// RouterConfig carries the collaborators the router wires together.
type RouterConfig struct {
	Engine            *auction.Engine
	Bids              auction.BidStore
	Gate              auth.AccessGate
	Logger            *slog.Logger
	Metrics           *metrics.Registry
	RateLimiter       cache.RateLimiter
	RequestsPerMinute int
	// HealthCheck probes the backing store; nil means always healthy.
	HealthCheck func(context.Context) error
}

// NewRouter builds the HTTP routing table with the full middleware stack.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Engine, cfg.Bids, cfg.Gate, cfg.Logger)
	mux := http.NewServeMux()

	authed := func(h http.HandlerFunc) http.Handler {
		return Chain(h, AuthMiddleware(cfg.Gate))
	}

	mux.HandleFunc("POST /api/v1/auth/login", handler.handleLogin)
	mux.Handle("POST /api/v1/listings", authed(handler.handleCreateListing))
	mux.HandleFunc("GET /api/v1/listings/{id}", handler.handleGetListing)
	mux.Handle("DELETE /api/v1/listings/{id}", authed(handler.handleDeleteListing))
	mux.Handle("POST /api/v1/listings/{id}/bids", authed(handler.handlePlaceBid))
	mux.HandleFunc("GET /api/v1/listings/{id}/bids", handler.handleListBids)
	mux.Handle("GET /api/v1/me/listings", authed(handler.handleMyListings))
	mux.Handle("GET /api/v1/me/bids", authed(handler.handleMyBids))
	mux.Handle("GET /api/v1/me/wins", authed(handler.handleMyWins))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.HealthCheck != nil {
			if err := cfg.HealthCheck(r.Context()); err != nil {
				writeErrorBody(w, http.StatusServiceUnavailable, "UNHEALTHY", err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Metrics.Gatherer(), promhttp.HandlerOpts{}))
	}

	middlewares := []Middleware{
		RecoveryMiddleware(cfg.Logger),
		RequestIDMiddleware(),
		LoggingMiddleware(cfg.Logger),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, MetricsMiddleware(cfg.Metrics))
	}
	if cfg.RateLimiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(cfg.RateLimiter, cfg.RequestsPerMinute))
	}

	return Chain(mux, middlewares...)
}

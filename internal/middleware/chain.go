package middleware

import (
	"log/slog"
	"net/http"

	"github.com/relaygate/relaygate/internal/config"
	"github.com/relaygate/relaygate/internal/telemetry"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition
type MiddlewareSet struct {
	RequestID Middleware
	Metrics   Middleware
	Logging   Middleware
	Auth      Middleware
}

// NewMiddlewareSet creates a complete set of middleware with proper dependencies
func NewMiddlewareSet(cfgMgr *config.Manager, logger *slog.Logger, metrics *telemetry.Metrics) MiddlewareSet {
	return MiddlewareSet{
		RequestID: NewRequestIDMiddleware(logger),
		Metrics:   NewMetricsMiddleware(metrics),
		Logging:   NewLoggingMiddleware(logger),
		Auth:      NewAuthMiddleware(cfgMgr, logger),
	}
}

// DefaultChain returns the standard middleware chain for most endpoints
func (ms MiddlewareSet) DefaultChain() Chain {
	return New(
		ms.RequestID, // stamp correlation id first so every later log/metric carries it
		ms.Metrics,   // record latency second, wrapping everything downstream
		ms.Logging,   // log requests third
		ms.Auth,      // authenticate last, closest to the handler
	)
}

// HealthChain returns the middleware chain for health endpoints (no auth)
func (ms MiddlewareSet) HealthChain() Chain {
	return New(
		ms.RequestID,
		ms.Metrics,
		ms.Logging,
	)
}

// PublicChain returns the middleware chain for public endpoints (no auth, minimal logging)
func (ms MiddlewareSet) PublicChain() Chain {
	return New(
		ms.RequestID,
		ms.Metrics,
	)
}

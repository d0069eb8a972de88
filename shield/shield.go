// Package shield provides the HTTP middleware in front of the snapshot
// render endpoint: security headers, body limits, request tracing, the
// same-origin gate, per-IP rate limiting and a drain switch.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.HeadToGet)
//	r.Use(shield.SecurityHeaders(shield.APIHeaders()))
//	r.Use(shield.MaxJSONBody(8 << 20))
//	r.Use(shield.TraceID)
//	r.Use(shield.NewRateLimiter(db).Middleware)
//
// Or apply the whole stack in one call:
//
//	stack := shield.APIStack(db, 8<<20)
//	stack.StartReloaders(done)
//	for _, mw := range stack.Middlewares {
//	    r.Use(mw)
//	}
//
// SameOrigin is applied per route, not in the stack, because only POST
// renders are gated.
package shield

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Stack is the assembled middleware chain with handles on its stateful
// parts.
type Stack struct {
	Middlewares []func(http.Handler) http.Handler
	Drain       *DrainMode
	Limiter     *RateLimiter
}

// StartReloaders starts the drain and rate-limit rule reloaders. They stop
// when done is closed.
func (s *Stack) StartReloaders(done <-chan struct{}) {
	s.Drain.StartReloader(done)
	s.Limiter.StartReloader(done)
}

// APIStack returns the middleware stack for the snapshot service.
// Order: Drain → HeadToGet → SecurityHeaders → MaxJSONBody → TraceID → RateLimiter.
// The health path /healthz bypasses the drain switch and the rate limiter.
func APIStack(db *sql.DB, maxBody int64) *Stack {
	rl := NewRateLimiter(db, "/healthz")
	dm := NewDrainMode(db, "/healthz")
	return &Stack{
		Middlewares: []func(http.Handler) http.Handler{
			dm.Middleware,
			HeadToGet,
			SecurityHeaders(APIHeaders()),
			MaxJSONBody(maxBody),
			TraceID,
			rl.Middleware,
		},
		Drain:   dm,
		Limiter: rl,
	}
}

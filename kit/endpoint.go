// Package kit holds the transport-neutral plumbing shared by the HTTP
// handlers and the MCP tools: request-scoped context values and the
// Endpoint/Middleware chain both transports call into.
package kit

import "context"

// Endpoint is one operation with its request decoded.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

package kit

import "context"

// Transports a render call can arrive on.
const (
	TransportHTTP = "http"
	TransportMCP  = "mcp"
)

type ctxKey int

const (
	transportKey ctxKey = iota
	traceIDKey
	remoteAddrKey
)

// WithTransport records the surface a call arrived on.
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// WithTraceID attaches the trace that log lines and batch records share.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey, addr)
}

// Transport defaults to TransportHTTP.
func Transport(ctx context.Context) string {
	if v, ok := ctx.Value(transportKey).(string); ok {
		return v
	}
	return TransportHTTP
}

func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

func RemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(remoteAddrKey).(string)
	return v
}

// Caller is what a render batch records about who asked for it.
type Caller struct {
	Transport  string
	TraceID    string
	RemoteAddr string
}

// CallerOf collects the caller values stored in ctx.
func CallerOf(ctx context.Context) Caller {
	return Caller{
		Transport:  Transport(ctx),
		TraceID:    TraceID(ctx),
		RemoteAddr: RemoteAddr(ctx),
	}
}

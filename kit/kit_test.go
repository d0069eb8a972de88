package kit

import (
	"context"
	"strings"
	"testing"
)

// WHAT: a batch endpoint wrapped by a logging and a limiting middleware.
// WHY: the first middleware must see the call first and the result last,
// like the batch log around a render.
func TestChain_Order(t *testing.T) {
	var trail []string
	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				trail = append(trail, name+">")
				resp, err := next(ctx, req)
				trail = append(trail, "<"+name)
				return resp, err
			}
		}
	}
	render := func(_ context.Context, req any) (any, error) {
		trail = append(trail, "render")
		return len(req.([]string)), nil
	}

	resp, err := Chain(mw("log"), mw("limit"))(render)(context.Background(), []string{"a", "b"})
	if err != nil || resp != 2 {
		t.Fatalf("resp = %v, err = %v", resp, err)
	}
	if got := strings.Join(trail, " "); got != "log> limit> render <limit <log" {
		t.Fatalf("trail = %q", got)
	}
}

// WHAT: the caller recorded for an HTTP request and for a bare context.
// WHY: a batch record takes all three fields from here; an unset
// transport counts as HTTP.
func TestCallerOf(t *testing.T) {
	if got := CallerOf(context.Background()); got != (Caller{Transport: TransportHTTP}) {
		t.Fatalf("bare context: %+v", got)
	}
	ctx := WithRemoteAddr(WithTraceID(WithTransport(context.Background(), TransportMCP), "trc_1"), "203.0.113.7")
	want := Caller{Transport: TransportMCP, TraceID: "trc_1", RemoteAddr: "203.0.113.7"}
	if got := CallerOf(ctx); got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

package kit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type sizeRequest struct {
	HTML []string `json:"html"`
}

// sizeSession serves a tool that reports the byte size of each HTML
// document, with the caller it was reached as.
func sizeSession(t *testing.T, ctx context.Context) *mcp.ClientSession {
	t.Helper()
	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*sizeRequest)
		sizes := make([]int, 0, len(r.HTML))
		for _, h := range r.HTML {
			if h == "" {
				return nil, errors.New("empty document")
			}
			sizes = append(sizes, len(h))
		}
		return map[string]any{"sizes": sizes, "caller": CallerOf(ctx)}, nil
	}
	RegisterTool(srv, &mcp.Tool{
		Name:        "html_size",
		Description: "Report document sizes.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"html": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}},
		},
	}, endpoint, func(args json.RawMessage) (*sizeRequest, error) {
		var r sizeRequest
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, err
		}
		if len(r.HTML) == 0 {
			return nil, errors.New("html is required")
		}
		return &r, nil
	})

	serverT, clientT := mcp.NewInMemoryTransports()
	go func() { _ = srv.Run(ctx, serverT) }()
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

// WHAT: a successful tool call.
// WHY: the endpoint must run under the MCP transport with a trace of its
// own, and its response must come back as JSON text.
func TestRegisterTool(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session := sizeSession(t, ctx)

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "html_size",
		Arguments: map[string]any{"html": []string{"<p>a</p>", "<b></b>"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("tool error: %v", err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T", result.Content[0])
	}
	var resp struct {
		Sizes  []int
		Caller Caller
	}
	if err := json.Unmarshal([]byte(tc.Text), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Sizes) != 2 || resp.Sizes[0] != 8 || resp.Sizes[1] != 7 {
		t.Fatalf("sizes = %v", resp.Sizes)
	}
	if resp.Caller.Transport != TransportMCP || !strings.HasPrefix(resp.Caller.TraceID, "mcp_") {
		t.Fatalf("caller = %+v", resp.Caller)
	}
}

// WHAT: bad arguments and a failing endpoint.
// WHY: both must reach the caller as tool errors, not protocol failures.
func TestRegisterTool_Errors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session := sizeSession(t, ctx)

	for _, args := range []map[string]any{{}, {"html": []string{""}}} {
		result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "html_size", Arguments: args})
		if err != nil {
			t.Fatalf("protocol error for %v: %v", args, err)
		}
		if result.GetError() == nil {
			t.Fatalf("expected tool error for %v", args)
		}
	}
}

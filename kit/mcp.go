package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/snapwipe/idgen"
)

var mcpTraces = idgen.Prefixed("mcp_", idgen.NanoID(8))

// RegisterTool exposes endpoint as an MCP tool. decode turns the raw tool
// arguments into the endpoint's request. Each call runs under
// TransportMCP with a fresh trace ID unless ctx already carries one.
//
// Decode and endpoint failures are returned as tool errors rather than
// protocol errors so the caller sees the message. A response is sent back
// as one JSON text content.
func RegisterTool[Req any](srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(json.RawMessage) (Req, error)) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req, err := decode(call.Params.Arguments)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		ctx = WithTransport(ctx, TransportMCP)
		if TraceID(ctx) == "" {
			ctx = WithTraceID(ctx, mcpTraces())
		}

		resp, err := endpoint(ctx, req)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

package snapshot

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/snapwipe/kit"
)

// RegisterMCP registers the snapshot_render tool on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	task := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"html":             map[string]any{"type": "string", "description": "Static HTML document to render"},
			"width":            map[string]any{"type": "integer", "description": "Viewport width, clamped to [100,3840]"},
			"height":           map[string]any{"type": "integer", "description": "Viewport height, clamped to [100,2160]"},
			"devicePixelRatio": map[string]any{"type": "number", "description": "Scale factor, clamped to [1,3]"},
		},
		"required": []string{"html"},
	}
	tool := &mcp.Tool{
		Name:        "snapshot_render",
		Description: "Render static HTML snapshots to viewport PNG data URLs in a headless browser.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tasks": map[string]any{"type": "array", "items": task},
			},
			"required": []string{"tasks"},
		},
	}

	kit.RegisterTool(srv, tool, s.Endpoint(), func(args json.RawMessage) (*RenderRequest, error) {
		var r struct {
			Tasks []Task `json:"tasks"`
		}
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, err
		}
		return &RenderRequest{Tasks: r.Tasks}, nil
	})
}

package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/snapwipe/horosafe"
)

// Client calls a snapshot endpoint. It presents its own base URL as the
// referer, so it passes the same-origin gate of a service it is co-hosted
// with.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the service at baseURL. A nil hc gets a
// client with a 30s timeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Warm calls the warm-up route.
func (c *Client) Warm(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+Path, nil)
	if err != nil {
		return fmt.Errorf("snapshot client: %w", err)
	}
	var out map[string]string
	return c.do(req, &out)
}

// Render renders tasks and returns one data URL per task, in order.
func (c *Client) Render(ctx context.Context, tasks []Task) ([]string, error) {
	if tasks == nil {
		tasks = []Task{}
	}
	body, err := json.Marshal(map[string]any{"tasks": tasks})
	if err != nil {
		return nil, fmt.Errorf("snapshot client: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("snapshot client: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Referer", c.baseURL+"/")

	var out BatchResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if len(out.Snapshots) != len(tasks) {
		return nil, fmt.Errorf("snapshot client: got %d snapshots for %d tasks", len(out.Snapshots), len(tasks))
	}
	return out.Snapshots, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("snapshot client: %w", err)
	}
	defer resp.Body.Close()

	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return fmt.Errorf("snapshot client: read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("snapshot client: %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("snapshot client: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("snapshot client: decode: %w", err)
	}
	return nil
}

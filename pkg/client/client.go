package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tbnorth/tattle/internal/heartbeat"
	"github.com/tbnorth/tattle/internal/monitor"
)

// Client talks to a running tattle daemon over its JSON API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string        // e.g. "http://localhost:8111/api"
	Timeout time.Duration // defaults to 10s
	Logger  *slog.Logger  // optional
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8111/api",
		Timeout: 10 * time.Second,
	}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks whether the daemon answers the status endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	var out []heartbeat.RenderedStatus
	err := c.getJSON(ctx, c.baseURL+"/status", &out)
	return err == nil
}

// Report submits one heartbeat and returns the appended entry.
func (c *Client) Report(ctx context.Context, tag, status, message string) (heartbeat.Entry, error) {
	var entry heartbeat.Entry
	body := map[string]string{"tag": tag, "status": status, "message": message}
	err := c.postJSON(ctx, c.baseURL+"/report", body, &entry)
	return entry, err
}

// Register upserts a process's interval and description. interval may be a
// plain seconds count or compound shorthand like "1d2h".
func (c *Client) Register(ctx context.Context, tag, interval, description string) (heartbeat.Process, error) {
	var p heartbeat.Process
	body := map[string]string{"tag": tag, "interval": interval, "description": description}
	err := c.postJSON(ctx, c.baseURL+"/register", body, &p)
	return p, err
}

// Statuses fetches the rendered status sequence.
func (c *Client) Statuses(ctx context.Context, includeDisabled bool) ([]heartbeat.RenderedStatus, error) {
	u := c.baseURL + "/status"
	if includeDisabled {
		u += "?all=1"
	}
	var out []heartbeat.RenderedStatus
	err := c.getJSON(ctx, u, &out)
	return out, err
}

// Severity fetches the worst-case severity reduction.
func (c *Client) Severity(ctx context.Context) (heartbeat.Severity, error) {
	var out struct {
		Severity heartbeat.Severity `json:"severity"`
	}
	err := c.getJSON(ctx, c.baseURL+"/severity", &out)
	return out.Severity, err
}

// Show fetches the last n raw log entries for one tag.
func (c *Client) Show(ctx context.Context, tag string, n int) ([]heartbeat.Entry, error) {
	u := fmt.Sprintf("%s/show/%s?n=%d", c.baseURL, url.PathEscape(tag), n)
	var out []heartbeat.Entry
	err := c.getJSON(ctx, u, &out)
	return out, err
}

// Archive triggers a retention sweep keeping keep rows per process.
func (c *Client) Archive(ctx context.Context, keep int) (monitor.ArchiveResult, error) {
	var out monitor.ArchiveResult
	err := c.postJSON(ctx, c.baseURL+"/archive", map[string]int{"keep": keep}, &out)
	return out, err
}

// Init runs schema reconciliation and returns the decision log.
func (c *Client) Init(ctx context.Context) ([]string, error) {
	var out struct {
		Changes []string `json:"changes"`
	}
	err := c.postJSON(ctx, c.baseURL+"/init", struct{}{}, &out)
	return out.Changes, err
}

// --- transport helpers ---

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) postJSON(ctx context.Context, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "url", req.URL.String(), "err", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", er.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Package sandbox is the HTTP client for the code-execution collaborator.
// The wire contract: POST /execute with {"code", "context", "timeout"}
// returns {"status": "success"|"error", "result"?, "error"?}. A reference
// implementation of the service side lives in cmd/sandboxd.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	cortex "github.com/nevindra/cortex"
)

// Client executes code through the sandbox service.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// New creates a Client for the sandbox at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type executeRequest struct {
	Code    string         `json:"code"`
	Context map[string]any `json:"context,omitempty"`
	Timeout float64        `json:"timeout,omitempty"` // seconds
}

type executeResponse struct {
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Execute runs code with the given variables bound in the sandbox's
// global scope. The timeout is enforced on both sides: as the request
// deadline here and as the subprocess limit in the service.
func (c *Client) Execute(ctx context.Context, code string, vars map[string]any, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// Request deadline slightly above the sandbox's own limit, so the
	// sandbox's richer error wins the race.
	ctx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	payload, err := json.Marshal(executeRequest{
		Code:    code,
		Context: vars,
		Timeout: timeout.Seconds(),
	})
	if err != nil {
		return "", fmt.Errorf("sandbox: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("sandbox: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", cortex.NewResourceError("sandbox", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("sandbox: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", cortex.NewResourceError("sandbox",
			&cortex.ErrHTTP{Status: resp.StatusCode, Body: string(raw)})
	}

	var body executeResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("sandbox: decode response: %w", err)
	}
	if body.Status != "success" {
		msg := body.Error
		if msg == "" {
			msg = "execution failed"
		}
		return "", fmt.Errorf("sandbox: %s", msg)
	}
	return body.Result, nil
}

// Health probes the sandbox service.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return cortex.NewResourceError("sandbox", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return cortex.NewResourceError("sandbox", &cortex.ErrHTTP{Status: resp.StatusCode})
	}
	return nil
}

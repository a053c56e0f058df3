// Package voice is the HTTP client for the speech collaborator:
// POST /transcribe (multipart audio in, JSON text out) and
// POST /synthesize (JSON text in, WAV audio out).
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	cortex "github.com/nevindra/cortex"
)

// Client talks to the speech service.
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

// New creates a Client for the speech service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Transcribe sends audio bytes and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("voice: build form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("voice: copy audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("voice: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &buf)
	if err != nil {
		return "", fmt.Errorf("voice: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", cortex.NewResourceError("voice", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("voice: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", cortex.NewResourceError("voice",
			&cortex.ErrHTTP{Status: resp.StatusCode, Body: string(raw)})
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("voice: decode response: %w", err)
	}
	return strings.TrimSpace(body.Text), nil
}

// Synthesize converts text to WAV audio. An optional voicePath selects a
// cloned voice sample on the service side.
func (c *Client) Synthesize(ctx context.Context, text, voicePath string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, cortex.NewValidationError("text", "Text cannot be empty")
	}
	payload, err := json.Marshal(map[string]string{"text": text, "voice_path": voicePath})
	if err != nil {
		return nil, fmt.Errorf("voice: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("voice: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, cortex.NewResourceError("voice", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("voice: read audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, cortex.NewResourceError("voice",
			&cortex.ErrHTTP{Status: resp.StatusCode, Body: string(raw)})
	}
	return raw, nil
}

// Health probes the speech service.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return cortex.NewResourceError("voice", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return cortex.NewResourceError("voice", &cortex.ErrHTTP{Status: resp.StatusCode})
	}
	return nil
}

// Package openaicompat implements cortex.Engine for any backend exposing
// the OpenAI completions and chat-completions API.
//
// Works with vLLM, llama.cpp server, Ollama, LM Studio, text-generation
// -inference and any other server that implements /v1/completions with the
// echo and logprobs parameters (the basis of perplexity scoring).
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	cortex "github.com/nevindra/cortex"
)

// Backend is a single OpenAI-compatible inference server.
type Backend struct {
	name    string
	baseURL string
	model   string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

var _ cortex.Engine = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithName sets the backend name reported in results (default: host of baseURL).
func WithName(name string) Option {
	return func(b *Backend) { b.name = name }
}

// WithAPIKey sets a bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(b *Backend) { b.apiKey = key }
}

// WithTimeout sets the per-call deadline applied when the caller's context
// has none (default: 60s).
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) { b.timeout = d }
}

// WithHTTPClient replaces the HTTP client (tests, custom transports).
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.client = c }
}

// WithLogger sets a structured logger. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// New creates a Backend for the server at baseURL (e.g. "http://vorpal:8000").
// The /v1/... paths are appended automatically.
func New(baseURL, model string, opts ...Option) *Backend {
	b := &Backend{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		timeout: 60 * time.Second,
		client:  &http.Client{},
		logger:  cortex.NopLogger(),
	}
	for _, o := range opts {
		o(b)
	}
	if b.name == "" {
		b.name = hostOf(b.baseURL)
	}
	return b
}

func hostOf(baseURL string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(baseURL, "https://"), "http://")
	if i := strings.IndexAny(s, ":/"); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "backend"
	}
	return s
}

// Name identifies this backend in results and logs.
func (b *Backend) Name() string { return b.name }

// --- wire types ---

type completionBody struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	LogProbs    *int     `json:"logprobs,omitempty"`
	Echo        bool     `json:"echo,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Text     string `json:"text"`
		LogProbs *struct {
			TokenLogProbs []*float64 `json:"token_logprobs"`
		} `json:"logprobs"`
	} `json:"choices"`
}

type chatBody struct {
	Model       string              `json:"model"`
	Messages    []cortex.ChatMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature"`
	TopP        float64             `json:"top_p,omitempty"`
	Stop        []string            `json:"stop,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a text-completion request. When req.LogProbs > 0 the
// result carries the mean of the non-null per-token log probabilities;
// combined with Echo and MaxTokens=1 this scores the prompt itself.
func (b *Backend) Complete(ctx context.Context, req cortex.CompletionRequest) (cortex.CompletionResult, error) {
	body := completionBody{
		Model:       b.model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Echo:        req.Echo,
	}
	if req.LogProbs > 0 {
		lp := req.LogProbs
		body.LogProbs = &lp
	}

	raw, err := b.post(ctx, "/v1/completions", body)
	if err != nil {
		return cortex.CompletionResult{}, err
	}

	var resp completionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return cortex.CompletionResult{}, fmt.Errorf("%s: decode completion: %w", b.name, err)
	}
	if len(resp.Choices) == 0 {
		return cortex.CompletionResult{}, fmt.Errorf("%s: completion returned no choices", b.name)
	}

	result := cortex.CompletionResult{
		Text:    strings.TrimSpace(resp.Choices[0].Text),
		Backend: b.name,
		Raw:     raw,
	}
	if lp := resp.Choices[0].LogProbs; lp != nil {
		if mean, ok := meanLogProb(lp.TokenLogProbs); ok {
			result.MeanLogProb = mean
			result.HasLogProb = true
		}
	}
	return result, nil
}

// meanLogProb averages the non-null entries. The first token of an echoed
// prompt has a null log probability and is skipped.
func meanLogProb(probs []*float64) (float64, bool) {
	var sum float64
	var n int
	for _, p := range probs {
		if p != nil {
			sum += *p
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Chat sends a chat-completion request.
func (b *Backend) Chat(ctx context.Context, req cortex.ChatRequest) (cortex.ChatResult, error) {
	body := chatBody{
		Model:       b.model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}
	raw, err := b.post(ctx, "/v1/chat/completions", body)
	if err != nil {
		return cortex.ChatResult{}, err
	}
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return cortex.ChatResult{}, fmt.Errorf("%s: decode chat: %w", b.name, err)
	}
	if len(resp.Choices) == 0 {
		return cortex.ChatResult{}, fmt.Errorf("%s: chat returned no choices", b.name)
	}
	return cortex.ChatResult{
		Content: strings.TrimSpace(resp.Choices[0].Message.Content),
		Backend: b.name,
		Raw:     raw,
	}, nil
}

// Health probes the backend's /health endpoint.
func (b *Backend) Health(ctx context.Context) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: health: %w", b.name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &cortex.ErrHTTP{Status: resp.StatusCode, Body: "health check failed"}
	}
	return nil
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

func (b *Backend) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", b.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", b.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", b.name, err)
	}
	b.logger.Debug("backend call",
		"backend", b.name, "path", path,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return nil, &cortex.ErrHTTP{Status: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

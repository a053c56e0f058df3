package openaicompat

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

// Embedder is an OpenAI-compatible /v1/embeddings client.
type Embedder struct {
	name    string
	baseURL string
	model   string
	apiKey  string
	dims    int
	timeout time.Duration
	client  *http.Client
}

var _ cortex.EmbeddingProvider = (*Embedder)(nil)

// EmbedderOption configures an Embedder.
type EmbedderOption func(*Embedder)

// WithEmbedderName sets the provider name (default: host of baseURL).
func WithEmbedderName(name string) EmbedderOption {
	return func(e *Embedder) { e.name = name }
}

// WithEmbedderAPIKey sets a bearer token sent with every request.
func WithEmbedderAPIKey(key string) EmbedderOption {
	return func(e *Embedder) { e.apiKey = key }
}

// WithEmbedderTimeout sets the per-call deadline (default: 30s).
func WithEmbedderTimeout(d time.Duration) EmbedderOption {
	return func(e *Embedder) { e.timeout = d }
}

// WithEmbedderHTTPClient replaces the HTTP client.
func WithEmbedderHTTPClient(c *http.Client) EmbedderOption {
	return func(e *Embedder) { e.client = c }
}

// NewEmbedder creates an Embedder. dims is the dimensionality the model
// produces; responses with a different length are rejected so a
// misconfigured model cannot poison the vector index.
func NewEmbedder(baseURL, model string, dims int, opts ...EmbedderOption) *Embedder {
	e := &Embedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		dims:    dims,
		timeout: 30 * time.Second,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(e)
	}
	if e.name == "" {
		e.name = hostOf(e.baseURL)
	}
	return e
}

// Name identifies this provider.
func (e *Embedder) Name() string { return e.name }

// Dimensions reports the configured vector length.
func (e *Embedder) Dimensions() int { return e.dims }

type embeddingBody struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(embeddingBody{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", e.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", e.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", e.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &cortex.ErrHTTP{Status: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	var body embeddingResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%s: decode embeddings: %w", e.name, err)
	}
	if len(body.Data) != len(texts) {
		return nil, fmt.Errorf("%s: got %d embeddings for %d inputs", e.name, len(body.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range body.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%s: embedding index %d out of range", e.name, d.Index)
		}
		if len(d.Embedding) != e.dims {
			return nil, fmt.Errorf("%s: embedding has %d dimensions, want %d", e.name, len(d.Embedding), e.dims)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

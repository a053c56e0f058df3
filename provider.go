package cortex

import (
	"context"
	"encoding/json"
	"math"
)

// CompletionRequest is a raw text-completion call against a backend.
type CompletionRequest struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	// LogProbs requests per-token log probabilities (0 = none).
	LogProbs int `json:"logprobs,omitempty"`
	// Echo returns the prompt's own tokens in the response. Combined with
	// LogProbs=1 and MaxTokens=1 this yields per-input-token log
	// probabilities, the basis of perplexity scoring.
	Echo bool `json:"echo,omitempty"`
}

// CompletionResult is the backend's answer to a CompletionRequest.
type CompletionResult struct {
	Text string `json:"text"`
	// MeanLogProb is the average of the non-null per-token log
	// probabilities. Valid only when HasLogProb is true.
	MeanLogProb float64 `json:"mean_logprob,omitempty"`
	HasLogProb  bool    `json:"-"`
	// Backend names the server that produced this result; with a failover
	// chain this may be a fallback rather than the primary.
	Backend string          `json:"backend"`
	Raw     json.RawMessage `json:"-"`
}

// ChatRequest is a chat-completion call.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

// ChatResult is the backend's answer to a ChatRequest.
type ChatResult struct {
	Content string          `json:"content"`
	Backend string          `json:"backend"`
	Raw     json.RawMessage `json:"-"`
}

// Engine abstracts a text-generation backend. Implementations take the
// call deadline from ctx; the failover chain layers backend ordering and
// retry semantics on top.
type Engine interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
	Chat(ctx context.Context, req ChatRequest) (ChatResult, error)
	// Health reports nil when the backend is ready to serve.
	Health(ctx context.Context) error
	// Name identifies the backend (e.g. "vorpal", "bolt-xl").
	Name() string
}

// EmbeddingProvider abstracts deterministic text embedding. Vectors put into
// a store and vectors used to search it must come from the same provider and
// dimension, or search returns nothing.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// Perplexity converts a mean per-token log probability to perplexity,
// exp(-mean). Lower perplexity means the model found the text more
// predictable.
func Perplexity(meanLogProb float64) float64 {
	return math.Exp(-meanLogProb)
}

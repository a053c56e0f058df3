// Package research answers questions grounded in the library and memory
// namespaces: retrieve top-k sources, build a cited prompt, answer with
// a low temperature. Multi-question runs the same flow per question and
// optionally synthesizes across the answers.
package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	cortex "github.com/nevindra/cortex"
)

const (
	answerSystem = "You are a research assistant. Answer the question using ONLY the provided sources. " +
		"Cite sources using [Source N] notation. If sources don't contain relevant information, " +
		"say so clearly. Be concise and factual."
	synthesisSystem = "You are a research synthesizer. Combine the findings into a coherent summary."

	answerTemp    = 0.3
	synthesisTemp = 0.4

	// Hard cap on questions per multi-question request.
	MaxQuestions = 10
)

// Source is one retrieved grounding passage.
type Source struct {
	Type      string  `json:"type"` // "library" or "memory"
	Filename  string  `json:"filename,omitempty"`
	Text      string  `json:"text"`
	Timestamp string  `json:"timestamp,omitempty"`
	Distance  float64 `json:"distance"`
}

// Result is a researched answer with the sources it cites.
type Result struct {
	Question      string   `json:"question"`
	Answer        string   `json:"answer"`
	Sources       []Source `json:"sources"`
	LibraryChunks int      `json:"library_chunks_consulted"`
	Memories      int      `json:"memories_consulted"`
	TotalSources  int      `json:"total_sources"`
}

// QuestionResult is one entry of a multi-question run. Error carries a
// per-question failure without aborting the batch.
type QuestionResult struct {
	Question string  `json:"question"`
	Result   *Result `json:"result,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// MultiResult is the outcome of a multi-question run.
type MultiResult struct {
	Questions    int              `json:"questions"`
	Results      []QuestionResult `json:"results"`
	Synthesis    string           `json:"synthesis,omitempty"`
	TotalSources int              `json:"total_sources"`
}

// Assistant runs research flows against a store and an engine.
type Assistant struct {
	engine cortex.Engine
	store  cortex.Store

	topK      int
	maxTokens int
	logger    *slog.Logger
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithTopK sets results retrieved per namespace per question.
func WithTopK(k int) Option {
	return func(a *Assistant) {
		if k > 0 {
			a.topK = k
		}
	}
}

// WithMaxTokens caps the answer length.
func WithMaxTokens(n int) Option {
	return func(a *Assistant) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Assistant.
func New(engine cortex.Engine, store cortex.Store, opts ...Option) *Assistant {
	a := &Assistant{
		engine:    engine,
		store:     store,
		topK:      5,
		maxTokens: 500,
		logger:    cortex.NopLogger(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Research retrieves sources for question from the enabled namespaces and
// answers grounded in them. A failed retrieval from one namespace is logged
// and the flow continues with whatever sources remain.
func (a *Assistant) Research(ctx context.Context, question string, useLibrary, useMemory bool) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, cortex.NewValidationError("question", "Question cannot be empty")
	}

	res := &Result{Question: question}
	if useLibrary {
		matches, err := a.store.Search(ctx, cortex.NamespaceLibrary, question, a.topK, nil)
		if err != nil {
			a.logger.Warn("library search failed, continuing without it", "error", err)
		} else {
			res.LibraryChunks = len(matches)
			for _, m := range matches {
				res.Sources = append(res.Sources, Source{
					Type:     "library",
					Filename: m.Record.Fields[cortex.FieldFilename],
					Text:     m.Record.Text,
					Distance: m.Distance,
				})
			}
		}
	}
	if useMemory {
		matches, err := a.store.Search(ctx, cortex.NamespaceMemory, question, a.topK, nil)
		if err != nil {
			a.logger.Warn("memory search failed, continuing without it", "error", err)
		} else {
			res.Memories = len(matches)
			for _, m := range matches {
				res.Sources = append(res.Sources, Source{
					Type:      "memory",
					Text:      m.Record.Text,
					Timestamp: m.Record.Fields[cortex.FieldTimestamp],
					Distance:  m.Distance,
				})
			}
		}
	}
	res.TotalSources = len(res.Sources)

	prompt := fmt.Sprintf("Question: %s\n\nSources:\n%s\n\nProvide a researched answer with citations:",
		question, FormatSources(res.Sources))
	answer, err := a.engine.Chat(ctx, cortex.ChatRequest{
		Messages: []cortex.ChatMessage{
			{Role: "system", Content: answerSystem},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   a.maxTokens,
		Temperature: answerTemp,
	})
	if err != nil {
		return nil, err
	}
	res.Answer = strings.TrimSpace(answer.Content)
	return res, nil
}

// ResearchMulti runs Research for each question and, when synthesize is
// set, combines the findings into one summary. Per-question failures are
// recorded and do not abort the batch; a failed synthesis degrades to a
// placeholder rather than an error.
func (a *Assistant) ResearchMulti(ctx context.Context, questions []string, useLibrary, useMemory, synthesize bool) (*MultiResult, error) {
	if len(questions) == 0 {
		return nil, cortex.NewValidationError("questions", "Questions list cannot be empty")
	}
	if len(questions) > MaxQuestions {
		return nil, cortex.NewValidationError("questions",
			fmt.Sprintf("Too many questions (%d). Maximum %d.", len(questions), MaxQuestions))
	}

	multi := &MultiResult{Questions: len(questions)}
	for _, q := range questions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := a.Research(ctx, q, useLibrary, useMemory)
		qr := QuestionResult{Question: q}
		if err != nil {
			qr.Error = err.Error()
			a.logger.Warn("question failed", "question", q, "error", err)
		} else {
			qr.Result = res
			multi.TotalSources += res.TotalSources
		}
		multi.Results = append(multi.Results, qr)
	}

	if !synthesize {
		return multi, nil
	}

	var sb strings.Builder
	sb.WriteString("Synthesize findings from the following questions:\n")
	for i, qr := range multi.Results {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, qr.Question)
		if qr.Result != nil {
			fmt.Fprintf(&sb, "   Finding: %s\n\n", qr.Result.Answer)
		}
	}
	answer, err := a.engine.Chat(ctx, cortex.ChatRequest{
		Messages: []cortex.ChatMessage{
			{Role: "system", Content: synthesisSystem},
			{Role: "user", Content: sb.String()},
		},
		MaxTokens:   800,
		Temperature: synthesisTemp,
	})
	if err != nil {
		a.logger.Warn("synthesis failed", "error", err)
		multi.Synthesis = "(Synthesis failed)"
		return multi, nil
	}
	multi.Synthesis = strings.TrimSpace(answer.Content)
	return multi, nil
}

// FormatSources renders retrieved passages as a numbered citation block.
func FormatSources(sources []Source) string {
	if len(sources) == 0 {
		return "(No sources available)"
	}
	parts := make([]string, 0, len(sources))
	for i, s := range sources {
		switch s.Type {
		case "memory":
			parts = append(parts, fmt.Sprintf("[Source %d] Memory: %s", i+1, truncate(s.Text, 200)))
		default:
			parts = append(parts, fmt.Sprintf("[Source %d] %s: %s", i+1, s.Filename, truncate(s.Text, 300)))
		}
	}
	return strings.Join(parts, "\n\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

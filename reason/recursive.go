package reason

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cortex "github.com/nevindra/cortex"
	"github.com/nevindra/cortex/toolkit"
)

// RecursiveAgent analyzes corpora too large to fit in a prompt. Its only
// tool is sandboxed code execution with the corpus injected as the CORPUS
// variable; inside the sandbox, ask_llm(prompt) gives the code synchronous
// model access for chunk summarization. The model never sees the raw
// corpus, only what its code prints.
type RecursiveAgent struct {
	engine    cortex.Engine
	runner    toolkit.Runner
	maxSteps  int
	maxTokens int
	timeout   time.Duration
	logger    *slog.Logger
}

// RecursiveOption configures a RecursiveAgent.
type RecursiveOption func(*RecursiveAgent)

// WithRecursiveMaxSteps caps the reasoning iterations (default: 10).
func WithRecursiveMaxSteps(n int) RecursiveOption {
	return func(r *RecursiveAgent) { r.maxSteps = n }
}

// WithRecursiveTimeout bounds each sandbox execution (default: 60s; corpus
// chunking plus ask_llm calls take longer than plain code).
func WithRecursiveTimeout(d time.Duration) RecursiveOption {
	return func(r *RecursiveAgent) { r.timeout = d }
}

// WithRecursiveLogger sets a structured logger.
func WithRecursiveLogger(l *slog.Logger) RecursiveOption {
	return func(r *RecursiveAgent) { r.logger = l }
}

// NewRecursiveAgent creates a RecursiveAgent.
func NewRecursiveAgent(engine cortex.Engine, runner toolkit.Runner, opts ...RecursiveOption) *RecursiveAgent {
	r := &RecursiveAgent{
		engine:    engine,
		runner:    runner,
		maxSteps:  10,
		maxTokens: 512,
		timeout:   60 * time.Second,
		logger:    cortex.NopLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

const rlmPreamble = `You are a recursive analysis agent. A large text corpus is loaded in the
sandbox as the variable CORPUS (a string). You cannot see CORPUS directly;
you explore it by running code.

Available tools:
%s

Rules:
- Start by inspecting: print(len(CORPUS)), print(CORPUS[:500]).
- NEVER print the whole corpus.
- For semantic questions, chunk the corpus and call ask_llm(prompt) on each
  chunk, then combine the summaries.
- ask_llm(prompt) is available inside the sandbox and returns a string.

Use this exact format:

Thought: what you are thinking
Action: the tool to use, one of [%s]
Action Input: the code to run
Observation: the execution output (provided to you)

When you know the answer, finish with:

Thought: I now know the answer
Action: Final Answer
Action Input: the answer

Question: %s
`

// Run answers a question about the corpus.
func (r *RecursiveAgent) Run(ctx context.Context, corpus, question string) (cortex.AgentResult, error) {
	if corpus == "" {
		return cortex.AgentResult{}, cortex.NewValidationError("corpus", "Corpus cannot be empty")
	}

	tools := cortex.NewToolRegistry()
	tools.MustRegister(toolkit.CodeExecution(corpusRunner{r.runner, corpus}, r.timeout))

	agent := NewAgent(r.engine, tools,
		WithPreamble(rlmPreamble),
		WithMaxSteps(r.maxSteps),
		WithAgentMaxTokens(r.maxTokens),
		WithAgentLogger(r.logger),
	)
	res, err := agent.Run(ctx, question)
	if err != nil {
		return res, fmt.Errorf("recursive agent: %w", err)
	}
	return res, nil
}

// corpusRunner injects CORPUS into every execution.
type corpusRunner struct {
	inner  toolkit.Runner
	corpus string
}

func (c corpusRunner) Execute(ctx context.Context, code string, vars map[string]any, timeout time.Duration) (string, error) {
	merged := map[string]any{"CORPUS": c.corpus}
	for k, v := range vars {
		merged[k] = v
	}
	return c.inner.Execute(ctx, code, merged, timeout)
}

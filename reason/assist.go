package reason

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cortex "github.com/nevindra/cortex"
	"github.com/nevindra/cortex/toolkit"
)

// CodeResult is the outcome of a code-assistant run.
type CodeResult struct {
	Code        string `json:"code"`
	Explanation string `json:"explanation,omitempty"`
	Output      string `json:"output,omitempty"`
	Attempts    int    `json:"attempts"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// CodeAssistant writes code for a task, runs it in the sandbox, and on
// failure feeds the error back for another attempt.
type CodeAssistant struct {
	engine      cortex.Engine
	runner      toolkit.Runner
	maxAttempts int
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger
}

// AssistantOption configures a CodeAssistant.
type AssistantOption func(*CodeAssistant)

// WithMaxAttempts caps the generate-execute-debug cycles (default: 3).
func WithMaxAttempts(n int) AssistantOption {
	return func(c *CodeAssistant) { c.maxAttempts = n }
}

// WithAssistantTimeout bounds each sandbox execution (default: 30s).
func WithAssistantTimeout(d time.Duration) AssistantOption {
	return func(c *CodeAssistant) { c.timeout = d }
}

// WithAssistantLogger sets a structured logger.
func WithAssistantLogger(l *slog.Logger) AssistantOption {
	return func(c *CodeAssistant) { c.logger = l }
}

// NewCodeAssistant creates a CodeAssistant.
func NewCodeAssistant(engine cortex.Engine, runner toolkit.Runner, opts ...AssistantOption) *CodeAssistant {
	c := &CodeAssistant{
		engine:      engine,
		runner:      runner,
		maxAttempts: 3,
		maxTokens:   1024,
		timeout:     30 * time.Second,
		logger:      cortex.NopLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

const assistSystem = `You write Python code for the user's task. Respond with one fenced code
block containing a complete runnable program that prints its result, then
a one-paragraph explanation after the block.`

// Assist runs the generate-execute-debug cycle. Options apply to this
// call only; the assistant's configuration is untouched.
func (c *CodeAssistant) Assist(ctx context.Context, task string, opts ...AssistantOption) (CodeResult, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return CodeResult{}, cortex.NewValidationError("task", "Task cannot be empty")
	}
	run := *c
	for _, o := range opts {
		o(&run)
	}
	c = &run

	var result CodeResult
	prompt := task
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		result.Attempts = attempt

		res, err := c.engine.Chat(ctx, cortex.ChatRequest{
			Messages: []cortex.ChatMessage{
				{Role: "system", Content: assistSystem},
				{Role: "user", Content: prompt},
			},
			MaxTokens:   c.maxTokens,
			Temperature: 0.2,
		})
		if err != nil {
			result.Error = err.Error()
			return result, fmt.Errorf("code assist: generate: %w", err)
		}

		code, explanation := SplitCodeBlock(res.Content)
		if code == "" {
			prompt = fmt.Sprintf("%s\n\nYour previous reply contained no code block. Respond with a fenced code block.", task)
			continue
		}
		result.Code = code
		result.Explanation = explanation

		out, err := c.runner.Execute(ctx, code, nil, c.timeout)
		if err == nil {
			result.Output = out
			result.Success = true
			result.Error = ""
			c.logger.Debug("code assist succeeded", "attempts", attempt)
			return result, nil
		}

		result.Error = err.Error()
		c.logger.Debug("code assist attempt failed", "attempt", attempt, "error", err)
		prompt = fmt.Sprintf("Task: %s\n\nThis code failed:\n```python\n%s\n```\n\nError:\n%s\n\nFix the code. Respond with the corrected program in a fenced code block.",
			task, code, result.Error)
	}
	return result, nil
}

// SplitCodeBlock extracts the first fenced code block and returns it with
// the remaining text as explanation. No fence means no code.
func SplitCodeBlock(text string) (code, explanation string) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", strings.TrimSpace(text)
	}
	rest := text[start+3:]
	// Skip an optional language tag.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		tag := strings.TrimSpace(rest[:nl])
		if len(tag) <= 12 && !strings.ContainsAny(tag, " \t`") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest), strings.TrimSpace(text[:start])
	}
	code = strings.TrimSpace(rest[:end])
	explanation = strings.TrimSpace(text[:start] + " " + rest[end+3:])
	return code, explanation
}

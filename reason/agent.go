package reason

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	cortex "github.com/nevindra/cortex"
)

// TraceRecorder receives a summary of each successful agent run as a
// procedural memory. Implemented by pipeline.Capture.
type TraceRecorder interface {
	CaptureTurn(t cortex.Turn)
}

// Agent is a ReAct loop: the model thinks, picks a tool, reads the
// observation, and repeats until it declares a final answer or the step
// budget runs out.
type Agent struct {
	engine    cortex.Engine
	tools     *cortex.ToolRegistry
	recorder  TraceRecorder
	preamble  string
	maxSteps  int
	maxTokens int
	logger    *slog.Logger
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithMaxSteps caps the reasoning iterations (default: 10).
func WithMaxSteps(n int) AgentOption {
	return func(a *Agent) { a.maxSteps = n }
}

// WithAgentMaxTokens caps each thinking generation (default: 512).
func WithAgentMaxTokens(n int) AgentOption {
	return func(a *Agent) { a.maxTokens = n }
}

// WithTraceRecorder records successful runs as procedural memories.
func WithTraceRecorder(r TraceRecorder) AgentOption {
	return func(a *Agent) { a.recorder = r }
}

// WithAgentLogger sets a structured logger.
func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// WithPreamble replaces the instruction preamble. The format string must
// take the tool descriptions, the action name list, and the question, in
// that order.
func WithPreamble(format string) AgentOption {
	return func(a *Agent) { a.preamble = format }
}

// NewAgent creates an Agent over the engine and tool registry.
func NewAgent(engine cortex.Engine, tools *cortex.ToolRegistry, opts ...AgentOption) *Agent {
	a := &Agent{
		engine:    engine,
		tools:     tools,
		preamble:  reactPreamble,
		maxSteps:  10,
		maxTokens: 512,
		logger:    cortex.NopLogger(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// finalAnswerAction terminates the loop; its input is the answer.
const finalAnswerAction = "Final Answer"

// stopObservation cuts generation before the model hallucinates its own
// tool output.
var stopObservation = []string{"Observation:"}

const reactPreamble = `You are a reasoning agent. You solve problems step by step using tools.

Available tools:
%s

Use this exact format:

Thought: what you are thinking about the problem
Action: the tool to use, one of [%s]
Action Input: the input to the tool
Observation: the tool's result (provided to you; never write this yourself)

Repeat Thought/Action/Action Input/Observation as needed. When you know
the answer, finish with:

Thought: I now know the answer
Action: Final Answer
Action Input: the answer

Question: %s
`

// Run executes the loop. The returned result always carries the step
// trace; Success is false when the budget ran out or the engine failed.
func (a *Agent) Run(ctx context.Context, question string) (cortex.AgentResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return cortex.AgentResult{}, cortex.NewValidationError("question", "Question cannot be empty")
	}

	prompt := fmt.Sprintf(a.preamble, a.tools.Describe(), strings.Join(append(a.tools.Names(), finalAnswerAction), ", "), question)
	var result cortex.AgentResult

	for step := 1; step <= a.maxSteps; step++ {
		res, err := a.engine.Complete(ctx, cortex.CompletionRequest{
			Prompt:      prompt,
			MaxTokens:   a.maxTokens,
			Temperature: 0.2,
			Stop:        stopObservation,
		})
		if err != nil {
			result.Error = err.Error()
			result.TotalSteps = len(result.Steps)
			return result, fmt.Errorf("reason: step %d: %w", step, err)
		}

		parsed := ParseStep(res.Text)
		parsed.StepNumber = step

		if parsed.Action == finalAnswerAction {
			result.Steps = append(result.Steps, parsed)
			result.TotalSteps = len(result.Steps)
			result.Answer = parsed.ActionInput
			result.Success = true
			a.record(question, result)
			return result, nil
		}

		parsed.Observation = a.observe(ctx, parsed)
		result.Steps = append(result.Steps, parsed)
		a.logger.Debug("agent step",
			"step", step, "action", parsed.Action,
			"observation_len", len(parsed.Observation))

		prompt += fmt.Sprintf("Thought: %s\nAction: %s\nAction Input: %s\nObservation: %s\n",
			parsed.Thought, parsed.Action, parsed.ActionInput, parsed.Observation)
	}

	result.TotalSteps = len(result.Steps)
	result.Error = fmt.Sprintf("no answer after %d steps", a.maxSteps)
	return result, nil
}

// observe invokes the chosen tool. Tool failures and unknown tools become
// observations the model can read and recover from; the loop never aborts
// on them.
func (a *Agent) observe(ctx context.Context, step cortex.AgentStep) string {
	if step.Action == "" {
		return "No action was specified. State an Action from the available tools."
	}
	tool, ok := a.tools.Get(step.Action)
	if !ok {
		return fmt.Sprintf("Unknown tool %q. Available tools:\n%s", step.Action, a.tools.Describe())
	}
	out, err := tool.Invoke(ctx, step.ActionInput)
	if err != nil {
		return "Error: " + err.Error()
	}
	return out
}

// record appends a one-line summary of the solved problem to the capture
// stream; if it scores as surprising it becomes a procedural memory.
func (a *Agent) record(question string, result cortex.AgentResult) {
	if a.recorder == nil {
		return
	}
	var actions []string
	for _, s := range result.Steps {
		if s.Action != "" && s.Action != finalAnswerAction {
			actions = append(actions, s.Action)
		}
	}
	summary := fmt.Sprintf("Solved %q in %d steps using %s. Answer: %s",
		question, result.TotalSteps, strings.Join(actions, ", "), result.Answer)
	if len(actions) == 0 {
		summary = fmt.Sprintf("Answered %q directly: %s", question, result.Answer)
	}
	a.recorder.CaptureTurn(cortex.Turn{
		Message: summary,
		Meta:    map[string]string{"source": "agent_trace"},
	})
}

// ParseStep pulls Thought/Action/Action Input out of a generation,
// tolerating missing sections and surrounding noise. A bare "Final
// Answer:" line without the Action keyword also terminates.
func ParseStep(text string) cortex.AgentStep {
	var step cortex.AgentStep
	lines := strings.Split(text, "\n")
	var current *string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case hasPrefixFold(trimmed, "Thought:"):
			step.Thought = strings.TrimSpace(trimmed[len("Thought:"):])
			current = &step.Thought
		case hasPrefixFold(trimmed, "Action Input:"):
			step.ActionInput = strings.TrimSpace(trimmed[len("Action Input:"):])
			current = &step.ActionInput
		case hasPrefixFold(trimmed, "Action:"):
			step.Action = strings.TrimSpace(trimmed[len("Action:"):])
			current = &step.Action
		case hasPrefixFold(trimmed, "Final Answer:"):
			step.Action = finalAnswerAction
			step.ActionInput = strings.TrimSpace(trimmed[len("Final Answer:"):])
			current = &step.ActionInput
		case hasPrefixFold(trimmed, "Observation:"):
			// The model is not allowed to write its own observations.
			current = nil
		default:
			if current != nil && trimmed != "" {
				*current += "\n" + trimmed
			}
		}
	}
	step.Action = strings.Trim(step.Action, "[]")
	return step
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

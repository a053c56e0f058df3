package reason

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	cortex "github.com/nevindra/cortex"
)

// scriptedEngine replays canned responses in order.
type scriptedEngine struct {
	completions []string
	chats       []string
	completeErr error
	prompts     []string
	chatPrompts []cortex.ChatRequest
}

func (s *scriptedEngine) Complete(_ context.Context, req cortex.CompletionRequest) (cortex.CompletionResult, error) {
	if s.completeErr != nil {
		return cortex.CompletionResult{}, s.completeErr
	}
	s.prompts = append(s.prompts, req.Prompt)
	if len(s.completions) == 0 {
		return cortex.CompletionResult{}, errors.New("script exhausted")
	}
	text := s.completions[0]
	s.completions = s.completions[1:]
	return cortex.CompletionResult{Text: text, Backend: "scripted"}, nil
}

func (s *scriptedEngine) Chat(_ context.Context, req cortex.ChatRequest) (cortex.ChatResult, error) {
	s.chatPrompts = append(s.chatPrompts, req)
	if len(s.chats) == 0 {
		return cortex.ChatResult{}, errors.New("script exhausted")
	}
	content := s.chats[0]
	s.chats = s.chats[1:]
	return cortex.ChatResult{Content: content, Backend: "scripted"}, nil
}

func (s *scriptedEngine) Health(context.Context) error { return nil }
func (s *scriptedEngine) Name() string                 { return "scripted" }

type recordedTurns struct{ turns []cortex.Turn }

func (r *recordedTurns) CaptureTurn(t cortex.Turn) { r.turns = append(r.turns, t) }

func echoRegistry() *cortex.ToolRegistry {
	reg := cortex.NewToolRegistry()
	reg.MustRegister(cortex.Tool{
		Name:        "Echo",
		Description: "echoes input",
		Invoke: func(_ context.Context, in string) (string, error) {
			return "echoed: " + in, nil
		},
	})
	reg.MustRegister(cortex.Tool{
		Name:        "Broken",
		Description: "always fails",
		Invoke: func(context.Context, string) (string, error) {
			return "", errors.New("tool exploded")
		},
	})
	return reg
}

// --- parsing ---

func TestParseStep_FullBlock(t *testing.T) {
	step := ParseStep("Thought: I should echo\nAction: Echo\nAction Input: hello world\n")
	if step.Thought != "I should echo" || step.Action != "Echo" || step.ActionInput != "hello world" {
		t.Errorf("step = %+v", step)
	}
}

func TestParseStep_FinalAnswerShortForm(t *testing.T) {
	step := ParseStep("Thought: done\nFinal Answer: 42")
	if step.Action != finalAnswerAction || step.ActionInput != "42" {
		t.Errorf("step = %+v", step)
	}
}

func TestParseStep_Tolerant(t *testing.T) {
	// Missing thought, bracketed action, lowercase keywords.
	step := ParseStep("action: [Echo]\naction input: x")
	if step.Action != "Echo" || step.ActionInput != "x" {
		t.Errorf("step = %+v", step)
	}
	if got := ParseStep("complete nonsense"); got.Action != "" {
		t.Errorf("nonsense parsed as %+v", got)
	}
}

func TestParseStep_MultilineInput(t *testing.T) {
	step := ParseStep("Thought: code time\nAction: CodeExecution\nAction Input: x = 1\nprint(x)")
	if !strings.Contains(step.ActionInput, "print(x)") {
		t.Errorf("multiline input lost: %+v", step)
	}
}

func TestParseQuestions(t *testing.T) {
	raw := "Here are some questions:\n1. Is the sky blue?\n2) What year was it?\n- Does it hold?\nnot a question line\n4. Too many?"
	qs := ParseQuestions(raw, 3)
	if len(qs) != 3 {
		t.Fatalf("got %d questions: %v", len(qs), qs)
	}
	if qs[0] != "Is the sky blue?" || qs[2] != "Does it hold?" {
		t.Errorf("qs = %v", qs)
	}
}

// --- agent ---

func TestAgent_ToolThenFinal(t *testing.T) {
	eng := &scriptedEngine{completions: []string{
		"Thought: echo it\nAction: Echo\nAction Input: ping",
		"Thought: I now know the answer\nAction: Final Answer\nAction Input: pong",
	}}
	rec := &recordedTurns{}
	agent := NewAgent(eng, echoRegistry(), WithTraceRecorder(rec))

	res, err := agent.Run(context.Background(), "what does the echo say?")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Answer != "pong" {
		t.Fatalf("result = %+v", res)
	}
	if res.TotalSteps != 2 {
		t.Errorf("TotalSteps = %d", res.TotalSteps)
	}
	if res.Steps[0].Observation != "echoed: ping" {
		t.Errorf("observation = %q", res.Steps[0].Observation)
	}
	// Second prompt carries the first step's observation.
	if !strings.Contains(eng.prompts[1], "Observation: echoed: ping") {
		t.Error("observation not fed back into the prompt")
	}
	if len(rec.turns) != 1 || !strings.Contains(rec.turns[0].Message, "Echo") {
		t.Errorf("trace not recorded: %+v", rec.turns)
	}
	if rec.turns[0].Meta["source"] != "agent_trace" {
		t.Errorf("trace meta = %v", rec.turns[0].Meta)
	}
}

func TestAgent_UnknownToolRecovers(t *testing.T) {
	eng := &scriptedEngine{completions: []string{
		"Thought: try something\nAction: Teleport\nAction Input: moon",
		"Thought: use what exists\nAction: Final Answer\nAction Input: staying home",
	}}
	agent := NewAgent(eng, echoRegistry())
	res, err := agent.Run(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Steps[0].Observation, "Unknown tool") ||
		!strings.Contains(res.Steps[0].Observation, "Echo") {
		t.Errorf("observation = %q", res.Steps[0].Observation)
	}
}

func TestAgent_ToolErrorBecomesObservation(t *testing.T) {
	eng := &scriptedEngine{completions: []string{
		"Thought: break it\nAction: Broken\nAction Input: x",
		"Thought: ok\nAction: Final Answer\nAction Input: gave up",
	}}
	agent := NewAgent(eng, echoRegistry())
	res, err := agent.Run(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Steps[0].Observation, "tool exploded") {
		t.Errorf("observation = %q", res.Steps[0].Observation)
	}
}

func TestAgent_BudgetExhausted(t *testing.T) {
	eng := &scriptedEngine{completions: []string{
		"Thought: loop\nAction: Echo\nAction Input: 1",
		"Thought: loop\nAction: Echo\nAction Input: 2",
	}}
	agent := NewAgent(eng, echoRegistry(), WithMaxSteps(2))
	res, err := agent.Run(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("success despite exhausted budget")
	}
	if !strings.Contains(res.Error, "2 steps") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestAgent_EngineErrorAborts(t *testing.T) {
	eng := &scriptedEngine{completeErr: errors.New("backend gone")}
	agent := NewAgent(eng, echoRegistry())
	if _, err := agent.Run(context.Background(), "q"); err == nil {
		t.Fatal("expected engine failure to surface")
	}
}

func TestAgent_EmptyQuestion(t *testing.T) {
	agent := NewAgent(&scriptedEngine{}, echoRegistry())
	_, err := agent.Run(context.Background(), "  ")
	var ce *cortex.Error
	if !errors.As(err, &ce) || ce.Category != cortex.CategoryValidation {
		t.Errorf("err = %v, want validation error", err)
	}
}

// --- verifier ---

func TestVerifier_RevisesDraft(t *testing.T) {
	eng := &scriptedEngine{chats: []string{
		"The capital of Australia is Sydney.",          // draft
		"1. What is the capital of Australia?",         // questions
		"The capital of Australia is Canberra.",        // verification answer
		"The capital of Australia is Canberra.",        // revision
	}}
	v := NewVerifier(eng)
	res, err := v.Verify(context.Background(), "What is the capital of Australia?")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Revised {
		t.Error("Revised = false for a changed answer")
	}
	if len(res.Questions) != 1 || len(res.Answers) != 1 {
		t.Errorf("trace = %+v", res)
	}
	// The verification answer must be generated without the draft.
	verifyReq := eng.chatPrompts[2]
	for _, m := range verifyReq.Messages {
		if strings.Contains(m.Content, "Sydney") {
			t.Error("draft leaked into the independent verification call")
		}
	}
}

func TestVerifier_UnrevisedWhenIdentical(t *testing.T) {
	eng := &scriptedEngine{chats: []string{
		"Paris.",
		"1. Is Paris the capital of France?",
		"Yes, Paris is the capital of France.",
		"  Paris. ", // whitespace-only difference
	}}
	v := NewVerifier(eng)
	res, err := v.Verify(context.Background(), "Capital of France?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Revised {
		t.Error("whitespace-only change flagged as revised")
	}
}

func TestVerifier_NoQuestionsKeepsDraft(t *testing.T) {
	eng := &scriptedEngine{chats: []string{
		"Answer.",
		"I could not think of any questions.", // no parseable lines
	}}
	v := NewVerifier(eng)
	res, err := v.Verify(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if res.Final != "Answer." || res.Revised {
		t.Errorf("res = %+v", res)
	}
}

func TestVerifier_EmptyQuestion(t *testing.T) {
	v := NewVerifier(&scriptedEngine{})
	if _, err := v.Verify(context.Background(), ""); err == nil {
		t.Fatal("empty question accepted")
	}
}

// --- code assistant ---

type scriptedRunner struct {
	errs []error
	outs []string
	vars []map[string]any
}

func (s *scriptedRunner) Execute(_ context.Context, _ string, vars map[string]any, _ time.Duration) (string, error) {
	s.vars = append(s.vars, vars)
	var err error
	if len(s.errs) > 0 {
		err = s.errs[0]
		s.errs = s.errs[1:]
	}
	out := ""
	if len(s.outs) > 0 {
		out = s.outs[0]
		s.outs = s.outs[1:]
	}
	return out, err
}

func TestCodeAssistant_DebugCycle(t *testing.T) {
	eng := &scriptedEngine{chats: []string{
		"```python\nprint(undefined)\n```\nFirst try.",
		"```python\nprint(42)\n```\nFixed.",
	}}
	runner := &scriptedRunner{
		errs: []error{errors.New("NameError: undefined"), nil},
		outs: []string{"", "42\n"},
	}
	c := NewCodeAssistant(eng, runner)
	res, err := c.Assist(context.Background(), "print the answer")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Attempts != 2 {
		t.Fatalf("res = %+v", res)
	}
	if res.Code != "print(42)" || res.Output != "42\n" {
		t.Errorf("res = %+v", res)
	}
	// The retry prompt must carry the error.
	retry := eng.chatPrompts[1].Messages[1].Content
	if !strings.Contains(retry, "NameError") {
		t.Errorf("retry prompt = %q", retry)
	}
}

func TestCodeAssistant_AllAttemptsFail(t *testing.T) {
	eng := &scriptedEngine{chats: []string{
		"```python\nbad\n```", "```python\nbad\n```",
	}}
	runner := &scriptedRunner{errs: []error{errors.New("boom"), errors.New("boom")}}
	c := NewCodeAssistant(eng, runner, WithMaxAttempts(2))
	res, err := c.Assist(context.Background(), "task")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Attempts != 2 || res.Error == "" {
		t.Errorf("res = %+v", res)
	}
}

func TestCodeAssistant_PerCallOptions(t *testing.T) {
	eng := &scriptedEngine{chats: []string{"```python\nbad\n```"}}
	runner := &scriptedRunner{errs: []error{errors.New("boom")}}
	c := NewCodeAssistant(eng, runner) // default budget is 3

	res, err := c.Assist(context.Background(), "task", WithMaxAttempts(1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempts != 1 {
		t.Fatalf("Attempts = %d, want the per-call cap of 1", res.Attempts)
	}
	// The override must not stick to the assistant.
	if c.maxAttempts != 3 {
		t.Errorf("maxAttempts = %d after per-call override", c.maxAttempts)
	}
}

func TestSplitCodeBlock(t *testing.T) {
	code, expl := SplitCodeBlock("Here you go:\n```python\nprint(1)\n```\nThat prints one.")
	if code != "print(1)" {
		t.Errorf("code = %q", code)
	}
	if !strings.Contains(expl, "That prints one.") {
		t.Errorf("explanation = %q", expl)
	}
	code, expl = SplitCodeBlock("no code here")
	if code != "" || expl != "no code here" {
		t.Errorf("code=%q expl=%q", code, expl)
	}
}

// --- recursive agent ---

func TestRecursiveAgent_InjectsCorpus(t *testing.T) {
	eng := &scriptedEngine{completions: []string{
		"Thought: inspect\nAction: CodeExecution\nAction Input: print(len(CORPUS))",
		"Thought: I now know the answer\nAction: Final Answer\nAction Input: 11 characters",
	}}
	runner := &scriptedRunner{outs: []string{"11\n", ""}}
	r := NewRecursiveAgent(eng, runner)

	res, err := r.Run(context.Background(), "hello world", "how long is it?")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Answer != "11 characters" {
		t.Fatalf("res = %+v", res)
	}
	if len(runner.vars) != 1 || runner.vars[0]["CORPUS"] != "hello world" {
		t.Errorf("sandbox vars = %+v", runner.vars)
	}
	// The prompt instructs chunked ask_llm use.
	if !strings.Contains(eng.prompts[0], "ask_llm") || !strings.Contains(eng.prompts[0], "CORPUS") {
		t.Error("recursive preamble missing sandbox instructions")
	}
}

func TestRecursiveAgent_EmptyCorpus(t *testing.T) {
	r := NewRecursiveAgent(&scriptedEngine{}, &scriptedRunner{})
	if _, err := r.Run(context.Background(), "", "q"); err == nil {
		t.Fatal("empty corpus accepted")
	}
}

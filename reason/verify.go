// Package reason contains the reasoning engines: chain-of-verification
// (Verifier), the tool-using ReAct loop (Agent), the recursive
// corpus-analysis agent (RecursiveAgent), and the generate-execute-debug
// code assistant (CodeAssistant). All of them drive a cortex.Engine; none
// of them hold state between calls.
package reason

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	cortex "github.com/nevindra/cortex"
)

// Verification is the full chain-of-verification trace.
type Verification struct {
	Draft     string   `json:"draft"`
	Questions []string `json:"questions"`
	Answers   []QA     `json:"answers"`
	Final     string   `json:"final"`
	Revised   bool     `json:"revised"`
}

// QA pairs one verification question with its independent answer.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Verifier runs chain-of-verification: draft an answer, generate probing
// questions, answer them without sight of the draft, then revise.
type Verifier struct {
	engine       cortex.Engine
	maxQuestions int
	maxTokens    int
	logger       *slog.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithMaxQuestions caps the verification questions (default: 3).
func WithMaxQuestions(n int) VerifierOption {
	return func(v *Verifier) { v.maxQuestions = n }
}

// WithVerifierMaxTokens caps each generation (default: 512).
func WithVerifierMaxTokens(n int) VerifierOption {
	return func(v *Verifier) { v.maxTokens = n }
}

// WithVerifierLogger sets a structured logger.
func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = l }
}

// NewVerifier creates a Verifier over the engine.
func NewVerifier(engine cortex.Engine, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		engine:       engine,
		maxQuestions: 3,
		maxTokens:    512,
		logger:       cortex.NopLogger(),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Stage temperatures: exploratory draft, conservative checks, moderate
// revision.
const (
	draftTemp    = 0.7
	verifyTemp   = 0.3
	revisionTemp = 0.5
)

// Verify runs the four stages and returns the trace.
func (v *Verifier) Verify(ctx context.Context, question string) (Verification, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Verification{}, cortex.NewValidationError("question", "Question cannot be empty")
	}

	draft, err := v.chat(ctx, draftTemp, "You are a careful assistant. Answer the question directly and completely.",
		question)
	if err != nil {
		return Verification{}, fmt.Errorf("draft: %w", err)
	}

	rawQuestions, err := v.chat(ctx, verifyTemp,
		"You generate verification questions that would expose factual errors in an answer. List 2-3 short questions, one per line, numbered.",
		fmt.Sprintf("Question: %s\n\nDraft answer: %s\n\nVerification questions:", question, draft))
	if err != nil {
		return Verification{}, fmt.Errorf("questions: %w", err)
	}
	questions := ParseQuestions(rawQuestions, v.maxQuestions)

	ver := Verification{Draft: draft, Questions: questions}
	for _, q := range questions {
		// Answered independently: the draft is deliberately absent so its
		// errors cannot leak into the check.
		a, err := v.chat(ctx, verifyTemp, "Answer the question concisely and factually.", q)
		if err != nil {
			return ver, fmt.Errorf("verify %q: %w", q, err)
		}
		ver.Answers = append(ver.Answers, QA{Question: q, Answer: a})
	}

	if len(ver.Answers) == 0 {
		ver.Final = draft
		return ver, nil
	}

	var evidence strings.Builder
	for _, qa := range ver.Answers {
		fmt.Fprintf(&evidence, "Q: %s\nA: %s\n", qa.Question, qa.Answer)
	}
	final, err := v.chat(ctx, revisionTemp,
		"Revise the draft answer using the verification evidence. Fix anything the evidence contradicts; keep what it confirms. Output only the revised answer.",
		fmt.Sprintf("Question: %s\n\nDraft answer: %s\n\nVerification evidence:\n%s\nRevised answer:", question, draft, evidence.String()))
	if err != nil {
		return ver, fmt.Errorf("revision: %w", err)
	}

	ver.Final = final
	ver.Revised = normalizeSpace(final) != normalizeSpace(draft)
	v.logger.Debug("verification complete",
		"questions", len(ver.Questions), "revised", ver.Revised)
	return ver, nil
}

func (v *Verifier) chat(ctx context.Context, temp float64, system, user string) (string, error) {
	res, err := v.engine.Chat(ctx, cortex.ChatRequest{
		Messages: []cortex.ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   v.maxTokens,
		Temperature: temp,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Content), nil
}

// ParseQuestions extracts up to max questions from model output: lines
// beginning with a digit or dash, list markers stripped.
func ParseQuestions(raw string, max int) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		first := rune(line[0])
		if !unicode.IsDigit(first) && first != '-' {
			continue
		}
		q := strings.TrimLeft(line, "0123456789.-) \t")
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) >= max {
			break
		}
	}
	return out
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

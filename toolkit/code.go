package toolkit

import (
	"context"
	"fmt"
	"strings"
	"time"

	cortex "github.com/nevindra/cortex"
)

// CodeExecution returns a tool that runs Python code in the sandbox
// collaborator and reports its output.
func CodeExecution(runner Runner, timeout time.Duration) cortex.Tool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return cortex.Tool{
		Name:        "CodeExecution",
		Description: "Execute Python code in a sandbox and return its output. Input is the code to run; print what you want to see.",
		Invoke: func(ctx context.Context, input string) (string, error) {
			code := strings.TrimSpace(stripCodeFence(input))
			if code == "" {
				return "", fmt.Errorf("empty code")
			}
			out, err := runner.Execute(ctx, code, nil, timeout)
			if err != nil {
				return "", fmt.Errorf("execution failed: %w", err)
			}
			if out == "" {
				return "(no output — use print to see results)", nil
			}
			return out, nil
		},
	}
}

// stripCodeFence removes a surrounding markdown fence if the model wrapped
// its code in one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an optional language tag on the opening fence.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if len(first) <= 12 && !strings.ContainsAny(first, " \t") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

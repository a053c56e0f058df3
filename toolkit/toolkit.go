// Package toolkit provides the standard tools agents can invoke:
// arithmetic, string and JSON manipulation, date/time, vector memory and
// library search, web search, and sandboxed code execution. Every tool
// takes a single string input and returns a single string observation;
// malformed input comes back as an error the agent can read and correct.
package toolkit

import (
	"context"
	"time"
)

// Runner executes code in the sandbox collaborator. Implemented by
// sandbox.Client.
type Runner interface {
	Execute(ctx context.Context, code string, vars map[string]any, timeout time.Duration) (string, error)
}

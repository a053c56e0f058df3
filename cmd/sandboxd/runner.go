package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// pyPrelude binds the request's context variables as globals and defines
// ask_llm(), which round-trips a prompt through the orchestrator's LLM
// gateway. SANDBOX_CONTEXT and SANDBOX_LLM_URL are set per execution.
const pyPrelude = `import json as _json, os as _os, sys as _sys

_ctx = _json.loads(_os.environ.get("SANDBOX_CONTEXT", "{}"))
globals().update(_ctx)

# Default args keep the modules reachable after the del below.
def ask_llm(prompt, max_tokens=256, _os=_os, _json=_json):
    import urllib.request
    url = _os.environ.get("SANDBOX_LLM_URL", "")
    if not url:
        raise RuntimeError("ask_llm unavailable: no LLM gateway configured")
    body = _json.dumps({"message": prompt}).encode()
    req = urllib.request.Request(url + "/chat", data=body,
                                 headers={"Content-Type": "application/json"})
    with urllib.request.urlopen(req, timeout=60) as resp:
        return _json.loads(resp.read())["response"]

del _json, _os, _sys, _ctx
`

// runner executes Python code in a subprocess.
type runner struct {
	pythonBin string
	llmURL    string
	maxOutput int
}

func newRunner(pythonBin, llmURL string, maxOutput int) *runner {
	if maxOutput <= 0 {
		maxOutput = 512 * 1024
	}
	return &runner{pythonBin: pythonBin, llmURL: llmURL, maxOutput: maxOutput}
}

// run executes code and returns captured stdout, or a non-empty error
// string describing the failure.
func (r *runner) run(ctx context.Context, code string, vars map[string]any, timeout time.Duration) (string, string) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	contextJSON, err := json.Marshal(vars)
	if err != nil {
		return "", "encode context: " + err.Error()
	}

	tmp, err := os.CreateTemp("", "sandbox-*.py")
	if err != nil {
		return "", "create temp file: " + err.Error()
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(pyPrelude + "\n" + code + "\n"); err != nil {
		tmp.Close()
		return "", "write script: " + err.Error()
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, r.pythonBin, tmpPath)
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"SANDBOX_CONTEXT=" + string(contextJSON),
		"SANDBOX_LLM_URL=" + r.llmURL,
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Sprintf("execution timed out after %s", timeout)
	}
	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return "", truncate(msg, r.maxOutput)
	}
	return truncate(stdout.String(), r.maxOutput), ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (output truncated)"
}

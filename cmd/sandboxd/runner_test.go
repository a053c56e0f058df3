package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requirePython(t *testing.T) string {
	t.Helper()
	bin, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not installed")
	}
	return bin
}

func TestRun_ContextVars(t *testing.T) {
	run := newRunner(requirePython(t), "", 0)
	out, errMsg := run.run(context.Background(),
		"print(GREETING + \", \" + NAME)",
		map[string]any{"GREETING": "hello", "NAME": "world"},
		10*time.Second)
	if errMsg != "" {
		t.Fatalf("run failed: %s", errMsg)
	}
	if strings.TrimSpace(out) != "hello, world" {
		t.Errorf("output = %q", out)
	}
}

func TestRun_AskLLM(t *testing.T) {
	bin := requirePython(t)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "summary of: " + req.Message})
	}))
	defer gateway.Close()

	run := newRunner(bin, gateway.URL, 0)
	out, errMsg := run.run(context.Background(),
		"print(ask_llm(\"chunk one\"))", nil, 10*time.Second)
	if errMsg != "" {
		t.Fatalf("run failed: %s", errMsg)
	}
	if strings.TrimSpace(out) != "summary of: chunk one" {
		t.Errorf("output = %q", out)
	}
}

func TestRun_AskLLM_NoGateway(t *testing.T) {
	run := newRunner(requirePython(t), "", 0)
	_, errMsg := run.run(context.Background(),
		"ask_llm(\"anything\")", nil, 10*time.Second)
	if !strings.Contains(errMsg, "ask_llm unavailable") {
		t.Errorf("error = %q, want the no-gateway message", errMsg)
	}
}

func TestRun_ErrorSurfacesStderr(t *testing.T) {
	run := newRunner(requirePython(t), "", 0)
	_, errMsg := run.run(context.Background(), "raise ValueError(\"boom\")", nil, 10*time.Second)
	if !strings.Contains(errMsg, "boom") {
		t.Errorf("error = %q, want the traceback", errMsg)
	}
}

func TestRun_Timeout(t *testing.T) {
	run := newRunner(requirePython(t), "", 0)
	_, errMsg := run.run(context.Background(),
		"import time\ntime.sleep(10)", nil, 500*time.Millisecond)
	if !strings.Contains(errMsg, "timed out") {
		t.Errorf("error = %q, want timeout", errMsg)
	}
}

// Command sandboxd is the reference code-execution service. It receives
// Python code via HTTP, runs it in a subprocess with the request's
// context variables bound as globals, and returns captured stdout.
//
// Designed to run as a sidecar container next to the orchestrator. It is
// single-tenant and offers process-level isolation only; production
// deployments wanting stronger guarantees should front a real sandbox
// behind the same wire contract.
package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"
)

type config struct {
	addr          string
	pythonBin     string
	llmURL        string
	maxConcurrent int
	maxTimeout    time.Duration
	maxOutput     int
}

func loadConfig() config {
	cfg := config{
		addr:          ":8000",
		pythonBin:     "python3",
		maxConcurrent: 4,
		maxTimeout:    5 * time.Minute,
		maxOutput:     512 * 1024,
	}
	if v := os.Getenv("SANDBOX_ADDR"); v != "" {
		cfg.addr = v
	}
	if v := os.Getenv("SANDBOX_PYTHON_BIN"); v != "" {
		cfg.pythonBin = v
	}
	if v := os.Getenv("SANDBOX_LLM_URL"); v != "" {
		cfg.llmURL = v
	}
	if v := os.Getenv("SANDBOX_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxConcurrent = n
		}
	}
	if v := os.Getenv("SANDBOX_MAX_OUTPUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxOutput = n
		}
	}
	return cfg
}

type executeRequest struct {
	Code    string         `json:"code"`
	Context map[string]any `json:"context,omitempty"`
	Timeout float64        `json:"timeout,omitempty"` // seconds
}

type executeResponse struct {
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

const maxRequestBodyBytes = 8 << 20

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmsgprefix)
	log.SetPrefix("[sandboxd] ")

	cfg := loadConfig()
	run := newRunner(cfg.pythonBin, cfg.llmURL, cfg.maxOutput)
	sem := make(chan struct{}, cfg.maxConcurrent)

	mux := http.NewServeMux()
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		handleExecute(cfg, sem, run, w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	srv := &http.Server{
		Addr:         cfg.addr,
		Handler:      mux,
		ReadTimeout:  cfg.maxTimeout,
		WriteTimeout: cfg.maxTimeout,
		IdleTimeout:  30 * time.Second,
	}
	log.Printf("listening on %s", cfg.addr)
	log.Fatal(srv.ListenAndServe())
}

func handleExecute(cfg config, sem chan struct{}, run *runner, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req executeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	timeout := 30 * time.Second
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout * float64(time.Second))
	}
	if timeout > cfg.maxTimeout {
		timeout = cfg.maxTimeout
	}

	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-r.Context().Done():
		return
	}

	result, runErr := run.run(r.Context(), req.Code, req.Context, timeout)
	if runErr != "" {
		writeJSON(w, http.StatusOK, executeResponse{Status: "error", Error: runErr})
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{Status: "success", Result: result})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

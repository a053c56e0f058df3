package toolkit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cortex "github.com/nevindra/cortex"
)

// RecursiveRunner answers a question about a corpus by spawning a nested
// recursive agent. Implemented by reason.RecursiveAgent; injected as a
// function so the toolkit does not depend on the agent package.
type RecursiveRunner func(ctx context.Context, corpus, question string) (string, error)

// maxCorpusBytes caps how large a file RecursiveRead will load.
const maxCorpusBytes = 2 << 20

// RecursiveRead returns a tool that loads a file under root and answers a
// question about it with a nested recursive agent. Input is
// "path|question"; path must stay inside root.
func RecursiveRead(root string, run RecursiveRunner) cortex.Tool {
	return cortex.Tool{
		Name:        "RecursiveRead",
		Description: "Answer a question about a large file. Input 'path|question'; a nested agent reads the file programmatically.",
		Invoke: func(ctx context.Context, input string) (string, error) {
			path, question, ok := strings.Cut(input, "|")
			if !ok {
				return "", fmt.Errorf("expected 'path|question', got %q", input)
			}
			path = strings.TrimSpace(path)
			question = strings.TrimSpace(question)
			if path == "" || question == "" {
				return "", fmt.Errorf("both path and question are required")
			}

			full := filepath.Join(root, filepath.Clean("/"+path))
			rel, err := filepath.Rel(root, full)
			if err != nil || strings.HasPrefix(rel, "..") {
				return "", fmt.Errorf("path %q escapes the allowed directory", path)
			}

			info, err := os.Stat(full)
			if err != nil {
				return "", fmt.Errorf("stat %s: %w", path, err)
			}
			if info.Size() > maxCorpusBytes {
				return "", fmt.Errorf("file %s is %d bytes, over the %d byte limit", path, info.Size(), maxCorpusBytes)
			}
			corpus, err := os.ReadFile(full)
			if err != nil {
				return "", fmt.Errorf("read %s: %w", path, err)
			}
			return run(ctx, string(corpus), question)
		},
	}
}

// Standard assembles the default tool registry for the general-purpose
// agent. Nil dependencies skip their tool.
func Standard(store cortex.Store, runner Runner, web *WebTool) *cortex.ToolRegistry {
	reg := cortex.NewToolRegistry()
	reg.MustRegister(Calculator())
	reg.MustRegister(StringOps())
	reg.MustRegister(JSONTool())
	reg.MustRegister(DateTime())
	if store != nil {
		reg.MustRegister(MemorySearch(store, 5))
		reg.MustRegister(LibrarySearch(store, 5))
	}
	if web != nil {
		reg.MustRegister(web.Tool())
	}
	if runner != nil {
		reg.MustRegister(CodeExecution(runner, 0))
	}
	return reg
}

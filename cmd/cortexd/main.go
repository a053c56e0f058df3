// Command cortexd runs the orchestrator: the LLM gateway with failover,
// the vector memory API, the async memory pipeline, archival, and the
// reasoning endpoints, all behind one HTTP server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nevindra/cortex/internal/app"
	"github.com/nevindra/cortex/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg := config.Load(os.Getenv("CORTEX_CONFIG"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("build app", "error", err)
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("run", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

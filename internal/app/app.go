// Package app wires configuration into a running orchestrator: the
// failover engine chain, the vector store backend, the async memory
// pipeline, archival, metrics, and the HTTP server, all supervised by one
// errgroup so a fatal error in any part brings the process down cleanly.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	cortex "github.com/nevindra/cortex"
	"github.com/nevindra/cortex/archive"
	"github.com/nevindra/cortex/internal/config"
	"github.com/nevindra/cortex/metrics"
	"github.com/nevindra/cortex/observer"
	"github.com/nevindra/cortex/persona"
	"github.com/nevindra/cortex/pipeline"
	"github.com/nevindra/cortex/provider/failover"
	"github.com/nevindra/cortex/provider/hashembed"
	"github.com/nevindra/cortex/provider/openaicompat"
	"github.com/nevindra/cortex/reason"
	"github.com/nevindra/cortex/research"
	"github.com/nevindra/cortex/sandbox"
	"github.com/nevindra/cortex/server"
	"github.com/nevindra/cortex/store/pgvec"
	"github.com/nevindra/cortex/store/redisvec"
	"github.com/nevindra/cortex/store/sqlitevec"
	"github.com/nevindra/cortex/toolkit"
	"github.com/nevindra/cortex/voice"
)

// App is a fully wired orchestrator ready to Run.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	srv       *http.Server
	worker    *pipeline.Worker
	capture   *pipeline.Capture
	archiver  *archive.Archiver
	collector *metrics.Collector

	rdb          *redis.Client
	pool         *pgxpool.Pool
	shutdownOtel func(context.Context) error
}

// New builds the application from config. Collaborator processes (LLM
// backends, sandbox, voice) are not contacted here; a down backend
// surfaces at request time through the failover chain.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = cortex.NopLogger()
	}
	a := &App{cfg: cfg, logger: logger}

	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var err error
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			return nil, fmt.Errorf("init observer: %w", err)
		}
		a.shutdownOtel = shutdown
	}

	engine, err := a.buildEngine(inst)
	if err != nil {
		return nil, err
	}
	embedder := a.buildEmbedder(inst)

	if cfg.Database.Backend == "redis" || cfg.Memory.Async {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Database.RedisAddr})
	}

	store, err := a.buildStore(ctx, embedder)
	if err != nil {
		return nil, err
	}

	opts := []server.Option{
		server.WithRatePerMinute(cfg.Server.RatePerMinute),
		server.WithLogger(logger),
		server.WithVerifier(reason.NewVerifier(engine, reason.WithVerifierLogger(logger))),
		server.WithResearch(research.New(engine, store, research.WithLogger(logger))),
	}

	// Async memory needs the redis capture stream regardless of which
	// backend holds the vectors.
	if cfg.Memory.Async && a.rdb != nil {
		stream := redisvec.NewStream(a.rdb, redisvec.WithStreamKey(cfg.Memory.StreamKey))
		checkpoint := redisvec.NewCheckpoint(a.rdb, cfg.Memory.CheckpointKey)
		a.capture = pipeline.NewCapture(stream, pipeline.WithCaptureLogger(logger))

		workerOpts := []pipeline.WorkerOption{
			pipeline.WithWeights(cfg.Memory.SurpriseWeightP, cfg.Memory.SurpriseWeightD),
			pipeline.WithThreshold(cfg.Memory.Threshold),
			pipeline.WithWorkerLogger(logger),
		}
		if !cfg.Memory.StartFromLatest {
			workerOpts = append(workerOpts, pipeline.WithStartFromEarliest())
		}
		a.worker = pipeline.NewWorker(stream, checkpoint, store, embedder, engine, workerOpts...)
		opts = append(opts, server.WithCapture(a.capture))
	}

	if cfg.Archive.Enabled {
		a.archiver = archive.New(store, cfg.Archive.Dir,
			archive.WithDaysThreshold(cfg.Archive.DaysThreshold),
			archive.WithKeepRecent(cfg.Archive.KeepRecent),
			archive.WithLogger(logger))
		opts = append(opts, server.WithArchiver(a.archiver))
	}

	if a.rdb != nil {
		a.collector = a.buildCollector(engine)
		opts = append(opts, server.WithCollector(a.collector))
	}

	runner := sandbox.New(cfg.Sandbox.URL)
	basic := toolkit.Standard(store, nil, nil)
	advanced := toolkit.Standard(store, runner, toolkit.NewWebTool())
	if inst != nil {
		if basic, err = observer.WrapRegistry(basic, inst); err != nil {
			return nil, fmt.Errorf("wrap tools: %w", err)
		}
		if advanced, err = observer.WrapRegistry(advanced, inst); err != nil {
			return nil, fmt.Errorf("wrap tools: %w", err)
		}
	}
	opts = append(opts,
		server.WithBasicTools(basic),
		server.WithAdvancedTools(advanced),
		server.WithRecursiveAgent(reason.NewRecursiveAgent(engine, runner, reason.WithRecursiveLogger(logger))),
		server.WithCodeAssistant(reason.NewCodeAssistant(engine, runner, reason.WithAssistantLogger(logger))),
	)

	personas, err := persona.NewManager(cfg.Server.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("init personas: %w", err)
	}
	opts = append(opts, server.WithPersonas(personas))

	if cfg.Voice.URL != "" {
		opts = append(opts, server.WithVoice(voice.New(cfg.Voice.URL), cfg.Voice.Enabled))
	}

	srv := server.New(engine, store, opts...)
	a.srv = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *App) buildEngine(inst *observer.Instruments) (cortex.Engine, error) {
	cfg := a.cfg.Backends
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	backends := []cortex.Engine{openaicompat.New(cfg.PrimaryURL, cfg.PrimaryModel,
		openaicompat.WithName("vorpal"),
		openaicompat.WithTimeout(timeout),
		openaicompat.WithLogger(a.logger))}
	if cfg.FallbackURL != "" {
		model := cfg.FallbackModel
		if model == "" {
			model = cfg.PrimaryModel
		}
		backends = append(backends, openaicompat.New(cfg.FallbackURL, model,
			openaicompat.WithName("goblin"),
			openaicompat.WithTimeout(timeout),
			openaicompat.WithLogger(a.logger)))
	}

	chain, err := failover.New(backends,
		failover.WithAttemptTimeout(timeout),
		failover.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("build engine chain: %w", err)
	}
	if inst != nil {
		return observer.WrapEngine(chain, inst), nil
	}
	return chain, nil
}

func (a *App) buildEmbedder(inst *observer.Instruments) cortex.EmbeddingProvider {
	cfg := a.cfg.Embedding
	var embedder cortex.EmbeddingProvider
	if cfg.URL != "" {
		embedder = openaicompat.NewEmbedder(cfg.URL, cfg.Model, cfg.Dimensions)
	} else {
		// Deterministic local embeddings; good enough for development
		// without an embedding server.
		embedder = hashembed.New(cfg.Dimensions)
	}
	if inst != nil {
		return observer.WrapEmbedding(embedder, inst)
	}
	return embedder
}

func (a *App) buildStore(ctx context.Context, embedder cortex.EmbeddingProvider) (pipeline.VectorSearcher, error) {
	cfg := a.cfg.Database
	switch cfg.Backend {
	case "redis":
		s := redisvec.New(a.rdb, embedder)
		if err := s.Init(ctx); err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		return s, nil
	case "sqlite":
		s := sqlitevec.New(cfg.SQLitePath, embedder)
		if err := s.Init(ctx); err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return s, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.pool = pool
		s := pgvec.New(pool, embedder)
		if err := s.Init(ctx); err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
	}
}

func (a *App) buildCollector(engine cortex.Engine) *metrics.Collector {
	history := redisvec.NewHistory(a.rdb, "metrics:history", 1000)

	probes := []metrics.Probe{
		{Name: "llm", Check: engine.Health},
		{Name: "redis", Check: func(ctx context.Context) error {
			return a.rdb.Ping(ctx).Err()
		}},
	}
	targets := map[string]string{"vorpal": a.cfg.Backends.PrimaryURL + "/metrics"}
	if a.cfg.Backends.FallbackURL != "" {
		targets["goblin"] = a.cfg.Backends.FallbackURL + "/metrics"
	}
	return metrics.NewCollector(history, nil,
		metrics.WithProbes(probes...),
		metrics.WithTokenScraper(metrics.NewTokenScraper(targets)),
		metrics.WithLogger(a.logger))
}

// Run serves until ctx is cancelled or a component fails, then shuts
// everything down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server starting", "addr", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})

	if a.worker != nil {
		g.Go(func() error { return a.worker.Run(ctx) })
	}
	if a.archiver != nil && a.cfg.Archive.Enabled {
		g.Go(func() error {
			return a.archiver.RunDaily(ctx, a.cfg.Archive.Hour, a.cfg.Archive.Minute)
		})
	}
	if a.collector != nil {
		g.Go(func() error { return a.collector.Run(ctx) })
	}

	err := g.Wait()
	a.close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) close() {
	if a.capture != nil {
		_ = a.capture.Close()
	}
	if a.shutdownOtel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownOtel(ctx); err != nil {
			a.logger.Warn("observer shutdown", "error", err)
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

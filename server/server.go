// Package server is the HTTP surface of the orchestrator: chat and
// reasoning endpoints, memory and library queries, research, voice
// passthrough, archival admin, personas, metrics, and health. Routing is
// chi; every JSON error is a {"detail": ...} envelope with optional
// recovery steps.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	cortex "github.com/nevindra/cortex"
	"github.com/nevindra/cortex/archive"
	"github.com/nevindra/cortex/metrics"
	"github.com/nevindra/cortex/persona"
	"github.com/nevindra/cortex/pipeline"
	"github.com/nevindra/cortex/reason"
	"github.com/nevindra/cortex/research"
	"github.com/nevindra/cortex/voice"
)

// Server holds the wired collaborators. Optional pieces may be nil; their
// endpoints then answer 503 with a hint about the disabled feature.
type Server struct {
	engine cortex.Engine
	store  cortex.Store

	capture   *pipeline.Capture
	verifier  *reason.Verifier
	basic     *cortex.ToolRegistry
	advanced  *cortex.ToolRegistry
	recursive *reason.RecursiveAgent
	assistant *reason.CodeAssistant
	research  *research.Assistant
	personas  *persona.Manager
	archiver  *archive.Archiver
	collector *metrics.Collector
	voice     *voice.Client

	voiceEnabled  bool
	ratePerMinute int
	maxBodyBytes  int64
	logger        *slog.Logger

	limits *ipLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithCapture enables non-blocking capture-stream appends on chat turns.
func WithCapture(c *pipeline.Capture) Option {
	return func(s *Server) { s.capture = c }
}

// WithVerifier enables POST /verify.
func WithVerifier(v *reason.Verifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithBasicTools sets the registry behind POST /agent.
func WithBasicTools(r *cortex.ToolRegistry) Option {
	return func(s *Server) { s.basic = r }
}

// WithAdvancedTools sets the registry behind POST /agent/advanced.
func WithAdvancedTools(r *cortex.ToolRegistry) Option {
	return func(s *Server) { s.advanced = r }
}

// WithRecursiveAgent enables POST /agent/recursive.
func WithRecursiveAgent(a *reason.RecursiveAgent) Option {
	return func(s *Server) { s.recursive = a }
}

// WithCodeAssistant enables POST /code_assist.
func WithCodeAssistant(a *reason.CodeAssistant) Option {
	return func(s *Server) { s.assistant = a }
}

// WithResearch enables POST /research and /research/multi.
func WithResearch(a *research.Assistant) Option {
	return func(s *Server) { s.research = a }
}

// WithPersonas enables the /personas routes and system-prompt injection.
func WithPersonas(m *persona.Manager) Option {
	return func(s *Server) { s.personas = m }
}

// WithArchiver enables the /admin archival routes.
func WithArchiver(a *archive.Archiver) Option {
	return func(s *Server) { s.archiver = a }
}

// WithCollector enables GET /metrics and wires the request counters.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Server) { s.collector = c }
}

// WithVoice enables the /voice routes when enabled is true.
func WithVoice(c *voice.Client, enabled bool) Option {
	return func(s *Server) {
		s.voice = c
		s.voiceEnabled = enabled
	}
}

// WithRatePerMinute sets the per-client-IP request budget.
func WithRatePerMinute(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.ratePerMinute = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server around the required engine and store.
func New(engine cortex.Engine, store cortex.Store, opts ...Option) *Server {
	s := &Server{
		engine:        engine,
		store:         store,
		ratePerMinute: 30,
		maxBodyBytes:  1 << 20,
		logger:        cortex.NopLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	s.limits = newIPLimiter(s.ratePerMinute)
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.collector != nil {
		r.Use(s.statsMiddleware)
	}

	r.Get("/health", s.handleHealth)
	// chi treats the trailing-slash path as a distinct route.
	r.Get("/metrics", s.handleMetrics)
	r.Get("/metrics/", s.handleMetrics)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)

		r.Post("/chat", s.handleChat)
		r.Post("/verify", s.handleVerify)
		r.Post("/agent", s.handleAgent(func() *cortex.ToolRegistry { return s.basic }))
		r.Post("/agent/advanced", s.handleAgent(func() *cortex.ToolRegistry { return s.advanced }))
		r.Post("/agent/recursive", s.handleAgentRecursive)
		r.Post("/code_assist", s.handleCodeAssist)

		r.Get("/memories", s.handleMemoriesList)
		r.Post("/memories/search", s.handleMemoriesSearch)
		r.Get("/memories/{id}", s.handleMemoryGet)
		r.Delete("/memories/{id}", s.handleMemoryDelete)

		r.Post("/library/search", s.handleLibrarySearch)
		r.Get("/library/stats", s.handleLibraryStats)

		r.Post("/research", s.handleResearch)
		r.Post("/research/multi", s.handleResearchMulti)

		r.Post("/voice/transcribe", s.handleTranscribe)
		r.Post("/voice/synthesize", s.handleSynthesize)

		r.Post("/admin/archive_old_memories", s.handleArchiveRun)
		r.Get("/admin/archive_stats", s.handleArchiveStats)
		r.Post("/admin/search_archive", s.handleArchiveSearch)

		r.Get("/personas", s.handlePersonasList)
		r.Post("/personas", s.handlePersonaCreate)
		r.Get("/personas/active", s.handlePersonaActive)
		r.Post("/personas/activate/{id}", s.handlePersonaActivate)
		r.Post("/personas/deactivate", s.handlePersonaDeactivate)
		r.Put("/personas/{id}", s.handlePersonaUpdate)
		r.Delete("/personas/{id}", s.handlePersonaDelete)
	})
	return r
}

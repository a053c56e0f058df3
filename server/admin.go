package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	cortex "github.com/nevindra/cortex"
	"github.com/nevindra/cortex/metrics"
	"github.com/nevindra/cortex/research"
)

type researchRequest struct {
	Question   string `json:"question"`
	UseLibrary *bool  `json:"use_library,omitempty"`
	UseMemory  *bool  `json:"use_memory,omitempty"`
	TopK       int    `json:"top_k,omitempty"`
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	if s.research == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Research is not configured")
		return
	}
	var req researchRequest
	if err := s.decode(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Request body must be valid JSON")
		return
	}
	useLibrary := req.UseLibrary == nil || *req.UseLibrary
	useMemory := req.UseMemory == nil || *req.UseMemory

	res, err := s.research.Research(r.Context(), req.Question, useLibrary, useMemory)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Sources == nil {
		res.Sources = []research.Source{}
	}
	writeJSON(w, http.StatusOK, struct {
		research.Result
		Engine string `json:"engine"`
	}{Result: *res, Engine: s.engineLabel("")})
}

type multiResearchRequest struct {
	Questions  []string `json:"questions"`
	Synthesize *bool    `json:"synthesize,omitempty"`
}

func (s *Server) handleResearchMulti(w http.ResponseWriter, r *http.Request) {
	if s.research == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Research is not configured")
		return
	}
	var req multiResearchRequest
	if err := s.decode(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Request body must be valid JSON")
		return
	}
	synthesize := req.Synthesize == nil || *req.Synthesize

	res, err := s.research.ResearchMulti(r.Context(), req.Questions, true, true, synthesize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil || !s.voiceEnabled {
		writeDetail(w, http.StatusServiceUnavailable,
			"Voice features are disabled. Set ENABLE_VOICE=true to enable.")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	text, err := s.voice.Transcribe(r.Context(), header.Filename, file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil || !s.voiceEnabled {
		writeDetail(w, http.StatusServiceUnavailable,
			"Voice features are disabled. Set ENABLE_VOICE=true to enable.")
		return
	}
	var req synthesizeRequest
	if err := s.decode(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Request body must be valid JSON")
		return
	}

	// The active persona's voice sample selects the cloned voice.
	voicePath := ""
	if s.personas != nil {
		if p, err := s.personas.Active(); err == nil && p != nil {
			voicePath = p.VoicePath
		}
	}

	audio, err := s.voice.Synthesize(r.Context(), req.Text, voicePath)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func (s *Server) handleArchiveRun(w http.ResponseWriter, r *http.Request) {
	if s.archiver == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Archival is not enabled")
		return
	}
	result, err := s.archiver.Run(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleArchiveStats(w http.ResponseWriter, r *http.Request) {
	if s.archiver == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Archival is not enabled")
		return
	}
	stats, err := s.archiver.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type archiveSearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

func (s *Server) handleArchiveSearch(w http.ResponseWriter, r *http.Request) {
	if s.archiver == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Archival is not enabled")
		return
	}
	var req archiveSearchRequest
	if err := s.decode(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeDetail(w, http.StatusBadRequest, "Query cannot be empty")
		return
	}
	if len(req.Query) > 500 {
		writeDetail(w, http.StatusBadRequest, "Query too long (max 500 characters)")
		return
	}
	if req.MaxResults < 1 {
		req.MaxResults = 20
	}
	if req.MaxResults > 100 {
		writeDetail(w, http.StatusBadRequest, "max_results must be between 1 and 100")
		return
	}

	results, err := s.archiver.Search(r.Context(), req.Query, req.MaxResults)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []cortex.Memory{}
	}
	writeJSON(w, http.StatusOK, struct {
		Query   string          `json:"query"`
		Results []cortex.Memory `json:"results"`
		Count   int             `json:"count"`
	}{Query: req.Query, Results: results, Count: len(results)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	engineStatus := "healthy"
	if err := s.engine.Health(ctx); err != nil {
		status = "degraded"
		engineStatus = "unhealthy"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": status,
		"engine": s.engine.Name(),
		"llm":    engineStatus,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Metrics collection is not enabled")
		return
	}
	hours := queryInt(r, "hours", 1)
	snaps, summary, err := s.collector.Window(r.Context(), hours)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []metrics.Snapshot{}
	}
	if hours < 1 {
		hours = 1
	}
	if hours > 24 {
		hours = 24
	}
	writeJSON(w, http.StatusOK, struct {
		Metrics   []metrics.Snapshot `json:"metrics"`
		TimeRange string             `json:"time_range"`
		Summary   metrics.Summary    `json:"summary"`
	}{Metrics: snaps, TimeRange: fmt.Sprintf("%dh", hours), Summary: summary})
}

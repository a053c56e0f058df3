package server

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	cortex "github.com/nevindra/cortex"
)

func pathID(r *http.Request) string { return chi.URLParam(r, "id") }

type memoryItem struct {
	ID         string   `json:"id"`
	Message    string   `json:"message"`
	Perplexity float64  `json:"perplexity"`
	Surprise   float64  `json:"surprise_score"`
	Timestamp  int64    `json:"timestamp"`
	SessionID  string   `json:"session_id"`
	Similarity *float64 `json:"similarity_score,omitempty"`
}

type memoryListResponse struct {
	Memories []memoryItem `json:"memories"`
	Total    int          `json:"total"`
}

func memoryItemFrom(m cortex.Memory) memoryItem {
	return memoryItem{
		ID:         m.ID,
		Message:    m.Message,
		Perplexity: m.Perplexity,
		Surprise:   m.Surprise,
		Timestamp:  m.Timestamp,
		SessionID:  m.SessionID,
	}
}

func (s *Server) handleMemoriesList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit < 1 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var ids []string
	err := s.store.Scan(r.Context(), cortex.NamespaceMemory, func(id string) error {
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Newest first; memory ids embed their creation timestamp.
	sort.Slice(ids, func(i, j int) bool {
		return cortex.MemoryIDTimestamp(ids[i]) > cortex.MemoryIDTimestamp(ids[j])
	})

	total := len(ids)
	if offset > len(ids) {
		offset = len(ids)
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}

	memories := make([]memoryItem, 0, end-offset)
	for _, id := range ids[offset:end] {
		rec, err := s.store.Get(r.Context(), cortex.NamespaceMemory, id)
		if err != nil {
			// Deleted between scan and fetch.
			continue
		}
		memories = append(memories, memoryItemFrom(cortex.MemoryFromRecord(rec)))
	}
	writeJSON(w, http.StatusOK, memoryListResponse{Memories: memories, Total: total})
}

type memorySearchRequest struct {
	Query     string `json:"query"`
	TopK      int    `json:"top_k,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleMemoriesSearch(w http.ResponseWriter, r *http.Request) {
	var req memorySearchRequest
	if err := s.decode(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeDetail(w, http.StatusBadRequest, "Query cannot be empty")
		return
	}
	if req.TopK < 1 {
		req.TopK = 5
	}
	var filter *cortex.Filter
	if req.SessionID != "" {
		filter = &cortex.Filter{Field: cortex.FieldSessionID, Value: req.SessionID}
	}

	matches, err := s.store.Search(r.Context(), cortex.NamespaceMemory, req.Query, req.TopK, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	memories := make([]memoryItem, 0, len(matches))
	for _, m := range matches {
		item := memoryItemFrom(cortex.MemoryFromRecord(m.Record))
		dist := m.Distance
		item.Similarity = &dist
		memories = append(memories, item)
	}
	writeJSON(w, http.StatusOK, memoryListResponse{Memories: memories, Total: len(memories)})
}

func (s *Server) handleMemoryGet(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	rec, err := s.store.Get(r.Context(), cortex.NamespaceMemory, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, memoryItemFrom(cortex.MemoryFromRecord(rec)))
}

func (s *Server) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if _, err := s.store.Get(r.Context(), cortex.NamespaceMemory, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.Delete(r.Context(), cortex.NamespaceMemory, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

type libraryChunk struct {
	ID          string  `json:"id"`
	Filename    string  `json:"filename"`
	FileType    string  `json:"file_type"`
	ChunkIndex  int     `json:"chunk_index"`
	TotalChunks int     `json:"total_chunks"`
	Text        string  `json:"text"`
	Distance    float64 `json:"distance"`
}

type librarySearchRequest struct {
	Query          string `json:"query"`
	TopK           int    `json:"top_k,omitempty"`
	FilterFileType string `json:"filter_file_type,omitempty"`
}

type librarySearchResponse struct {
	Chunks []libraryChunk `json:"chunks"`
	Total  int            `json:"total"`
	Query  string         `json:"query"`
}

func (s *Server) handleLibrarySearch(w http.ResponseWriter, r *http.Request) {
	var req librarySearchRequest
	if err := s.decode(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeDetail(w, http.StatusBadRequest, "Query cannot be empty")
		return
	}
	if req.TopK < 1 {
		req.TopK = 5
	}
	var filter *cortex.Filter
	if req.FilterFileType != "" {
		filter = &cortex.Filter{Field: cortex.FieldFileType, Value: req.FilterFileType}
	}

	matches, err := s.store.Search(r.Context(), cortex.NamespaceLibrary, req.Query, req.TopK, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	chunks := make([]libraryChunk, 0, len(matches))
	for _, m := range matches {
		c := cortex.ChunkFromRecord(m.Record)
		chunks = append(chunks, libraryChunk{
			ID:          c.ID,
			Filename:    c.Filename,
			FileType:    c.FileType,
			ChunkIndex:  c.ChunkIndex,
			TotalChunks: c.TotalChunks,
			Text:        c.Text,
			Distance:    m.Distance,
		})
	}
	writeJSON(w, http.StatusOK, librarySearchResponse{Chunks: chunks, Total: len(chunks), Query: req.Query})
}

type libraryStats struct {
	TotalChunks    int64 `json:"total_chunks"`
	TotalDocuments int   `json:"total_documents"`
	TotalTokens    int   `json:"total_tokens"`
}

func (s *Server) handleLibraryStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context(), cortex.NamespaceLibrary)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats := libraryStats{TotalChunks: count}
	files := make(map[string]bool)
	err = s.store.Scan(r.Context(), cortex.NamespaceLibrary, func(id string) error {
		rec, err := s.store.Get(r.Context(), cortex.NamespaceLibrary, id)
		if err != nil {
			return nil
		}
		c := cortex.ChunkFromRecord(rec)
		files[c.Filename] = true
		stats.TotalTokens += c.Tokens
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats.TotalDocuments = len(files)
	writeJSON(w, http.StatusOK, stats)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

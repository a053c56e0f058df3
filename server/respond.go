package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	cortex "github.com/nevindra/cortex"
)

// errorBody is the JSON error envelope: a human detail line plus optional
// recovery steps for operators.
type errorBody struct {
	Detail   string   `json:"detail"`
	Recovery []string `json:"recovery,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// writeError maps an error to an HTTP status: validation 400, missing
// record 404, collaborator failures 503, permission 403. Anything else is
// a sanitized 500 so internals never leak to clients.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *cortex.Error
	if errors.As(err, &ce) {
		status := http.StatusInternalServerError
		switch ce.Category {
		case cortex.CategoryValidation:
			status = http.StatusBadRequest
		case cortex.CategoryModel, cortex.CategoryResource, cortex.CategoryNetwork:
			status = http.StatusServiceUnavailable
		case cortex.CategoryPermission:
			status = http.StatusForbidden
		}
		if status >= 500 {
			s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		}
		body := errorBody{Detail: ce.Message, Recovery: ce.Recovery}
		if status == http.StatusBadRequest {
			body.Recovery = nil
		}
		writeJSON(w, status, body)
		return
	}
	if errors.Is(err, cortex.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Not found")
		return
	}
	s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	writeDetail(w, http.StatusInternalServerError, "Internal server error")
}

// decode reads a JSON body into v, bounding its size.
func (s *Server) decode(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, s.maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parse request body: %w", err)
	}
	return nil
}

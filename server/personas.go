package server

import (
	"net/http"

	cortex "github.com/nevindra/cortex"
	"github.com/nevindra/cortex/persona"
)

func (s *Server) handlePersonasList(w http.ResponseWriter, r *http.Request) {
	if s.personas == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Personas are not configured")
		return
	}
	list, err := s.personas.List()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []cortex.Persona{}
	}
	writeJSON(w, http.StatusOK, struct {
		Personas []cortex.Persona `json:"personas"`
		Total    int              `json:"total"`
	}{Personas: list, Total: len(list)})
}

func (s *Server) handlePersonaCreate(w http.ResponseWriter, r *http.Request) {
	if s.personas == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Personas are not configured")
		return
	}
	var draft persona.Draft
	if err := s.decode(r, &draft); err != nil {
		writeDetail(w, http.StatusBadRequest, "Request body must be valid JSON")
		return
	}
	p, err := s.personas.Create(draft)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handlePersonaActive(w http.ResponseWriter, r *http.Request) {
	if s.personas == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Personas are not configured")
		return
	}
	p, err := s.personas.Active()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	activeID := ""
	if p != nil {
		activeID = p.ID
	}
	writeJSON(w, http.StatusOK, struct {
		ActiveID string          `json:"active_id"`
		Persona  *cortex.Persona `json:"persona"`
	}{ActiveID: activeID, Persona: p})
}

func (s *Server) handlePersonaActivate(w http.ResponseWriter, r *http.Request) {
	if s.personas == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Personas are not configured")
		return
	}
	p, err := s.personas.Activate(pathID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status  string         `json:"status"`
		Persona cortex.Persona `json:"persona"`
	}{Status: "activated", Persona: p})
}

func (s *Server) handlePersonaDeactivate(w http.ResponseWriter, r *http.Request) {
	if s.personas == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Personas are not configured")
		return
	}
	if err := s.personas.Deactivate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (s *Server) handlePersonaUpdate(w http.ResponseWriter, r *http.Request) {
	if s.personas == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Personas are not configured")
		return
	}
	var upd persona.Update
	if err := s.decode(r, &upd); err != nil {
		writeDetail(w, http.StatusBadRequest, "Request body must be valid JSON")
		return
	}
	p, err := s.personas.Apply(pathID(r), upd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePersonaDelete(w http.ResponseWriter, r *http.Request) {
	if s.personas == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Personas are not configured")
		return
	}
	id := pathID(r)
	if err := s.personas.Delete(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

package server

import (
	"net/http"
	"strings"
	"time"

	cortex "github.com/nevindra/cortex"
	"github.com/nevindra/cortex/reason"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Response string `json:"response"`
	Engine   string `json:"engine"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := s.decode(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeDetail(w, http.StatusBadRequest, "Message cannot be empty")
		return
	}

	s.captureTurn(req.Message, req.SessionID)

	messages := append(s.personaMessages(), cortex.ChatMessage{Role: "user", Content: req.Message})
	res, err := s.engine.Chat(r.Context(), cortex.ChatRequest{
		Messages:    messages,
		MaxTokens:   512,
		Temperature: 0.7,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Response: strings.TrimSpace(res.Content),
		Engine:   s.engineLabel(res.Backend),
	})
}

type verifyResponse struct {
	InitialResponse       string      `json:"initial_response"`
	VerificationQuestions []string    `json:"verification_questions"`
	VerificationQA        []reason.QA `json:"verification_qa"`
	FinalResponse         string      `json:"final_response"`
	Revised               bool        `json:"revised"`
	Engine                string      `json:"engine"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Verification is not configured")
		return
	}
	var req chatRequest
	if err := s.decode(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeDetail(w, http.StatusBadRequest, "Message cannot be empty")
		return
	}

	s.captureTurn(req.Message, req.SessionID)

	v, err := s.verifier.Verify(r.Context(), req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	qa := v.Answers
	if qa == nil {
		qa = []reason.QA{}
	}
	questions := v.Questions
	if questions == nil {
		questions = []string{}
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		InitialResponse:       v.Draft,
		VerificationQuestions: questions,
		VerificationQA:        qa,
		FinalResponse:         v.Final,
		Revised:               v.Revised,
		Engine:                s.engineLabel(""),
	})
}

type agentRequest struct {
	Question string `json:"question"`
	MaxSteps int    `json:"max_steps,omitempty"`
}

type agentResponse struct {
	Answer     string             `json:"answer"`
	Steps      []cortex.AgentStep `json:"steps"`
	TotalSteps int                `json:"total_steps"`
	Success    bool               `json:"success"`
	Engine     string             `json:"engine"`
	Error      string             `json:"error,omitempty"`
}

// handleAgent serves /agent and /agent/advanced; they differ only in
// which tool registry the closure supplies.
func (s *Server) handleAgent(registry func() *cortex.ToolRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tools := registry()
		if tools == nil {
			writeDetail(w, http.StatusServiceUnavailable, "Agent tools are not configured")
			return
		}
		var req agentRequest
		if err := s.decode(r, &req); err != nil {
			writeDetail(w, http.StatusBadRequest, "Request body must be valid JSON")
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			writeDetail(w, http.StatusBadRequest, "Question cannot be empty")
			return
		}

		opts := []reason.AgentOption{reason.WithAgentLogger(s.logger)}
		if req.MaxSteps > 0 {
			opts = append(opts, reason.WithMaxSteps(req.MaxSteps))
		}
		if s.capture != nil {
			opts = append(opts, reason.WithTraceRecorder(s.capture))
		}
		result, err := reason.NewAgent(s.engine, tools, opts...).Run(r.Context(), req.Question)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.agentResponse(result))
	}
}

type recursiveRequest struct {
	Question string `json:"question"`
	Corpus   string `json:"corpus"`
}

func (s *Server) handleAgentRecursive(w http.ResponseWriter, r *http.Request) {
	if s.recursive == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Recursive agent requires the sandbox service")
		return
	}
	var req recursiveRequest
	if err := s.decode(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeDetail(w, http.StatusBadRequest, "Question cannot be empty")
		return
	}
	result, err := s.recursive.Run(r.Context(), req.Corpus, req.Question)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.agentResponse(result))
}

type codeAssistRequest struct {
	Task        string  `json:"task"`
	MaxAttempts int     `json:"max_attempts,omitempty"`
	Timeout     float64 `json:"timeout,omitempty"` // seconds, per sandbox execution
}

type codeAssistResponse struct {
	Task        string `json:"task"`
	Code        string `json:"code"`
	Explanation string `json:"explanation,omitempty"`
	TestOutput  string `json:"test_output,omitempty"`
	Success     bool   `json:"success"`
	Attempts    int    `json:"attempts"`
	Engine      string `json:"engine"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleCodeAssist(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Code assistance requires the sandbox service")
		return
	}
	var req codeAssistRequest
	if err := s.decode(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Request body must be valid JSON")
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		writeDetail(w, http.StatusBadRequest, "Task cannot be empty")
		return
	}
	var opts []reason.AssistantOption
	if req.MaxAttempts > 0 {
		opts = append(opts, reason.WithMaxAttempts(req.MaxAttempts))
	}
	if req.Timeout > 0 {
		opts = append(opts, reason.WithAssistantTimeout(time.Duration(req.Timeout*float64(time.Second))))
	}
	result, err := s.assistant.Assist(r.Context(), req.Task, opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, codeAssistResponse{
		Task:        req.Task,
		Code:        result.Code,
		Explanation: result.Explanation,
		TestOutput:  result.Output,
		Success:     result.Success,
		Attempts:    result.Attempts,
		Engine:      s.engineLabel(""),
		Error:       result.Error,
	})
}

func (s *Server) agentResponse(result cortex.AgentResult) agentResponse {
	steps := result.Steps
	if steps == nil {
		steps = []cortex.AgentStep{}
	}
	return agentResponse{
		Answer:     result.Answer,
		Steps:      steps,
		TotalSteps: result.TotalSteps,
		Success:    result.Success,
		Engine:     s.engineLabel(""),
		Error:      result.Error,
	}
}

// captureTurn appends to the capture stream without ever blocking the
// request path.
func (s *Server) captureTurn(message, sessionID string) {
	if s.capture == nil {
		return
	}
	s.capture.Capture(message, sessionID)
}

// personaMessages returns the system messages for the active persona, if
// any. A persona read failure degrades to no injection.
func (s *Server) personaMessages() []cortex.ChatMessage {
	if s.personas == nil {
		return nil
	}
	p, err := s.personas.Active()
	if err != nil {
		s.logger.Warn("active persona unavailable", "error", err)
		return nil
	}
	if p == nil {
		return nil
	}
	messages := []cortex.ChatMessage{{Role: "system", Content: p.SystemPrompt}}
	if p.History != "" {
		messages = append(messages, cortex.ChatMessage{Role: "system", Content: "Previous conversation context:\n" + p.History})
	}
	return messages
}

// engineLabel names the engine in responses; backend, when known, is the
// specific server that answered (relevant behind the failover chain).
func (s *Server) engineLabel(backend string) string {
	if backend != "" && backend != s.engine.Name() {
		return s.engine.Name() + "/" + backend
	}
	return s.engine.Name()
}

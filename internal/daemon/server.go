package daemon

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/HanSyngha/ONCE-sub000/internal/agent"
	"github.com/HanSyngha/ONCE-sub000/internal/queue"
)

// Backlog submits and cancels requests. Satisfied by *queue.Pool.
type Backlog interface {
	Enqueue(req agent.Request) error
	Cancel(requestID string) bool
}

// AnswerGate resolves pending questions. Satisfied by *askuser.Gate.
type AnswerGate interface {
	SubmitAnswer(requestID, answer string) bool
}

// StatusStore reads request statuses. Satisfied by *audit.Store.
type StatusStore interface {
	Status(requestID string) (status, reason string, err error)
}

// Server is the HTTP surface of the daemon: request submission, answer and
// cancel endpoints, the websocket event stream, and a health probe.
type Server struct {
	backlog  Backlog
	gate     AnswerGate
	statuses StatusStore
	ws       http.HandlerFunc
	logger   *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the structured logger for the server.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer wires the HTTP surface over its collaborators. ws handles the
// websocket upgrade for the event stream.
func NewServer(backlog Backlog, gate AnswerGate, statuses StatusStore, ws http.HandlerFunc, opts ...ServerOption) *Server {
	s := &Server{
		backlog:  backlog,
		gate:     gate,
		statuses: statuses,
		ws:       ws,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the daemon's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /requests", s.handleSubmit)
	mux.HandleFunc("GET /requests/{id}", s.handleStatus)
	mux.HandleFunc("POST /requests/{id}/answer", s.handleAnswer)
	mux.HandleFunc("POST /requests/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) { s.ws(w, r) })
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

type submitRequest struct {
	SpaceID    string `json:"space_id"`
	Kind       string `json:"kind"`
	Input      string `json:"input"`
	ActingUser string `json:"acting_user"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.SpaceID == "" || body.Input == "" {
		writeError(w, http.StatusBadRequest, "space_id and input are required")
		return
	}

	kind, ok := parseKind(body.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be INPUT, SEARCH or REFACTOR")
		return
	}

	req := agent.Request{
		ID:         uuid.NewString(),
		SpaceID:    body.SpaceID,
		Kind:       kind,
		Input:      body.Input,
		ActingUser: body.ActingUser,
	}

	if err := s.backlog.Enqueue(req); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			writeError(w, http.StatusTooManyRequests, "request queue full, retry later")
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.logger.Info("request accepted", "request", req.ID, "space", req.SpaceID, "kind", string(kind))
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": req.ID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, reason, err := s.statuses.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "reason": reason})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// A late answer is not an error: the question may have timed out a
	// moment ago. The flag tells the client which way it went.
	accepted := s.gate.SubmitAnswer(r.PathValue("id"), body.Answer)
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	cancelled := s.backlog.Cancel(r.PathValue("id"))
	if !cancelled {
		writeError(w, http.StatusNotFound, "request not queued or running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func parseKind(s string) (agent.TaskKind, bool) {
	switch agent.TaskKind(strings.ToUpper(s)) {
	case agent.TaskInput:
		return agent.TaskInput, true
	case agent.TaskSearch:
		return agent.TaskSearch, true
	case agent.TaskRefactor:
		return agent.TaskRefactor, true
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

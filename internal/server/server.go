// Package server is the thin HTTP JSON layer over the agent: thread CRUD,
// message turns, and health. It owns no business logic.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"teampulse/internal/agent"
	"teampulse/internal/session"
)

// Server serves the JSON API.
type Server struct {
	agent  *agent.Agent
	store  *session.Store
	logger *zap.Logger
	mux    *http.ServeMux
	now    func() time.Time
}

// New creates the server. store may be nil; thread endpoints then answer
// 503 while message processing still works against in-memory sessions.
func New(a *agent.Agent, store *session.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		agent:  a,
		store:  store,
		logger: logger.Named("server"),
		mux:    http.NewServeMux(),
		now:    time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/threads", s.handleCreateThread)
	s.mux.HandleFunc("GET /api/threads", s.handleListThreads)
	s.mux.HandleFunc("GET /api/threads/{id}", s.handleGetThread)
	s.mux.HandleFunc("DELETE /api/threads/{id}", s.handleDeleteThread)
	s.mux.HandleFunc("POST /api/threads/{id}/messages", s.handlePostMessage)
	s.mux.HandleFunc("GET /api/threads/{id}/messages", s.handleListMessages)
	s.mux.HandleFunc("POST /api/threads/{id}/clear-memory", s.handleClearMemory)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "thread storage not configured")
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body means default title
	}
	thread, err := s.store.CreateThread(req.Title)
	if err != nil {
		s.internalError(w, "create thread", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, thread)
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "thread storage not configured")
		return
	}
	threads, err := s.store.Threads(50, 0)
	if err != nil {
		s.internalError(w, "list threads", err)
		return
	}
	if threads == nil {
		threads = []session.Thread{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "thread storage not configured")
		return
	}
	thread, found, err := s.store.Thread(r.PathValue("id"))
	if err != nil {
		s.internalError(w, "fetch thread", err)
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	s.writeJSON(w, http.StatusOK, thread)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "thread storage not configured")
		return
	}
	id := r.PathValue("id")
	deleted, err := s.store.DeleteThread(id)
	if err != nil {
		s.internalError(w, "delete thread", err)
		return
	}
	if !deleted {
		s.writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	s.agent.ClearSession(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "body must be {\"message\": \"...\"}")
		return
	}

	id := r.PathValue("id")
	if s.store != nil {
		_, found, err := s.store.Thread(id)
		if err != nil {
			s.internalError(w, "fetch thread", err)
			return
		}
		if !found {
			s.writeError(w, http.StatusNotFound, "thread not found")
			return
		}
	}
	result, err := s.agent.ProcessQuery(r.Context(), id, req.Message, s.now())
	if err != nil {
		if agent.IsSessionBusy(err) {
			s.writeError(w, http.StatusConflict, "a message is already being processed on this thread")
			return
		}
		s.internalError(w, "process message", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "thread storage not configured")
		return
	}
	turns, err := s.store.ListTurns(r.PathValue("id"))
	if err != nil {
		s.internalError(w, "list messages", err)
		return
	}
	if turns == nil {
		turns = []session.Turn{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": turns})
}

func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	s.agent.ClearSessionMemory(r.PathValue("id"))
	s.writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.agent.Health(r.Context())
	status := http.StatusOK
	if !health.TrackerOK && !health.RepoOK {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what+" failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, what+" failed")
}

package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/streamline-ai/chatrelay/internal/chatstore"
	"github.com/streamline-ai/chatrelay/internal/jobqueue"
	"github.com/streamline-ai/chatrelay/internal/relay"
)

// Server exposes the REST and streaming endpoints of the chat relay.
type Server struct {
	chat     chatstore.Store
	queue    *jobqueue.Queue
	events   relay.EventLog
	notifier relay.Notifier
	registry *relay.Registry
	session  relay.SessionConfig

	logger   *log.Logger
	logLevel string
}

// New wires the HTTP layer over its collaborators.
func New(chat chatstore.Store, queue *jobqueue.Queue, events relay.EventLog, notifier relay.Notifier, registry *relay.Registry, session relay.SessionConfig) *Server {
	return &Server{
		chat:     chat,
		queue:    queue,
		events:   events,
		notifier: notifier,
		registry: registry,
		session:  session,
		logger:   log.Default(),
	}
}

// SetLogger configures the request logger and verbosity.
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)

	r.Post("/conversations", s.handleCreateConversation)
	r.Get("/conversations/{conversationID}", s.handleGetConversation)
	r.Post("/conversations/{conversationID}/messages", s.handleSendMessage)
	r.Get("/stream/{jobID}", s.handleStream)
	r.Get("/jobs/{jobID}", s.handleJobStatus)
	r.Get("/healthz", s.handleHealth)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleJobStatus reports registry metadata for a job. This is diagnostics
// only; stream delivery never consults the registry.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	info := s.registry.Get(jobID)
	if info.Status == relay.StatusUnknown {
		s.respondError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}

func (s *Server) isDebug() bool {
	return s.logLevel == "debug" || s.logLevel == "trace"
}

func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

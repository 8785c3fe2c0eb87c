package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/streamline-ai/chatrelay/internal/chatstore"
	"github.com/streamline-ai/chatrelay/internal/jobqueue"
)

type conversationCreateRequest struct {
	Title string `json:"title"`
}

type messageCreateRequest struct {
	Content string `json:"content"`
	Profile string `json:"profile,omitempty"`
}

type messageCreateResponse struct {
	JobID     string `json:"job_id"`
	MessageID int64  `json:"message_id"`
	Status    string `json:"status"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New Conversation"
	}
	conv, err := s.chat.CreateConversation(r.Context(), title)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Printf("conversation created id=%d title=%q", conv.ID, conv.Title)
	s.respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := conversationID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	conv, err := s.chat.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, chatstore.ErrConversationNotFound) {
			s.respondError(w, http.StatusNotFound, err)
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, conv)
}

// handleSendMessage persists the user message, creates a placeholder
// assistant message and submits the generation job. It returns immediately;
// the reply streams out of band via /stream/{job_id}.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()
	id, err := conversationID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	var req messageCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("message content required"))
		return
	}

	if _, err := s.chat.AddMessage(r.Context(), id, chatstore.RoleUser, req.Content); err != nil {
		if errors.Is(err, chatstore.ErrConversationNotFound) {
			s.respondError(w, http.StatusNotFound, err)
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	placeholder, err := s.chat.AddMessage(r.Context(), id, chatstore.RoleAssistant, "")
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	jobID := s.queue.Submit(jobqueue.Job{
		ConversationID: id,
		MessageID:      placeholder.ID,
		Prompt:         req.Content,
		Profile:        req.Profile,
	})

	// Link before responding so a client can always get from message to
	// stream, even if it reconnects later.
	if err := s.chat.SetMessageJob(r.Context(), placeholder.ID, jobID); err != nil {
		s.logger.Printf("conversation %d: link message %d to job %s failed: %v", id, placeholder.ID, jobID, err)
	}

	s.logger.Printf("conversation %d: job %s submitted message=%d total_ms=%d",
		id, jobID, placeholder.ID, time.Since(reqStart).Milliseconds())
	s.respondJSON(w, http.StatusAccepted, messageCreateResponse{
		JobID:     jobID,
		MessageID: placeholder.ID,
		Status:    "processing",
	})
}

func conversationID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "conversationID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid conversation id")
	}
	return id, nil
}

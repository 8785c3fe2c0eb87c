package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/streamline-ai/chatrelay/internal/relay"
)

// handleStream attaches one SSE consumer session to a job's event stream.
// The session replays stored history first, then follows live events until
// the terminal frame, the session deadline or client disconnect. Closing
// the connection never cancels the producer.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	afterSeq := resumeCursor(r)

	// Reject unknown jobs with a plain 404 before any SSE framing. A job
	// with zero events so far passes this check and simply waits.
	known, err := s.events.Exists(r.Context(), jobID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if !known {
		s.respondError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	s.debugf("stream %s: client attached after_seq=%d", jobID, afterSeq)
	start := time.Now()
	frames := 0

	session := relay.NewSession(s.events, s.notifier, s.session, s.logger)
	err = session.Run(r.Context(), jobID, afterSeq, func(seq int64, frame relay.Frame) error {
		if seq >= 0 {
			if _, err := fmt.Fprintf(w, "id: %d\n", seq); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "data: "); err != nil {
			return err
		}
		if err := json.NewEncoder(w).Encode(frame); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		frames++
		return nil
	})

	switch {
	case err == nil:
		s.logger.Printf("stream %s: closed frames=%d total_ms=%d", jobID, frames, time.Since(start).Milliseconds())
	case errors.Is(err, relay.ErrJobUnknown):
		// Purged between the existence check and the replay read.
		s.logger.Printf("stream %s: history expired before replay", jobID)
		_, _ = io.WriteString(w, "data: {\"error\": \"job not found\"}\n\n")
		if flusher != nil {
			flusher.Flush()
		}
	case errors.Is(err, context.Canceled):
		s.debugf("stream %s: client disconnected after %d frames", jobID, frames)
	default:
		s.logger.Printf("stream %s: session ended: %v", jobID, err)
	}
}

// resumeCursor reads the resume position from the Last-Event-ID header (set
// by browsers on SSE reconnect) or an explicit after query parameter.
// Events up to and including the cursor are not re-delivered.
func resumeCursor(r *http.Request) int64 {
	candidates := []string{
		r.Header.Get("Last-Event-ID"),
		r.URL.Query().Get("after"),
	}
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if seq, err := strconv.ParseInt(raw, 10, 64); err == nil && seq >= 0 {
			return seq
		}
	}
	return -1
}

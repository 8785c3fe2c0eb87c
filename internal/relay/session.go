package relay

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Frame is the client-facing shape of one streamed unit. Exactly one field
// is set per frame; the final frame of every session is Done or Error.
type Frame struct {
	Content   string `json:"content,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FrameWriter delivers one frame to the attached client, along with the
// sequence number of the backing event (-1 for synthetic frames such as the
// session timeout). Returning an error closes the session; it never affects
// the producer or other sessions.
type FrameWriter func(seq int64, frame Frame) error

// SessionConfig tunes one consumer session.
type SessionConfig struct {
	// WaitTimeout bounds each individual wait on the notifier, keeping the
	// live loop responsive to deadline and disconnect checks.
	WaitTimeout time.Duration
	// Deadline bounds the whole session; when it passes without a terminal
	// event the client receives a synthetic error frame.
	Deadline time.Duration
}

const (
	defaultWaitTimeout = time.Second
	defaultDeadline    = 5 * time.Minute
)

// Session attaches one client to a job's event stream: it replays stored
// history from a cursor, then follows live events until a terminal event,
// its deadline, or client disconnect. Sessions for the same job are fully
// independent; each keeps a private cursor and waiter.
type Session struct {
	log      EventLog
	notifier Notifier
	cfg      SessionConfig
	logger   *log.Logger
}

// NewSession creates a consumer session factory over the shared log and
// notifier.
func NewSession(eventLog EventLog, notifier Notifier, cfg SessionConfig, logger *log.Logger) *Session {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultDeadline
	}
	return &Session{log: eventLog, notifier: notifier, cfg: cfg, logger: logger}
}

// Run streams the job's events to emit, starting after sequence afterSeq
// (-1 for the full history). It returns ErrJobUnknown when the job was
// never submitted or has been purged, the emit error when the client went
// away, and nil after a terminal or synthetic timeout frame.
func (s *Session) Run(ctx context.Context, jobID string, afterSeq int64, emit FrameWriter) error {
	start := time.Now()
	lastSeen := afterSeq

	// Subscribe before the catch-up read so nothing published in between
	// is missed; anything the replay already covers is deduplicated by
	// re-reading from the cursor rather than trusting the notification.
	waiter, err := s.notifier.Subscribe(jobID)
	if err != nil {
		return fmt.Errorf("relay: subscribe job %s: %w", jobID, err)
	}
	defer waiter.Close()

	// Catch-up phase.
	events, err := s.log.ReadRange(ctx, jobID, lastSeen)
	if err != nil {
		return err
	}
	terminal, err := s.emitAll(events, &lastSeen, emit)
	if err != nil || terminal {
		return err
	}

	// Live phase.
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > s.cfg.Deadline {
			s.logger.Printf("[relay] job %s: session deadline after %s", jobID, s.cfg.Deadline)
			return emit(-1, Frame{Error: "stream timeout"})
		}

		// The wake-up is only a hint; the log read below is what decides
		// whether anything new exists, so a missed notification costs one
		// wait timeout of latency, never an event.
		waiter.Wait(ctx, s.cfg.WaitTimeout)

		events, err := s.log.ReadRange(ctx, jobID, lastSeen)
		if err != nil {
			if err == ErrJobUnknown && lastSeen > afterSeq {
				// History expired underneath a live session mid-stream.
				return emit(-1, Frame{Error: "stream expired"})
			}
			return err
		}
		terminal, err := s.emitAll(events, &lastSeen, emit)
		if err != nil || terminal {
			return err
		}
	}
}

// emitAll forwards events in order, advancing the cursor. It reports
// whether a terminal frame was emitted.
func (s *Session) emitAll(events []Event, lastSeen *int64, emit FrameWriter) (bool, error) {
	for _, ev := range events {
		if err := emit(ev.Sequence, frameFor(ev)); err != nil {
			return false, err
		}
		*lastSeen = ev.Sequence
		if ev.Kind.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func frameFor(ev Event) Frame {
	switch ev.Kind {
	case KindContent:
		return Frame{Content: ev.Payload}
	case KindReasoning:
		return Frame{Reasoning: ev.Payload}
	case KindDone:
		return Frame{Done: true}
	default:
		return Frame{Error: ev.Payload}
	}
}

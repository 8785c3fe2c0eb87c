package relay

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"
)

type sessionHarness struct {
	log      *MemoryLog
	notifier *MemoryNotifier
	session  *Session
}

func newSessionHarness(cfg SessionConfig) *sessionHarness {
	l := NewMemoryLogWithJanitor(time.Hour, 0)
	n := NewMemoryNotifier()
	return &sessionHarness{
		log:      l,
		notifier: n,
		session:  NewSession(l, n, cfg, log.New(log.Writer(), "", 0)),
	}
}

func (h *sessionHarness) appendAndPublish(t *testing.T, jobID string, kind Kind, payload string) {
	t.Helper()
	ctx := context.Background()
	seq, err := h.log.Append(ctx, jobID, kind, payload)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	h.notifier.Publish(ctx, jobID, Event{JobID: jobID, Sequence: seq, Kind: kind, Payload: payload})
}

func collectFrames(frames *[]Frame) FrameWriter {
	return func(seq int64, frame Frame) error {
		*frames = append(*frames, frame)
		return nil
	}
}

func TestSession_ReplaysFinishedJob(t *testing.T) {
	h := newSessionHarness(SessionConfig{})
	defer h.log.Close()
	ctx := context.Background()

	for _, p := range []string{"Hel", "lo"} {
		if _, err := h.log.Append(ctx, "job", KindContent, p); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := h.log.Append(ctx, "job", KindDone, ""); err != nil {
		t.Fatalf("append done: %v", err)
	}

	var frames []Frame
	if err := h.session.Run(ctx, "job", -1, collectFrames(&frames)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames: %+v", len(frames), frames)
	}
	if frames[0].Content != "Hel" || frames[1].Content != "lo" || !frames[2].Done {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestSession_FollowsLiveEvents(t *testing.T) {
	h := newSessionHarness(SessionConfig{WaitTimeout: 20 * time.Millisecond, Deadline: 5 * time.Second})
	defer h.log.Close()
	ctx := context.Background()

	if err := h.log.Touch(ctx, "job"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	done := make(chan error, 1)
	var frames []Frame
	go func() {
		done <- h.session.Run(ctx, "job", -1, collectFrames(&frames))
	}()

	time.Sleep(30 * time.Millisecond)
	h.appendAndPublish(t, "job", KindReasoning, "mulling")
	h.appendAndPublish(t, "job", KindContent, "answer")
	h.appendAndPublish(t, "job", KindDone, "")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish after terminal event")
	}

	if len(frames) != 3 {
		t.Fatalf("got %d frames: %+v", len(frames), frames)
	}
	if frames[0].Reasoning != "mulling" || frames[1].Content != "answer" || !frames[2].Done {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestSession_MissedNotificationRecoveredFromLog(t *testing.T) {
	// No publishes at all: the session must still pick up appended events on
	// its wait-timeout re-read.
	h := newSessionHarness(SessionConfig{WaitTimeout: 10 * time.Millisecond, Deadline: 5 * time.Second})
	defer h.log.Close()
	ctx := context.Background()

	if err := h.log.Touch(ctx, "job"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	done := make(chan error, 1)
	var frames []Frame
	go func() {
		done <- h.session.Run(ctx, "job", -1, collectFrames(&frames))
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := h.log.Append(ctx, "job", KindContent, "silent"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := h.log.Append(ctx, "job", KindDone, ""); err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session never caught up without notifications")
	}
	if len(frames) != 2 || frames[0].Content != "silent" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestSession_ResumeAfterCursorSkipsDelivered(t *testing.T) {
	h := newSessionHarness(SessionConfig{})
	defer h.log.Close()
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		if _, err := h.log.Append(ctx, "job", KindContent, p); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := h.log.Append(ctx, "job", KindDone, ""); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Reconnect claiming everything through seq 1 was already delivered.
	var frames []Frame
	if err := h.session.Run(ctx, "job", 1, collectFrames(&frames)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames: %+v", len(frames), frames)
	}
	if frames[0].Content != "c" || !frames[1].Done {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestSession_UnknownJob(t *testing.T) {
	h := newSessionHarness(SessionConfig{})
	defer h.log.Close()

	err := h.session.Run(context.Background(), "never-submitted", -1, func(seq int64, frame Frame) error {
		t.Fatalf("unexpected frame %+v", frame)
		return nil
	})
	if !errors.Is(err, ErrJobUnknown) {
		t.Fatalf("got %v, want ErrJobUnknown", err)
	}
}

func TestSession_DeadlineEmitsTimeoutFrame(t *testing.T) {
	h := newSessionHarness(SessionConfig{WaitTimeout: 10 * time.Millisecond, Deadline: 50 * time.Millisecond})
	defer h.log.Close()
	ctx := context.Background()

	if err := h.log.Touch(ctx, "job"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	var frames []Frame
	if err := h.session.Run(ctx, "job", -1, collectFrames(&frames)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(frames) != 1 || frames[0].Error != "stream timeout" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestSession_DisconnectStopsSessionOnly(t *testing.T) {
	h := newSessionHarness(SessionConfig{WaitTimeout: 10 * time.Millisecond, Deadline: 5 * time.Second})
	defer h.log.Close()

	if err := h.log.Touch(context.Background(), "job"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.session.Run(ctx, "job", -1, func(seq int64, frame Frame) error { return nil })
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop on cancel")
	}

	// The job's history is untouched by the departed consumer.
	if _, err := h.log.Append(context.Background(), "job", KindContent, "still running"); err != nil {
		t.Fatalf("append after disconnect: %v", err)
	}
}

func TestSession_IndependentConsumersGetFullStream(t *testing.T) {
	h := newSessionHarness(SessionConfig{WaitTimeout: 10 * time.Millisecond, Deadline: 5 * time.Second})
	defer h.log.Close()
	ctx := context.Background()

	if err := h.log.Touch(ctx, "job"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	type out struct {
		frames []Frame
		err    error
	}
	results := make(chan out, 2)
	for i := 0; i < 2; i++ {
		go func() {
			var frames []Frame
			err := h.session.Run(ctx, "job", -1, collectFrames(&frames))
			results <- out{frames: frames, err: err}
		}()
	}

	time.Sleep(30 * time.Millisecond)
	h.appendAndPublish(t, "job", KindContent, "x")
	h.appendAndPublish(t, "job", KindDone, "")

	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			if res.err != nil {
				t.Fatalf("consumer %d: %v", i, res.err)
			}
			if len(res.frames) != 2 || res.frames[0].Content != "x" || !res.frames[1].Done {
				t.Fatalf("consumer %d frames = %+v", i, res.frames)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("consumer %d never finished", i)
		}
	}
}

func TestSession_HistoryExpiresMidStream(t *testing.T) {
	h := newSessionHarness(SessionConfig{WaitTimeout: 10 * time.Millisecond, Deadline: 5 * time.Second})
	defer h.log.Close()
	ctx := context.Background()

	if _, err := h.log.Append(ctx, "job", KindContent, "first"); err != nil {
		t.Fatalf("append: %v", err)
	}

	done := make(chan error, 1)
	var frames []Frame
	go func() {
		done <- h.session.Run(ctx, "job", -1, collectFrames(&frames))
	}()

	time.Sleep(30 * time.Millisecond)
	// Simulate TTL expiry dropping the whole history under the session.
	h.log.mu.Lock()
	delete(h.log.jobs, "job")
	h.log.mu.Unlock()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not notice expiry")
	}
	if len(frames) != 2 || frames[0].Content != "first" || frames[1].Error != "stream expired" {
		t.Fatalf("frames = %+v", frames)
	}
}

package relay

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/streamline-ai/chatrelay/internal/engine"
)

// Result carries the accumulated output of one producer run.
type Result struct {
	Content   string
	Reasoning string
	// Failed is true when the run ended with a terminal error event.
	Failed bool
	// Reason is the human-readable failure message when Failed is set.
	Reason string
}

// Producer drives a generation engine to completion for one job, appending
// each delta to the event log and pinging the notifier. It runs detached
// from any client connection; consumers only ever see its output through
// the log and notifier.
type Producer struct {
	log      EventLog
	notifier Notifier
	registry *Registry
	engine   engine.Streamer
	logger   *log.Logger
}

// NewProducer creates a producer adapter over the given engine. The engine
// client is injected once at construction and reused across runs.
func NewProducer(eventLog EventLog, notifier Notifier, registry *Registry, eng engine.Streamer, logger *log.Logger) *Producer {
	return &Producer{
		log:      eventLog,
		notifier: notifier,
		registry: registry,
		engine:   eng,
		logger:   logger,
	}
}

// Run executes one generation job to its terminal event. Exactly one done
// or error event is written per job; deltas arriving after the terminal
// event are logged and dropped, never persisted. Run never retries the
// engine; retry policy belongs to the job queue.
func (p *Producer) Run(ctx context.Context, jobID string, req engine.Request) Result {
	start := time.Now()
	var content, reasoning strings.Builder

	ch, err := p.engine.Stream(ctx, req)
	if err != nil {
		p.logger.Printf("[relay] job %s: engine start failed: %v", jobID, err)
		p.fail(ctx, jobID, err.Error())
		return Result{Failed: true, Reason: err.Error()}
	}

	terminalWritten := false
	dropped := 0
	for delta := range ch {
		if terminalWritten {
			// Misbehaving engine kept yielding after we finished the job.
			dropped++
			continue
		}
		if delta.Err != nil {
			p.logger.Printf("[relay] job %s: engine error after %s: %v", jobID, time.Since(start).Round(time.Millisecond), delta.Err)
			p.fail(ctx, jobID, delta.Err.Error())
			terminalWritten = true
			continue
		}

		var kind Kind
		switch delta.Kind {
		case engine.DeltaContent:
			kind = KindContent
			content.WriteString(delta.Text)
		case engine.DeltaReasoning:
			kind = KindReasoning
			reasoning.WriteString(delta.Text)
		default:
			p.logger.Printf("[relay] job %s: skipping delta of unknown kind %q", jobID, delta.Kind)
			continue
		}
		if err := p.emit(ctx, jobID, kind, delta.Text); err != nil {
			p.logger.Printf("[relay] job %s: store append failed: %v", jobID, err)
			p.fail(ctx, jobID, "event store unavailable")
			terminalWritten = true
		}
	}
	if dropped > 0 {
		p.logger.Printf("[relay] job %s: dropped %d post-terminal deltas", jobID, dropped)
	}
	if terminalWritten {
		return Result{Failed: true, Reason: p.registry.Get(jobID).Reason}
	}

	if err := p.emit(ctx, jobID, KindDone, ""); err != nil {
		p.logger.Printf("[relay] job %s: terminal append failed: %v", jobID, err)
		p.registry.MarkFailed(jobID, "event store unavailable")
		return Result{Failed: true, Reason: "event store unavailable"}
	}
	p.registry.MarkCompleted(jobID)
	p.logger.Printf("[relay] job %s: completed in %s, content=%d chars, reasoning=%d chars",
		jobID, time.Since(start).Round(time.Millisecond), content.Len(), reasoning.Len())
	return Result{Content: content.String(), Reasoning: reasoning.String()}
}

// emit appends one event and immediately publishes it so attached waiters
// wake with minimal latency.
func (p *Producer) emit(ctx context.Context, jobID string, kind Kind, payload string) error {
	seq, err := p.log.Append(ctx, jobID, kind, payload)
	if err != nil {
		return err
	}
	p.registry.ObserveEvent(jobID)
	p.notifier.Publish(ctx, jobID, Event{JobID: jobID, Sequence: seq, Kind: kind, Payload: payload})
	return nil
}

// fail writes the terminal error event and finalizes the registry entry.
// The append is best effort; consumers still time out cleanly if the store
// is gone.
func (p *Producer) fail(ctx context.Context, jobID, reason string) {
	if err := p.emit(ctx, jobID, KindError, reason); err != nil {
		p.logger.Printf("[relay] job %s: error event append failed: %v", jobID, err)
	}
	p.registry.MarkFailed(jobID, reason)
}

package engine

import "context"

// DeltaKind classifies one increment yielded by a generation engine.
type DeltaKind string

const (
	DeltaContent   DeltaKind = "content"
	DeltaReasoning DeltaKind = "reasoning"
)

// Delta is one unit of engine output. A Delta with Err set signals that the
// engine failed mid-stream; implementations close the channel afterwards.
type Delta struct {
	Kind DeltaKind
	Text string
	Err  error
}

// Request describes one generation run.
type Request struct {
	Prompt string
	// Profile optionally selects a named engine profile (model, reasoning
	// effort). Empty means the engine's default.
	Profile string
}

// Streamer produces a sequence of typed deltas terminated by natural channel
// close (completion) or a Delta carrying Err (failure). An engine may yield
// zero deltas before completing.
type Streamer interface {
	Stream(ctx context.Context, req Request) (<-chan Delta, error)
}

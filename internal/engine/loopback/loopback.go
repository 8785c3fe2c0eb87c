package loopback

import (
	"context"
	"strings"
	"time"

	"github.com/streamline-ai/chatrelay/internal/engine"
)

// Ensure Engine implements Streamer.
var _ engine.Streamer = (*Engine)(nil)

// Engine fabricates a deterministic delta stream that echoes the prompt
// word by word. Used when no upstream API key is configured and in tests.
type Engine struct {
	// Delay between deltas; zero means emit as fast as the consumer reads.
	Delay time.Duration
}

// New creates a loopback engine.
func New() *Engine {
	return &Engine{}
}

// Stream yields one reasoning delta followed by the prompt echoed in word
// chunks, then closes.
func (e *Engine) Stream(ctx context.Context, req engine.Request) (<-chan engine.Delta, error) {
	ch := make(chan engine.Delta, 10)
	go func() {
		defer close(ch)

		emit := func(d engine.Delta) bool {
			if e.Delay > 0 {
				select {
				case <-time.After(e.Delay):
				case <-ctx.Done():
					return false
				}
			}
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(engine.Delta{Kind: engine.DeltaReasoning, Text: "echoing the prompt back"}) {
			return
		}
		if !emit(engine.Delta{Kind: engine.DeltaContent, Text: "[loopback]"}) {
			return
		}
		for _, word := range strings.Fields(req.Prompt) {
			if !emit(engine.Delta{Kind: engine.DeltaContent, Text: " " + word}) {
				return
			}
		}
	}()
	return ch, nil
}

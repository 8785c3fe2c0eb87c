package loopback

import (
	"context"
	"strings"
	"testing"

	"github.com/streamline-ai/chatrelay/internal/engine"
)

func TestStream_EchoesPrompt(t *testing.T) {
	e := New()
	ch, err := e.Stream(context.Background(), engine.Request{Prompt: "hello there world"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var content, reasoning strings.Builder
	for d := range ch {
		if d.Err != nil {
			t.Fatalf("delta error: %v", d.Err)
		}
		switch d.Kind {
		case engine.DeltaContent:
			content.WriteString(d.Text)
		case engine.DeltaReasoning:
			reasoning.WriteString(d.Text)
		}
	}

	if reasoning.Len() == 0 {
		t.Fatal("no reasoning delta emitted")
	}
	want := "[loopback] hello there world"
	if content.String() != want {
		t.Fatalf("content = %q, want %q", content.String(), want)
	}
}

func TestStream_StopsOnCancel(t *testing.T) {
	e := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, err := e.Stream(ctx, engine.Request{Prompt: strings.Repeat("word ", 100)})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	n := 0
	for range ch {
		n++
	}
	// The channel buffer may hold a few deltas, but the stream must stop far
	// short of the full prompt.
	if n > 20 {
		t.Fatalf("received %d deltas after cancel", n)
	}
}

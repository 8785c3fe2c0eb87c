package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/streamline-ai/chatrelay/internal/engine"
)

func sseServer(t *testing.T, events []string, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		if capture != nil {
			_ = json.NewDecoder(r.Body).Decode(capture)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
	}))
}

func collect(t *testing.T, ch <-chan engine.Delta) (content, reasoning string, err error) {
	t.Helper()
	var c, rs strings.Builder
	for d := range ch {
		if d.Err != nil {
			return c.String(), rs.String(), d.Err
		}
		switch d.Kind {
		case engine.DeltaContent:
			c.WriteString(d.Text)
		case engine.DeltaReasoning:
			rs.WriteString(d.Text)
		}
	}
	return c.String(), rs.String(), nil
}

func TestStream_ContentAndReasoningDeltas(t *testing.T) {
	var captured map[string]any
	srv := sseServer(t, []string{
		`{"type":"response.reasoning_summary_text.delta","delta":"thinking "}`,
		`{"type":"response.reasoning_summary_text.delta","delta":"hard"}`,
		`{"type":"response.output_text.delta","delta":"Hello"}`,
		`{"type":"response.output_text.delta","delta":" world"}`,
		`{"type":"response.completed"}`,
	}, &captured)
	defer srv.Close()

	e, err := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ch, err := e.Stream(context.Background(), engine.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	content, reasoning, err := collect(t, ch)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if content != "Hello world" {
		t.Fatalf("content = %q", content)
	}
	if reasoning != "thinking hard" {
		t.Fatalf("reasoning = %q", reasoning)
	}

	if captured["model"] != "gpt-5" {
		t.Fatalf("request model = %v", captured["model"])
	}
	if captured["stream"] != true {
		t.Fatal("request did not ask for streaming")
	}
	if _, ok := captured["reasoning"]; !ok {
		t.Fatal("request missing reasoning options")
	}
}

func TestStream_NamedProfile(t *testing.T) {
	var captured map[string]any
	srv := sseServer(t, []string{`{"type":"response.completed"}`}, &captured)
	defer srv.Close()

	e, err := New(Config{
		APIKey:   "test-key",
		BaseURL:  srv.URL,
		Profiles: map[string]Profile{"fast": {Model: "gpt-5-mini", ReasoningEffort: "low"}},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ch, err := e.Stream(context.Background(), engine.Request{Prompt: "hi", Profile: "fast"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if _, _, err := collect(t, ch); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if captured["model"] != "gpt-5-mini" {
		t.Fatalf("request model = %v", captured["model"])
	}
}

func TestStream_UnknownProfileRejected(t *testing.T) {
	e, err := New(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := e.Stream(context.Background(), engine.Request{Prompt: "hi", Profile: "nope"}); err == nil {
		t.Fatal("unknown profile accepted")
	}
}

func TestStream_FailureEvent(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"response.output_text.delta","delta":"par"}`,
		`{"type":"response.failed","response":{"error":{"message":"quota exceeded"}}}`,
	}, nil)
	defer srv.Close()

	e, err := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ch, err := e.Stream(context.Background(), engine.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	content, _, derr := collect(t, ch)
	if derr == nil {
		t.Fatal("expected stream error")
	}
	if !strings.Contains(derr.Error(), "quota exceeded") {
		t.Fatalf("error = %v", derr)
	}
	if content != "par" {
		t.Fatalf("content before failure = %q", content)
	}
}

func TestStream_MalformedEventSkipped(t *testing.T) {
	srv := sseServer(t, []string{
		`{"type":"response.output_text.delta","delta":"ok"}`,
		`{not json`,
		`{"type":"response.output_text.delta","delta":"!"}`,
		`{"type":"response.completed"}`,
	}, nil)
	defer srv.Close()

	e, err := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ch, err := e.Stream(context.Background(), engine.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	content, _, derr := collect(t, ch)
	if derr != nil {
		t.Fatalf("collect: %v", derr)
	}
	if content != "ok!" {
		t.Fatalf("content = %q", content)
	}
}

func TestStream_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	e, err := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := e.Stream(context.Background(), engine.Request{Prompt: "hi"}); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("missing api key accepted")
	}
}

func TestStream_EmptyPromptRejected(t *testing.T) {
	e, err := New(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := e.Stream(context.Background(), engine.Request{Prompt: "   "}); err == nil {
		t.Fatal("empty prompt accepted")
	}
}

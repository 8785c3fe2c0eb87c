package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/streamline-ai/chatrelay/internal/engine"
)

// Ensure Engine implements Streamer.
var _ engine.Streamer = (*Engine)(nil)

// Profile selects the model and reasoning options for one generation run.
type Profile struct {
	Model            string `yaml:"model"`
	ReasoningEffort  string `yaml:"reasoning_effort"`
	ReasoningSummary string `yaml:"reasoning_summary"`
}

// Config holds configuration for the OpenAI engine.
type Config struct {
	APIKey  string
	BaseURL string // optional, defaults to https://api.openai.com/v1
	// RequestTimeout caps the whole streamed response. Zero means no cap;
	// generation runs routinely outlive a plain request timeout.
	RequestTimeout time.Duration
	// Profiles maps profile names to model settings. The "default" entry
	// is used when a request names no profile.
	Profiles map[string]Profile
	Logger   *log.Logger
}

// Engine streams generations from the OpenAI Responses API.
type Engine struct {
	apiKey     string
	baseURL    string
	profiles   map[string]Profile
	httpClient *http.Client
	logger     *log.Logger
}

// DefaultProfile is the profile used when a request does not name one.
const DefaultProfile = "default"

// New creates an OpenAI engine instance.
func New(cfg Config) (*Engine, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	profiles := make(map[string]Profile, len(cfg.Profiles)+1)
	for name, p := range cfg.Profiles {
		profiles[name] = p
	}
	if _, ok := profiles[DefaultProfile]; !ok {
		profiles[DefaultProfile] = Profile{Model: "gpt-5", ReasoningEffort: "high", ReasoningSummary: "auto"}
	}

	return &Engine{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		profiles:   profiles,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     cfg.Logger,
	}, nil
}

// responsesStreamEvent is the minimal schema of one Responses API SSE event.
type responsesStreamEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta,omitempty"`
	Error struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Response struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	} `json:"response,omitempty"`
}

// Stream opens a streamed Responses API call and converts its events into
// engine deltas.
func (e *Engine) Stream(ctx context.Context, req engine.Request) (<-chan engine.Delta, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("openai: empty prompt")
	}
	profile, ok := e.profiles[req.Profile]
	if !ok {
		if req.Profile != "" {
			return nil, fmt.Errorf("openai: unknown profile %q", req.Profile)
		}
		profile = e.profiles[DefaultProfile]
	}

	payload := map[string]interface{}{
		"model":  profile.Model,
		"input":  req.Prompt,
		"stream": true,
	}
	if profile.ReasoningEffort != "" || profile.ReasoningSummary != "" {
		reasoning := map[string]interface{}{}
		if profile.ReasoningEffort != "" {
			reasoning["effort"] = profile.ReasoningEffort
		}
		if profile.ReasoningSummary != "" {
			reasoning["summary"] = profile.ReasoningSummary
		}
		payload["reasoning"] = reasoning
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai: http %d: %s", resp.StatusCode, string(data))
	}

	ch := make(chan engine.Delta, 10)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		buf := make([]byte, 8192)
		leftover := ""
		for {
			select {
			case <-ctx.Done():
				ch <- engine.Delta{Err: ctx.Err()}
				return
			default:
			}

			n, err := resp.Body.Read(buf)
			if n > 0 {
				data := leftover + string(buf[:n])
				lines := strings.Split(data, "\n")
				leftover = lines[len(lines)-1]
				lines = lines[:len(lines)-1]
				for _, line := range lines {
					line = strings.TrimSpace(line)
					if !strings.HasPrefix(line, "data:") {
						continue
					}
					payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
					if payload == "" || payload == "[DONE]" {
						continue
					}
					var evt responsesStreamEvent
					if perr := json.Unmarshal([]byte(payload), &evt); perr != nil {
						// Malformed event: skip it, the stream may recover.
						if e.logger != nil {
							e.logger.Printf("openai: skipping malformed stream event: %v", perr)
						}
						continue
					}
					switch evt.Type {
					case "response.output_text.delta":
						if evt.Delta != "" {
							ch <- engine.Delta{Kind: engine.DeltaContent, Text: evt.Delta}
						}
					case "response.reasoning_summary_text.delta":
						if evt.Delta != "" {
							ch <- engine.Delta{Kind: engine.DeltaReasoning, Text: evt.Delta}
						}
					case "response.completed":
						return
					case "response.failed", "response.incomplete":
						msg := evt.Response.Error.Message
						if msg == "" {
							msg = "generation did not complete"
						}
						ch <- engine.Delta{Err: errors.New("openai: " + msg)}
						return
					case "error":
						msg := evt.Error.Message
						if msg == "" {
							msg = "unknown stream error"
						}
						ch <- engine.Delta{Err: errors.New("openai: " + msg)}
						return
					}
				}
			}
			if err != nil {
				if err == io.EOF {
					return
				}
				ch <- engine.Delta{Err: fmt.Errorf("openai: read stream: %w", err)}
				return
			}
		}
	}()
	return ch, nil
}

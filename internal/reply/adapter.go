// Package reply talks to the remote text-completion capability that voices
// the mirror between scripted beats.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one prior exchange passed to the model as context.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Request is the normalized request sent to a reply backend.
type Request struct {
	SessionID    string    `json:"session_id"`
	Text         string    `json:"text"`
	History      []Message `json:"history,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
}

// Response is the final reply text.
type Response struct {
	Text string `json:"text"`
}

// Adapter produces the mirror's reply for one user message.
type Adapter interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ErrEmptyReply is returned when a backend answers with no usable text.
var ErrEmptyReply = errors.New("empty reply")

// Config controls adapter construction.
type Config struct {
	Mode         string
	GeminiAPIKey string
	GeminiModel  string
	HTTPURL      string
}

func NewAdapter(ctx context.Context, cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(ctx, cfg), nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, errors.New("gemini API key is required for gemini mode")
		}
		return NewGeminiAdapter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("reply HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported reply adapter mode %q", cfg.Mode)
	}
}

// Name reports which backend an adapter uses, for health and metrics labels.
func Name(a Adapter) string {
	switch v := a.(type) {
	case *GeminiAdapter:
		return "gemini"
	case *HTTPAdapter:
		return "http"
	case *MockAdapter:
		return "mock"
	case *FallbackAdapter:
		return Name(v.primary) + "+" + Name(v.fallback)
	default:
		return "custom"
	}
}

func newAutoAdapter(ctx context.Context, cfg Config) Adapter {
	var secondary Adapter = NewMockAdapter()
	if httpURL := strings.TrimSpace(cfg.HTTPURL); httpURL != "" {
		secondary = NewHTTPAdapter(httpURL)
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		if gm, err := NewGeminiAdapter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel); err == nil {
			if _, isMock := secondary.(*MockAdapter); isMock {
				// A canned reply would hide a broken key; surface the failure instead.
				return gm
			}
			return NewFallbackAdapter(gm, secondary)
		}
	}

	return secondary
}

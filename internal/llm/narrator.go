package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Package llm provides the narration capability: turning structured analysis
// results into prose via an external language model.
//
// Narration is strictly optional. The service computes every number itself;
// the model only phrases them. When no provider is configured (or the
// provider is down) callers fall back to template-rendered summaries, so the
// analytical pipeline never depends on LLM availability.
//
// Providers:
//   - openai: any OpenAI-compatible chat-completions endpoint
//   - ollama: a local Ollama instance, zero cost, nothing leaves the machine
//   - none:   explicit degraded mode, every call returns ErrNotConfigured

// ErrNotConfigured is returned by the none provider and signals callers to
// render their template fallback.
var ErrNotConfigured = errors.New("llm provider not configured")

// Message is one turn of a narration conversation.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Narrator generates prose from structured analysis context.
type Narrator interface {
	// Narrate returns the full completion for the conversation.
	Narrate(ctx context.Context, messages []Message) (string, error)

	// NarrateStream streams the completion, invoking onChunk for each text
	// fragment as it arrives, and returns the assembled text.
	NarrateStream(ctx context.Context, messages []Message, onChunk func(chunk string)) (string, error)

	// Provider names the backing provider.
	Provider() string

	// Configured reports whether real narration is available.
	Configured() bool
}

// Options selects and configures a provider.
type Options struct {
	Provider string // "openai" | "ollama" | "none" | ""
	APIKey   string
	BaseURL  string
	Model    string
}

// New creates a narrator for the configured provider. An empty provider means
// none: the service runs with template narration only.
func New(opts Options, logger *zap.Logger) (Narrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(opts.Provider) {
	case "", "none":
		return &noneNarrator{}, nil
	case "openai":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return newOpenAINarrator(opts, logger), nil
	case "ollama":
		return newOllamaNarrator(opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}

// noneNarrator is the explicit degraded mode.
type noneNarrator struct{}

func (noneNarrator) Narrate(ctx context.Context, messages []Message) (string, error) {
	return "", ErrNotConfigured
}

func (noneNarrator) NarrateStream(ctx context.Context, messages []Message, onChunk func(string)) (string, error) {
	return "", ErrNotConfigured
}

func (noneNarrator) Provider() string { return "none" }
func (noneNarrator) Configured() bool { return false }

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNoneProviderDegrades(t *testing.T) {
	n, err := New(Options{Provider: "none"}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.Configured() {
		t.Error("none provider must report unconfigured")
	}
	if _, err := n.Narrate(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := n.NarrateStream(context.Background(), nil, nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestEmptyProviderMeansNone(t *testing.T) {
	n, err := New(Options{}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.Provider() != "none" {
		t.Errorf("empty provider should resolve to none, got %s", n.Provider())
	}
}

func TestUnknownProviderRejected(t *testing.T) {
	if _, err := New(Options{Provider: "psychic"}, zap.NewNop()); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestOpenAIRequiresAPIKey(t *testing.T) {
	if _, err := New(Options{Provider: "openai"}, zap.NewNop()); err == nil {
		t.Error("expected error for openai without key")
	}
}

func TestOpenAINarrate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer token, got %q", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"Revenue is trending up."}}]}`)
	}))
	defer srv.Close()

	n, err := New(Options{Provider: "openai", APIKey: "test-key", BaseURL: srv.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := n.Narrate(context.Background(), []Message{{Role: "user", Content: "summarize"}})
	if err != nil {
		t.Fatalf("Narrate: %v", err)
	}
	if out != "Revenue is trending up." {
		t.Errorf("unexpected narration: %q", out)
	}
}

func TestOpenAIStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Revenue \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"is up.\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	n, err := New(Options{Provider: "openai", APIKey: "test-key", BaseURL: srv.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var chunks []string
	out, err := n.NarrateStream(context.Background(), []Message{{Role: "user", Content: "summarize"}},
		func(c string) { chunks = append(chunks, c) })
	if err != nil {
		t.Fatalf("NarrateStream: %v", err)
	}
	if out != "Revenue is up." {
		t.Errorf("assembled text wrong: %q", out)
	}
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
}

func TestOpenAIServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n, err := New(Options{Provider: "openai", APIKey: "test-key", BaseURL: srv.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = n.Narrate(context.Background(), []Message{{Role: "user", Content: "summarize"}})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestOllamaNarrate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"message":{"content":"Units are flat."},"done":true}`)
	}))
	defer srv.Close()

	n, err := New(Options{Provider: "ollama", BaseURL: srv.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := n.Narrate(context.Background(), []Message{{Role: "user", Content: "summarize"}})
	if err != nil {
		t.Fatalf("Narrate: %v", err)
	}
	if out != "Units are flat." {
		t.Errorf("unexpected narration: %q", out)
	}
}

func TestOllamaStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"Units "},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":"are flat."},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true}`)
	}))
	defer srv.Close()

	n, err := New(Options{Provider: "ollama", BaseURL: srv.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var chunks []string
	out, err := n.NarrateStream(context.Background(), []Message{{Role: "user", Content: "summarize"}},
		func(c string) { chunks = append(chunks, c) })
	if err != nil {
		t.Fatalf("NarrateStream: %v", err)
	}
	if out != "Units are flat." {
		t.Errorf("assembled text wrong: %q", out)
	}
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(chunks))
	}
}

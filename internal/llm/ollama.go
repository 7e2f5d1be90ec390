package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/metrics"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// ollamaNarrator talks to a local Ollama instance. Zero cost; nothing leaves
// the machine.
type ollamaNarrator struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

func newOllamaNarrator(opts Options, logger *zap.Logger) *ollamaNarrator {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	model := opts.Model
	if model == "" {
		model = "llama3"
	}
	return &ollamaNarrator{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  logger,
	}
}

func (n *ollamaNarrator) Provider() string { return "ollama" }
func (n *ollamaNarrator) Configured() bool { return true }

type ollamaRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// ollamaChunk is one line of the NDJSON chat response.
type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func (n *ollamaNarrator) Narrate(ctx context.Context, messages []Message) (string, error) {
	start := time.Now()
	body, err := n.post(ctx, ollamaRequest{Model: n.model, Messages: messages, Stream: false})
	n.observe(start, err)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var chunk ollamaChunk
	if err := json.NewDecoder(body).Decode(&chunk); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if chunk.Error != "" {
		return "", fmt.Errorf("ollama error: %s", chunk.Error)
	}
	return chunk.Message.Content, nil
}

func (n *ollamaNarrator) NarrateStream(ctx context.Context, messages []Message, onChunk func(string)) (string, error) {
	start := time.Now()
	body, err := n.post(ctx, ollamaRequest{Model: n.model, Messages: messages, Stream: true})
	if err != nil {
		n.observe(start, err)
		return "", err
	}
	defer body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var chunk ollamaChunk
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			n.logger.Debug("skipping malformed stream line", zap.Error(err))
			continue
		}
		if chunk.Error != "" {
			n.observe(start, fmt.Errorf("ollama error"))
			return full.String(), fmt.Errorf("ollama error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			if onChunk != nil {
				onChunk(chunk.Message.Content)
			}
		}
		if chunk.Done {
			break
		}
	}
	err = scanner.Err()
	n.observe(start, err)
	if err != nil {
		return full.String(), fmt.Errorf("read ollama stream: %w", err)
	}
	return full.String(), nil
}

func (n *ollamaNarrator) post(ctx context.Context, reqBody ollamaRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		n.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp.Body, nil
}

func (n *ollamaNarrator) observe(start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.LLMRequestsTotal.WithLabelValues("ollama", status).Inc()
	metrics.LLMRequestDuration.WithLabelValues("ollama").Observe(time.Since(start).Seconds())
}

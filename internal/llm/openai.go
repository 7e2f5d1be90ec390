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

const defaultOpenAIBaseURL = "https://api.openai.com"

// openaiNarrator talks to any OpenAI-compatible chat-completions endpoint.
type openaiNarrator struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

func newOpenAINarrator(opts Options, logger *zap.Logger) *openaiNarrator {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &openaiNarrator{
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

func (n *openaiNarrator) Provider() string { return "openai" }
func (n *openaiNarrator) Configured() bool { return true }

type openaiRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (n *openaiNarrator) Narrate(ctx context.Context, messages []Message) (string, error) {
	start := time.Now()
	body, err := n.post(ctx, openaiRequest{Model: n.model, Messages: messages})
	n.observe(start, err)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var resp openaiResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("openai error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (n *openaiNarrator) NarrateStream(ctx context.Context, messages []Message, onChunk func(string)) (string, error) {
	start := time.Now()
	body, err := n.post(ctx, openaiRequest{Model: n.model, Messages: messages, Stream: true})
	if err != nil {
		n.observe(start, err)
		return "", err
	}
	defer body.Close()

	// Server-sent events: "data: {json}" lines, terminated by "data: [DONE]".
	var full strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			n.logger.Debug("skipping malformed stream chunk", zap.Error(err))
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onChunk != nil {
			onChunk(delta)
		}
	}
	err = scanner.Err()
	n.observe(start, err)
	if err != nil {
		return full.String(), fmt.Errorf("read openai stream: %w", err)
	}
	return full.String(), nil
}

func (n *openaiNarrator) post(ctx context.Context, reqBody openaiRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		n.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call openai: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp.Body, nil
}

func (n *openaiNarrator) observe(start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.LLMRequestsTotal.WithLabelValues("openai", status).Inc()
	metrics.LLMRequestDuration.WithLabelValues("openai").Observe(time.Since(start).Seconds())
}

// Package ollama wraps a local Ollama server's /api/chat endpoint: the
// low-level transport plus the answer refiner built on top of it.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message represents a single turn in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client provides a minimal chat interface compatible with Ollama's
// /api/chat endpoint.
type Client interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

type client struct {
	host        string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewClient constructs a Client backed by Ollama's /api/chat endpoint.
// temperature is passed through as a model option; compliance-grade
// answer synthesis calls this with 0 for determinism.
func NewClient(host, model string, temperature float64, timeout time.Duration) Client {
	return &client{
		host:        strings.TrimRight(host, "/"),
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatRequest struct {
	Model    string      `json:"model"`
	Messages []Message   `json:"messages"`
	Stream   bool        `json:"stream"`
	Options  chatOptions `json:"options"`
}

type chatResponse struct {
	Message Message `json:"message"`
	Error   string  `json:"error"`
	Done    bool    `json:"done"`
}

func (c *client) Chat(ctx context.Context, messages []Message) (string, error) {
	if c.host == "" {
		return "", fmt.Errorf("ollama host must be configured")
	}
	if c.model == "" {
		return "", fmt.Errorf("ollama model must be configured")
	}

	payload := chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options:  chatOptions{Temperature: c.temperature},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		if len(data) > 0 {
			return "", fmt.Errorf("ollama chat api error: %s", string(data))
		}
		return "", fmt.Errorf("ollama chat api returned status %s", resp.Status)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama error: %s", parsed.Error)
	}
	return parsed.Message.Content, nil
}

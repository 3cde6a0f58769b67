// Package ai is the boundary to the external generation collaborator. The
// core only ever invokes it on an explicit user trigger and surfaces
// failures as chat-visible system messages, never as fatal errors.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Generator produces an assistant reply for a prompt. Media is an optional
// attachment reference (url or data uri) forwarded as-is.
type Generator interface {
	Generate(ctx context.Context, prompt, media string) (string, error)
}

// ErrUnavailable wraps any transport or upstream failure so callers can
// render a single retryable notice.
var ErrUnavailable = errors.New("ai: generation unavailable")

// Client calls an OpenAI-compatible chat completion endpoint.
type Client struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

const defaultBaseURL = "https://api.openai.com/v1/chat/completions"

// NewClient creates a generation client; model defaults upstream when empty.
func NewClient(apiKey, model string) *Client {
	return &Client{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Generate(ctx context.Context, prompt, media string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("%w: missing API key", ErrUnavailable)
	}
	model := c.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	content := prompt
	if media != "" {
		content = prompt + "\n\nAttachment: " + media
	}
	payload := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are a helpful assistant inside a chat room. Keep replies short."},
			{"role": "user", "content": content},
		},
		"temperature": 0.7,
	}
	buf, _ := json.Marshal(payload)
	url := c.BaseURL
	if url == "" {
		url = defaultBaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: upstream status %s", ErrUnavailable, resp.Status)
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrUnavailable)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// Static replies from a canned table; the smoke binary and tests use it.
type Static struct {
	Reply string
	Err   error
}

func (s Static) Generate(ctx context.Context, prompt, media string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	if s.Reply != "" {
		return s.Reply, nil
	}
	return "I do not have an answer for that yet.", nil
}

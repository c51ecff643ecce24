// Package provider connects the agent loop to a model API. The client
// returns the raw event stream; decoding belongs to the stream package.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/toolgate-ai/toolgate/internal/agent"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 8192
	apiVersion       = "2023-06-01"
)

// AnthropicConfig holds connection settings for the Anthropic messages API.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// AnthropicClient streams completions from the Anthropic messages API.
type AnthropicClient struct {
	cfg  AnthropicConfig
	http *http.Client
}

// NewAnthropicClient creates a client, reading ANTHROPIC_API_KEY when the
// config carries no key.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &AnthropicClient{
		cfg: cfg,
		// No overall timeout: streams stay open as long as the model talks.
		http: &http.Client{Timeout: 0},
	}, nil
}

type wireContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type wireRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
}

// Stream opens one streaming completion and hands back the raw SSE body.
// The caller owns closing it.
func (c *AnthropicClient) Stream(ctx context.Context, req *agent.Request) (io.ReadCloser, error) {
	body := wireRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Stream:    true,
		Messages:  encodeMessages(req.Messages),
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.cfg.APIKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	return resp.Body, nil
}

// APIError is a non-200 response from the model API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model API returned %d: %s", e.Status, e.Body)
}

// Retryable reports whether the request can be retried as-is.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func encodeMessages(messages []agent.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case agent.RoleUser:
			out = append(out, wireMessage{
				Role:    "user",
				Content: []wireContent{{Type: "text", Text: m.Content}},
			})

		case agent.RoleAssistant:
			var content []wireContent
			if m.Content != "" {
				content = append(content, wireContent{Type: "text", Text: m.Content})
			}
			for _, call := range m.ToolCalls {
				input := call.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				content = append(content, wireContent{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: input,
				})
			}
			out = append(out, wireMessage{Role: "assistant", Content: content})

		case agent.RoleTool:
			// Tool results travel back as user-role content blocks.
			var content []wireContent
			for _, res := range m.Results {
				content = append(content, wireContent{
					Type:      "tool_result",
					ToolUseID: res.ToolUseID,
					Content:   res.Content,
					IsError:   res.IsError,
				})
			}
			out = append(out, wireMessage{Role: "user", Content: content})
		}
	}
	return out
}

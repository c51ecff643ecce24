// Package agent drives the conversational turn loop: it streams model
// output, dispatches finalized tool calls through the permission-gated
// dispatcher, and feeds results back until the model stops or the iteration
// bound is hit.
package agent

import (
	"context"
	"encoding/json"
	"io"

	"github.com/toolgate-ai/toolgate/internal/tool"
)

// Role identifies a conversation message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRef records a tool call the assistant made, for history replay.
type ToolCallRef struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Message is one conversation entry.
type Message struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content,omitempty"`
	ToolCalls []ToolCallRef     `json:"tool_calls,omitempty"`
	Results   []tool.ToolResult `json:"results,omitempty"`
}

// ToolInfo advertises one tool to the model.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is one model invocation.
type Request struct {
	Messages []Message  `json:"messages"`
	Tools    []ToolInfo `json:"tools,omitempty"`
}

// ModelClient produces the raw byte stream for one model turn. The stream
// is consumed exactly once by the decoder.
type ModelClient interface {
	Stream(ctx context.Context, req *Request) (io.ReadCloser, error)
}

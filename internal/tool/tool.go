// Package tool provides the tool framework: a closed set of tool kinds with
// static capability descriptors, a session-scoped registry, and a dispatcher
// that gates execution through the permission arbiter.
package tool

import (
	"context"
	"encoding/json"
)

// Capability is a tool kind's static capability descriptor. It is resolved
// at dispatch time from the registry, never by reflection.
type Capability struct {
	// ReadOnly tools never mutate the machine and may run without asking.
	ReadOnly bool
	// ConcurrencySafe tools may be dispatched in parallel; all others are
	// serialized per session.
	ConcurrencySafe bool
	// NeedsPermission tools go through the arbiter before running.
	NeedsPermission bool
	// Edits tools modify files and participate in accept-edits mode.
	Edits bool
}

// Tool defines the interface for all tools.
type Tool interface {
	// Name returns the tool identifier.
	Name() string

	// Description returns the tool description advertised to the model.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// Capability returns the static capability descriptor.
	Capability() Capability

	// Execute runs the tool with the given input.
	Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// Context provides execution context to tools.
type Context struct {
	SessionID string
	CallID    string
	WorkDir   string
}

// Result represents the output of a tool execution.
type Result struct {
	Title    string         `json:"title"`
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// commandProvider is implemented by tools whose permission subject is a
// shell command line.
type commandProvider interface {
	CommandFromInput(input json.RawMessage) string
}

// pathProvider is implemented by tools whose permission subject is the set
// of filesystem paths they touch.
type pathProvider interface {
	PathsFromInput(input json.RawMessage) []string
}

// inputRenderer lets a tool control how its input is shown to the human in
// a permission prompt.
type inputRenderer interface {
	RenderInput(input json.RawMessage) string
}

// backgrounder is implemented by tools whose input can request background
// execution directly.
type backgrounder interface {
	WantsBackground(input json.RawMessage) bool
}

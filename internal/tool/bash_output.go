package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/toolgate-ai/toolgate/internal/shell"
)

const bashOutputDescription = `Retrieves output from a background bash shell.

Usage:
- shell_id identifies the shell returned when the command was started
- Optional filter is a regular expression applied to stdout lines
- Returns currently buffered output without blocking`

// BashOutputTool polls a background shell's buffered output.
type BashOutputTool struct {
	shells *shell.Manager
}

// BashOutputInput represents the input for the bash_output tool.
type BashOutputInput struct {
	ShellID string `json:"shell_id"`
	Filter  string `json:"filter,omitempty"`
}

// NewBashOutputTool creates a new bash_output tool.
func NewBashOutputTool(shells *shell.Manager) *BashOutputTool {
	return &BashOutputTool{shells: shells}
}

func (t *BashOutputTool) Name() string        { return "bash_output" }
func (t *BashOutputTool) Description() string { return bashOutputDescription }

func (t *BashOutputTool) Capability() Capability {
	return Capability{ReadOnly: true, ConcurrencySafe: true}
}

func (t *BashOutputTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"shell_id": {
				"type": "string",
				"description": "The ID of the background shell"
			},
			"filter": {
				"type": "string",
				"description": "Optional regex to filter stdout lines"
			}
		},
		"required": ["shell_id"]
	}`)
}

func (t *BashOutputTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params BashOutputInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	snap, err := t.shells.Output(params.ShellID, params.Filter)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Shell %s (%s): %s\n", snap.ShellID, snap.Status, snap.Command)
	if snap.ExitCode != nil {
		fmt.Fprintf(&sb, "Exit code: %d\n", *snap.ExitCode)
	}
	if snap.Truncated {
		sb.WriteString("(Oldest output evicted from buffer)\n")
	}
	if len(snap.Stdout) > 0 {
		sb.WriteString("\n--- stdout ---\n")
		sb.WriteString(strings.Join(snap.Stdout, "\n"))
		sb.WriteString("\n")
	}
	if len(snap.Stderr) > 0 {
		sb.WriteString("\n--- stderr ---\n")
		sb.WriteString(strings.Join(snap.Stderr, "\n"))
		sb.WriteString("\n")
	}

	return &Result{
		Title:  fmt.Sprintf("Output of shell %s", snap.ShellID),
		Output: sb.String(),
		Metadata: map[string]any{
			"status": string(snap.Status),
		},
	}, nil
}

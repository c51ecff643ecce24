package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/toolgate-ai/toolgate/internal/shell"
)

const killBashDescription = `Terminates a background bash shell.

Usage:
- shell_id identifies the shell returned when the command was started
- Killing an already finished shell is not an error`

// KillBashTool kills a background shell.
type KillBashTool struct {
	shells *shell.Manager
}

// KillBashInput represents the input for the kill_bash tool.
type KillBashInput struct {
	ShellID string `json:"shell_id"`
}

// NewKillBashTool creates a new kill_bash tool.
func NewKillBashTool(shells *shell.Manager) *KillBashTool {
	return &KillBashTool{shells: shells}
}

func (t *KillBashTool) Name() string        { return "kill_bash" }
func (t *KillBashTool) Description() string { return killBashDescription }

func (t *KillBashTool) Capability() Capability {
	// Kills only processes this session started; no prompt needed.
	return Capability{ConcurrencySafe: true}
}

func (t *KillBashTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"shell_id": {
				"type": "string",
				"description": "The ID of the background shell to kill"
			}
		},
		"required": ["shell_id"]
	}`)
}

func (t *KillBashTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params KillBashInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if err := t.shells.Kill(params.ShellID); err != nil {
		return nil, err
	}

	return &Result{
		Title:  fmt.Sprintf("Killed shell %s", params.ShellID),
		Output: fmt.Sprintf("Successfully killed background shell: %s", params.ShellID),
	}, nil
}

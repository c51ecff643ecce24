package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"
)

const (
	DefaultBashTimeout = 120 * time.Second
	MaxBashTimeout     = 10 * time.Minute
	MaxOutputLength    = 30000
)

const bashDescription = `Executes a bash command.

Usage:
- Command is required
- Optional timeout in milliseconds (max 600000)
- Provide a brief description of what the command does
- Output is captured from stdout and stderr
- Set run_in_background to run the command detached and poll its output
  later with the bash_output tool`

// BashTool implements shell command execution.
type BashTool struct {
	workDir string
	prog    string
}

// BashInput represents the input for the bash tool.
type BashInput struct {
	Command         string `json:"command"`
	Timeout         int    `json:"timeout,omitempty"` // milliseconds
	Description     string `json:"description,omitempty"`
	RunInBackground bool   `json:"run_in_background,omitempty"`
}

// NewBashTool creates a new bash tool.
func NewBashTool(workDir string) *BashTool {
	prog := os.Getenv("SHELL")
	if prog == "" {
		if found, err := exec.LookPath("bash"); err == nil {
			prog = found
		} else {
			prog = "/bin/sh"
		}
	}
	return &BashTool{workDir: workDir, prog: prog}
}

func (t *BashTool) Name() string        { return "bash" }
func (t *BashTool) Description() string { return bashDescription }

func (t *BashTool) Capability() Capability {
	return Capability{NeedsPermission: true}
}

func (t *BashTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The command to execute"
			},
			"timeout": {
				"type": "integer",
				"description": "Optional timeout in milliseconds (max 600000)"
			},
			"description": {
				"type": "string",
				"description": "Brief description of what this command does"
			},
			"run_in_background": {
				"type": "boolean",
				"description": "Run command in background and return immediately (default: false)"
			}
		},
		"required": ["command"]
	}`)
}

// CommandFromInput exposes the command line as the permission subject.
func (t *BashTool) CommandFromInput(input json.RawMessage) string {
	var params BashInput
	if err := json.Unmarshal(input, &params); err != nil {
		return ""
	}
	return params.Command
}

// RenderInput shows the human the command itself, not its JSON envelope.
func (t *BashTool) RenderInput(input json.RawMessage) string {
	return t.CommandFromInput(input)
}

// WantsBackground reports whether the input asked for background execution.
func (t *BashTool) WantsBackground(input json.RawMessage) bool {
	var params BashInput
	if err := json.Unmarshal(input, &params); err != nil {
		return false
	}
	return params.RunInBackground
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params BashInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	timeout := DefaultBashTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
		if timeout > MaxBashTimeout {
			timeout = MaxBashTimeout
		}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(cmdCtx, t.prog, "/c", params.Command)
	} else {
		cmd = exec.CommandContext(cmdCtx, t.prog, "-c", params.Command)
	}

	if toolCtx != nil && toolCtx.WorkDir != "" {
		cmd.Dir = toolCtx.WorkDir
	} else if t.workDir != "" {
		cmd.Dir = t.workDir
	}
	cmd.Env = os.Environ()
	if runtime.GOOS != "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	output, err := cmd.CombinedOutput()
	timedOut := cmdCtx.Err() == context.DeadlineExceeded

	result := string(output)
	if len(result) > MaxOutputLength {
		result = result[:MaxOutputLength] + "\n\n(Output truncated)"
	}
	if timedOut {
		result += fmt.Sprintf("\n\n(Command timed out after %v)", timeout)
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil && !timedOut {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			result += fmt.Sprintf("\n\nError: %v", err)
		}
	}

	title := params.Description
	if title == "" {
		title = "Run command"
	}

	return &Result{
		Title:  title,
		Output: result,
		Metadata: map[string]any{
			"exit":        exitCode,
			"description": params.Description,
		},
	}, nil
}

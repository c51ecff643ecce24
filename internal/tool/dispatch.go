package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/toolgate-ai/toolgate/internal/event"
	"github.com/toolgate-ai/toolgate/internal/logging"
	"github.com/toolgate-ai/toolgate/internal/permission"
	"github.com/toolgate-ai/toolgate/internal/shell"
)

// Request is one finalized tool call to dispatch.
type Request struct {
	ID        string
	Name      string
	Input     json.RawMessage
	TurnIndex int
}

// ToolResult is the uniform outcome of one tool call. Produced exactly once
// per request and never mutated afterwards.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

// Dispatcher maps tool-call requests to executions, consulting the
// permission arbiter first and delegating background grants to the shell
// manager.
type Dispatcher struct {
	registry *Registry
	arbiter  *permission.Arbiter
	shells   *shell.Manager

	// serial guards tools that are not concurrency-safe, preserving
	// working-directory and side-effect ordering within a session.
	serial sync.Mutex

	sessionID string
}

// NewDispatcher wires a dispatcher over the registry, arbiter and shell
// manager for one session.
func NewDispatcher(sessionID string, registry *Registry, arbiter *permission.Arbiter, shells *shell.Manager) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		arbiter:   arbiter,
		shells:    shells,
		sessionID: sessionID,
	}
}

// Registry returns the dispatcher's tool registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// CanParallelize reports whether a request's tool may run concurrently with
// other calls.
func (d *Dispatcher) CanParallelize(req Request) bool {
	t, ok := d.registry.Get(req.Name)
	if !ok {
		return true // unknown tools only produce an error result
	}
	return t.Capability().ConcurrencySafe
}

// Execute runs one tool call end to end: permission check, then direct
// execution or background delegation. Every failure path resolves to an
// error-flagged ToolResult; nothing escapes as a panic or crash.
func (d *Dispatcher) Execute(ctx context.Context, req Request) ToolResult {
	log := logging.For("dispatch")

	t, ok := d.registry.Get(req.Name)
	if !ok {
		return errorResult(req.ID, fmt.Sprintf("tool not found: %s", req.Name))
	}
	capa := t.Capability()

	permReq := d.buildPermissionRequest(t, req)

	d.publishToolUpdate(req, "pending", "")

	grant, err := d.arbiter.Evaluate(ctx, permReq)
	if err != nil {
		log.Debug().Str("tool", req.Name).Str("call", req.ID).Err(err).Msg("permission denied")
		d.publishToolUpdate(req, "denied", "")
		return errorResult(req.ID, "permission denied: "+err.Error())
	}

	background := grant.Background
	if !background {
		if bg, ok := t.(backgrounder); ok && bg.WantsBackground(req.Input) {
			background = true
		}
	}

	if background {
		return d.dispatchBackground(req, permReq.Command)
	}

	if !capa.ConcurrencySafe {
		d.serial.Lock()
		defer d.serial.Unlock()
	}

	d.publishToolUpdate(req, "running", "")

	toolCtx := &Context{
		SessionID: d.sessionID,
		CallID:    req.ID,
		WorkDir:   d.registry.WorkDir(),
	}

	result, err := t.Execute(ctx, req.Input, toolCtx)
	if err != nil {
		d.publishToolUpdate(req, "error", err.Error())
		return errorResult(req.ID, err.Error())
	}

	d.publishToolUpdate(req, "completed", result.Output)
	return ToolResult{ToolUseID: req.ID, Content: result.Output}
}

// dispatchBackground hands the command to the shell manager and returns
// immediately with the new shell id, not the eventual output.
func (d *Dispatcher) dispatchBackground(req Request, command string) ToolResult {
	if command == "" {
		return errorResult(req.ID, "background execution requires a command")
	}

	shellID, err := d.shells.Spawn(command, d.registry.WorkDir())
	if err != nil {
		d.publishToolUpdate(req, "error", err.Error())
		return errorResult(req.ID, err.Error())
	}

	content := fmt.Sprintf(
		"Command running in background (shell ID: %s)\n\nCheck output with the bash_output tool; terminate with the kill_bash tool.",
		shellID)
	d.publishToolUpdate(req, "completed", content)
	return ToolResult{ToolUseID: req.ID, Content: content}
}

func (d *Dispatcher) buildPermissionRequest(t Tool, req Request) permission.Request {
	capa := t.Capability()
	permReq := permission.Request{
		ToolName:        t.Name(),
		CallID:          req.ID,
		ReadOnly:        capa.ReadOnly,
		ConcurrencySafe: capa.ConcurrencySafe,
		NeedsPermission: capa.NeedsPermission,
		Edits:           capa.Edits,
	}

	if cp, ok := t.(commandProvider); ok {
		permReq.Command = cp.CommandFromInput(req.Input)
	}
	if pp, ok := t.(pathProvider); ok {
		permReq.Paths = pp.PathsFromInput(req.Input)
	}
	if ir, ok := t.(inputRenderer); ok {
		permReq.RenderedInput = ir.RenderInput(req.Input)
	}
	if permReq.RenderedInput == "" {
		permReq.RenderedInput = compactJSON(req.Input)
	}
	return permReq
}

func (d *Dispatcher) publishToolUpdate(req Request, status, output string) {
	event.Publish(event.Event{
		Type: event.ToolUpdated,
		Data: event.ToolUpdatedData{
			CallID:   req.ID,
			ToolName: req.Name,
			Status:   status,
			Output:   output,
		},
	})
}

func errorResult(id, message string) ToolResult {
	return ToolResult{ToolUseID: id, Content: message, IsError: true}
}

func compactJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

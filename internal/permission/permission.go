// Package permission decides whether tool calls may run.
//
// Each call is evaluated against the session's mode and its durable
// tool-scoped rules; calls that cannot be decided suspend on a fresh
// single-use decision channel until a human responds. There is no shared
// "last decision" state: resolving one pending decision never influences
// any other call's evaluation.
package permission

import "fmt"

// Mode is the session-wide permission mode. It changes only by explicit
// user action, never by a tool result.
type Mode string

const (
	ModeDefault     Mode = "default"
	ModeAcceptEdits Mode = "acceptEdits"
	ModePlan        Mode = "plan"
	ModeBypassAll   Mode = "bypassAll"
)

// ParseMode parses a mode string, defaulting to ModeDefault.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeAcceptEdits, ModePlan, ModeBypassAll:
		return Mode(s)
	default:
		return ModeDefault
	}
}

// Decision is a human response to a suspended call.
type Decision string

const (
	// DecisionAllow grants only this one call; rules are unchanged.
	DecisionAllow Decision = "allow"
	// DecisionAllowAlways grants this call and durably inserts a rule
	// scoped to the call's tool.
	DecisionAllowAlways Decision = "allow_always"
	// DecisionDeny rejects this one call.
	DecisionDeny Decision = "deny"
	// DecisionDenyAlways rejects this call and durably inserts a deny rule
	// scoped to the call's tool.
	DecisionDenyAlways Decision = "deny_always"
	// DecisionBackground grants the call, delegating execution to the
	// background shell manager.
	DecisionBackground Decision = "background"
)

// Request describes one tool call awaiting evaluation. The capability flags
// come from the tool's static descriptor.
type Request struct {
	ID       string
	ToolName string
	CallID   string

	// Command is set for shell-like tools and is what rules match against.
	Command string
	// Paths are the filesystem paths the call would touch, for edit tools.
	Paths []string
	// RenderedInput is what the UI shows the human.
	RenderedInput string

	ReadOnly        bool
	ConcurrencySafe bool
	NeedsPermission bool
	Edits           bool
}

// Grant is a positive evaluation outcome.
type Grant struct {
	// Background is set when the grant delegates execution to the
	// background shell manager.
	Background bool
}

// RejectedError is returned when permission is denied.
type RejectedError struct {
	ToolName  string
	CallID    string
	Message   string
	Cancelled bool
}

func (e *RejectedError) Error() string { return e.Message }

// IsRejected checks if an error is a permission rejection.
func IsRejected(err error) bool {
	_, ok := err.(*RejectedError)
	return ok
}

func rejected(req Request, format string, args ...any) *RejectedError {
	return &RejectedError{
		ToolName: req.ToolName,
		CallID:   req.CallID,
		Message:  fmt.Sprintf(format, args...),
	}
}

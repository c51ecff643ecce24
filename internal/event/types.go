package event

// PermissionRequiredData is published when a tool call suspends on a
// human decision.
type PermissionRequiredData struct {
	ID            string   `json:"id"`
	ToolName      string   `json:"toolName"`
	CallID        string   `json:"callID"`
	RenderedInput string   `json:"renderedInput"`
	Patterns      []string `json:"patterns,omitempty"`
}

// PermissionResolvedData is published when a pending decision resolves.
type PermissionResolvedData struct {
	ID      string `json:"id"`
	Granted bool   `json:"granted"`
}

// ToolUpdatedData is published when a tool call changes state.
type ToolUpdatedData struct {
	CallID   string `json:"callID"`
	ToolName string `json:"toolName"`
	Status   string `json:"status"`
	Output   string `json:"output,omitempty"`
}

// ShellStartedData is published when a background shell spawns.
type ShellStartedData struct {
	ShellID string `json:"shellID"`
	Command string `json:"command"`
}

// ShellExitedData is published when a background shell exits naturally.
type ShellExitedData struct {
	ShellID  string `json:"shellID"`
	ExitCode int    `json:"exitCode"`
}

// ShellKilledData is published when a background shell is killed.
type ShellKilledData struct {
	ShellID string `json:"shellID"`
}

// TurnDoneData is published when an agent turn finishes.
type TurnDoneData struct {
	Iterations int    `json:"iterations"`
	Status     string `json:"status"`
}

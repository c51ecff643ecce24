package tool

import (
	"sort"
	"sync"

	"github.com/toolgate-ai/toolgate/internal/shell"
)

// Registry manages the session's enabled tool set. The set is constructed
// explicitly at session start; dispatch resolves tools by name from it.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	workDir string
}

// NewRegistry creates an empty tool registry rooted at workDir.
func NewRegistry(workDir string) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		workDir: workDir,
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Names returns all tool names sorted.
func (r *Registry) Names() []string {
	tools := r.List()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

// WorkDir returns the registry's working directory.
func (r *Registry) WorkDir() string {
	return r.workDir
}

// DefaultRegistry creates a registry with the built-in tools.
func DefaultRegistry(workDir string, shells *shell.Manager) *Registry {
	r := NewRegistry(workDir)

	r.Register(NewBashTool(workDir))
	r.Register(NewBashOutputTool(shells))
	r.Register(NewKillBashTool(shells))
	r.Register(NewReadTool(workDir))
	r.Register(NewWriteTool(workDir))
	r.Register(NewEditTool(workDir))
	r.Register(NewGlobTool(workDir))

	return r
}

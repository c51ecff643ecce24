package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const globDescription = `Fast file pattern matching tool.

Usage:
- Supports glob patterns like "**/*.js" or "src/**/*.ts"
- Returns matching file paths sorted by modification time
- Use this tool when you need to find files by name patterns`

const maxGlobResults = 200

// GlobTool implements file pattern matching.
type GlobTool struct {
	workDir string
}

// GlobInput represents the input for the glob tool.
type GlobInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// NewGlobTool creates a new glob tool.
func NewGlobTool(workDir string) *GlobTool {
	return &GlobTool{workDir: workDir}
}

func (t *GlobTool) Name() string        { return "glob" }
func (t *GlobTool) Description() string { return globDescription }

func (t *GlobTool) Capability() Capability {
	return Capability{ReadOnly: true, ConcurrencySafe: true}
}

func (t *GlobTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The glob pattern to match files against"
			},
			"path": {
				"type": "string",
				"description": "Directory to search in (default: working directory)"
			}
		},
		"required": ["pattern"]
	}`)
}

func (t *GlobTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params GlobInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}

	root := params.Path
	if root == "" {
		root = t.workDir
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(t.workDir, root)
	}

	matches, err := doublestar.Glob(os.DirFS(root), params.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	type match struct {
		path string
		mod  int64
	}
	found := make([]match, 0, len(matches))
	for _, m := range matches {
		info, err := fs.Stat(os.DirFS(root), m)
		if err != nil || info.IsDir() {
			continue
		}
		found = append(found, match{path: filepath.Join(root, m), mod: info.ModTime().UnixNano()})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod > found[j].mod })

	truncated := false
	if len(found) > maxGlobResults {
		found = found[:maxGlobResults]
		truncated = true
	}

	paths := make([]string, len(found))
	for i, m := range found {
		paths[i] = m.path
	}

	output := strings.Join(paths, "\n")
	if output == "" {
		output = "No files found"
	}
	if truncated {
		output += fmt.Sprintf("\n\n(Results limited to %d files)", maxGlobResults)
	}

	return &Result{
		Title:  fmt.Sprintf("Glob %s", params.Pattern),
		Output: output,
		Metadata: map[string]any{
			"count":     len(paths),
			"truncated": truncated,
		},
	}, nil
}

package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const writeDescription = `Writes content to a file on the local filesystem.

Usage:
- The file_path parameter must be an absolute path
- This tool will overwrite existing files
- Parent directories will be created if they don't exist
- ALWAYS prefer editing existing files over creating new ones`

// WriteTool implements file writing.
type WriteTool struct {
	workDir string
}

// WriteInput represents the input for the write tool.
type WriteInput struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// NewWriteTool creates a new write tool.
func NewWriteTool(workDir string) *WriteTool {
	return &WriteTool{workDir: workDir}
}

func (t *WriteTool) Name() string        { return "write" }
func (t *WriteTool) Description() string { return writeDescription }

func (t *WriteTool) Capability() Capability {
	return Capability{NeedsPermission: true, Edits: true}
}

func (t *WriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {
				"type": "string",
				"description": "The absolute path to the file to write"
			},
			"content": {
				"type": "string",
				"description": "The content to write to the file"
			}
		},
		"required": ["file_path", "content"]
	}`)
}

// PathsFromInput exposes the target path as the permission subject.
func (t *WriteTool) PathsFromInput(input json.RawMessage) []string {
	var params WriteInput
	if err := json.Unmarshal(input, &params); err != nil || params.FilePath == "" {
		return nil
	}
	return []string{t.resolve(params.FilePath)}
}

// RenderInput shows the human a diff against the file's current content.
func (t *WriteTool) RenderInput(input json.RawMessage) string {
	var params WriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return ""
	}
	path := t.resolve(params.FilePath)
	before := ""
	if data, err := os.ReadFile(path); err == nil {
		before = string(data)
	}
	diff, _, _ := buildDiff(path, before, params.Content)
	if diff == "" {
		return fmt.Sprintf("write %s (no change)", path)
	}
	return diff
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params WriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.FilePath == "" {
		return nil, fmt.Errorf("file_path is required")
	}

	path := t.resolve(params.FilePath)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	return &Result{
		Title:  fmt.Sprintf("Wrote %s", filepath.Base(path)),
		Output: fmt.Sprintf("Successfully wrote %d bytes to %s", len(params.Content), path),
		Metadata: map[string]any{
			"file":  path,
			"bytes": len(params.Content),
		},
	}, nil
}

func (t *WriteTool) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(t.workDir, path)
}

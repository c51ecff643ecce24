package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const editDescription = `Performs exact string replacement in a file.

Usage:
- old_string must match the file contents exactly, including whitespace
- old_string must be unique in the file unless replace_all is set
- Use replace_all to replace every occurrence`

// EditTool implements exact string replacement.
type EditTool struct {
	workDir string
}

// EditInput represents the input for the edit tool.
type EditInput struct {
	FilePath   string `json:"file_path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// NewEditTool creates a new edit tool.
func NewEditTool(workDir string) *EditTool {
	return &EditTool{workDir: workDir}
}

func (t *EditTool) Name() string        { return "edit" }
func (t *EditTool) Description() string { return editDescription }

func (t *EditTool) Capability() Capability {
	return Capability{NeedsPermission: true, Edits: true}
}

func (t *EditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {
				"type": "string",
				"description": "The absolute path to the file to modify"
			},
			"old_string": {
				"type": "string",
				"description": "The text to replace"
			},
			"new_string": {
				"type": "string",
				"description": "The text to replace it with"
			},
			"replace_all": {
				"type": "boolean",
				"description": "Replace all occurrences (default: false)"
			}
		},
		"required": ["file_path", "old_string", "new_string"]
	}`)
}

// PathsFromInput exposes the target path as the permission subject.
func (t *EditTool) PathsFromInput(input json.RawMessage) []string {
	var params EditInput
	if err := json.Unmarshal(input, &params); err != nil || params.FilePath == "" {
		return nil
	}
	return []string{t.resolve(params.FilePath)}
}

// RenderInput shows the human the resulting diff.
func (t *EditTool) RenderInput(input json.RawMessage) string {
	var params EditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return ""
	}
	path := t.resolve(params.FilePath)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("edit %s", path)
	}
	after, err := applyEdit(string(data), params)
	if err != nil {
		return fmt.Sprintf("edit %s", path)
	}
	diff, _, _ := buildDiff(path, string(data), after)
	return diff
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params EditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.FilePath == "" {
		return nil, fmt.Errorf("file_path is required")
	}

	path := t.resolve(params.FilePath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	after, err := applyEdit(string(data), params)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, []byte(after), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	diff, additions, deletions := buildDiff(path, string(data), after)

	return &Result{
		Title:  fmt.Sprintf("Edited %s", filepath.Base(path)),
		Output: fmt.Sprintf("Successfully edited %s", path),
		Metadata: map[string]any{
			"file":      path,
			"diff":      diff,
			"additions": additions,
			"deletions": deletions,
		},
	}, nil
}

func applyEdit(content string, params EditInput) (string, error) {
	if params.OldString == "" {
		return "", fmt.Errorf("old_string is required")
	}
	count := strings.Count(content, params.OldString)
	if count == 0 {
		return "", fmt.Errorf("old_string not found in file")
	}
	if params.ReplaceAll {
		return strings.ReplaceAll(content, params.OldString, params.NewString), nil
	}
	if count > 1 {
		return "", fmt.Errorf("old_string matches %d locations; use replace_all or a more specific string", count)
	}
	return strings.Replace(content, params.OldString, params.NewString, 1), nil
}

func (t *EditTool) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(t.workDir, path)
}

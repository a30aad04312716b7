package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"hearth/internal/domain"
	"hearth/internal/tooling"
)

// ListFilesInput names a directory relative to the sandbox root.
type ListFilesInput struct {
	Path       string `json:"path" jsonschema:"minLength=1,description=Directory to list, relative to the allowed root"`
	ShowHidden bool   `json:"show_hidden,omitempty" jsonschema:"description=Include dotfiles in the listing"`
}

// listUnmarshalFunc is the JSON unmarshaler used by Call. Package-level so
// tests can inject a failing unmarshaler.
var listUnmarshalFunc = json.Unmarshal

// ListFilesTool lists a directory inside the sandbox.
type ListFilesTool struct {
	root string
}

// Name returns the tool name used in function-calling.
func (t *ListFilesTool) Name() string { return "list_files" }

// Description returns a human-readable description for the LLM.
func (t *ListFilesTool) Description() string {
	return "Lists files and directories under the allowed root, with sizes"
}

// Definition returns the JSON Schema for the tool input.
func (t *ListFilesTool) Definition() string {
	return tooling.GenerateSchema(ListFilesInput{})
}

// Call jails the path and renders one line per entry.
func (t *ListFilesTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	var input ListFilesInput
	if err := listUnmarshalFunc(args, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	resolved, err := tooling.JailPath(t.root, input.Path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	var lines []string
	count := 0
	for _, e := range entries {
		if !input.ShowHidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		count++
		if e.IsDir() {
			lines = append(lines, e.Name()+"/")
			continue
		}
		size := int64(0)
		if info, ierr := e.Info(); ierr == nil {
			size = info.Size()
		}
		lines = append(lines, fmt.Sprintf("%s (%s)", e.Name(), formatSize(size)))
	}

	data := strings.Join(lines, "\n")
	if data == "" {
		data = "empty directory"
	}
	return &domain.ToolResult{
		Data: data,
		Metadata: map[string]string{
			"path":    input.Path,
			"entries": strconv.Itoa(count),
		},
	}, nil
}

// formatSize renders a byte count with a binary unit suffix.
func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

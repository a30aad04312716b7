package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/h2non/filetype"

	"hearth/internal/domain"
	"hearth/internal/tooling"
)

// defaultMaxReadBytes caps how much file content one call may return.
const defaultMaxReadBytes = 64 * 1024

// ReadFileInput names a file relative to the sandbox root.
type ReadFileInput struct {
	Path     string `json:"path" jsonschema:"minLength=1,description=File to read, relative to the allowed root"`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema:"minimum=1,description=Return at most this many bytes"`
}

// readUnmarshalFunc is the JSON unmarshaler used by Call. Package-level so
// tests can inject a failing unmarshaler.
var readUnmarshalFunc = json.Unmarshal

// ReadFileTool reads a text file inside the sandbox. Binary files are
// identified by their magic-number signature and reported, not returned.
type ReadFileTool struct {
	root string
}

// Name returns the tool name used in function-calling.
func (t *ReadFileTool) Name() string { return "read_file" }

// Description returns a human-readable description for the LLM.
func (t *ReadFileTool) Description() string {
	return "Reads a text file under the allowed root; binary files are described by their detected type"
}

// Definition returns the JSON Schema for the tool input.
func (t *ReadFileTool) Definition() string {
	return tooling.GenerateSchema(ReadFileInput{})
}

// Call jails the path, sniffs the file type, and returns content or a
// binary-file description.
func (t *ReadFileTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	var input ReadFileInput
	if err := readUnmarshalFunc(args, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	resolved, err := tooling.JailPath(t.root, input.Path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if kind, kerr := filetype.Match(data); kerr == nil && kind != filetype.Unknown {
		return &domain.ToolResult{
			Data: fmt.Sprintf("binary file (%s, %s), content not shown", kind.MIME.Value, formatSize(int64(len(data)))),
			Metadata: map[string]string{
				"path":       input.Path,
				"mime":       kind.MIME.Value,
				"size_bytes": strconv.Itoa(len(data)),
				"binary":     "true",
			},
		}, nil
	}

	limit := input.MaxBytes
	if limit <= 0 || limit > defaultMaxReadBytes {
		limit = defaultMaxReadBytes
	}
	truncated := false
	if len(data) > limit {
		data = data[:limit]
		truncated = true
	}

	return &domain.ToolResult{
		Data: string(data),
		Metadata: map[string]string{
			"path":       input.Path,
			"size_bytes": strconv.Itoa(len(data)),
			"truncated":  strconv.FormatBool(truncated),
		},
	}, nil
}

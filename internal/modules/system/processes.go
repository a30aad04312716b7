package system

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"hearth/internal/domain"
	"hearth/internal/tooling"
)

// maxProcessLines caps the listing so a busy box doesn't flood the model's
// context window.
const maxProcessLines = 50

// ListProcessesInput filters the listing by command name substring.
type ListProcessesInput struct {
	Filter string `json:"filter,omitempty" jsonschema:"description=Case-insensitive substring to match against process names"`
}

// listUnmarshalFunc is the JSON unmarshaler used by Call. Package-level so
// tests can inject a failing unmarshaler.
var listUnmarshalFunc = json.Unmarshal

// ListProcessesTool lists running processes by scanning /proc.
type ListProcessesTool struct {
	procRoot string
}

// Name returns the tool name used in function-calling.
func (t *ListProcessesTool) Name() string { return "list_processes" }

// Description returns a human-readable description for the LLM.
func (t *ListProcessesTool) Description() string {
	return "Lists running processes by PID and name, optionally filtered by a name substring"
}

// Definition returns the JSON Schema for the tool input.
func (t *ListProcessesTool) Definition() string {
	return tooling.GenerateSchema(ListProcessesInput{})
}

// Call scans the numeric entries of /proc and reads each comm file.
// Processes that vanish mid-scan are skipped.
func (t *ListProcessesTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	var input ListProcessesInput
	if len(args) > 0 {
		if err := listUnmarshalFunc(args, &input); err != nil {
			return nil, fmt.Errorf("failed to parse input: %w", err)
		}
	}
	filter := strings.ToLower(input.Filter)

	entries, err := os.ReadDir(t.procRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to scan processes: %w", err)
	}

	type proc struct {
		pid  int
		name string
	}
	var procs []proc
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, perr := strconv.Atoi(e.Name())
		if perr != nil {
			continue
		}
		raw, rerr := os.ReadFile(filepath.Join(t.procRoot, e.Name(), "comm"))
		if rerr != nil {
			continue
		}
		name := strings.TrimSpace(string(raw))
		if filter != "" && !strings.Contains(strings.ToLower(name), filter) {
			continue
		}
		procs = append(procs, proc{pid: pid, name: name})
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].pid < procs[j].pid })

	truncated := false
	if len(procs) > maxProcessLines {
		procs = procs[:maxProcessLines]
		truncated = true
	}

	var lines []string
	for _, p := range procs {
		lines = append(lines, fmt.Sprintf("%6d  %s", p.pid, p.name))
	}
	data := strings.Join(lines, "\n")
	if truncated {
		data += fmt.Sprintf("\n... (showing first %d)", maxProcessLines)
	}
	if data == "" {
		data = "no matching processes"
	}

	return &domain.ToolResult{
		Data: data,
		Metadata: map[string]string{
			"count":  strconv.Itoa(len(procs)),
			"filter": input.Filter,
		},
	}, nil
}

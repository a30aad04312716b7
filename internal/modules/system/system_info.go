package system

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hearth/internal/domain"
	"hearth/internal/tooling"
)

// SystemInfoInput is empty; the tool takes no arguments.
type SystemInfoInput struct{}

// SystemInfoTool reports load average, memory usage, and uptime from /proc.
type SystemInfoTool struct {
	procRoot string
}

// Name returns the tool name used in function-calling.
func (t *SystemInfoTool) Name() string { return "system_info" }

// Description returns a human-readable description for the LLM.
func (t *SystemInfoTool) Description() string {
	return "Reports the device's load average, memory usage, and uptime"
}

// Definition returns the JSON Schema for the tool input.
func (t *SystemInfoTool) Definition() string {
	return tooling.GenerateSchema(SystemInfoInput{})
}

// Call gathers the three /proc readings. A single unreadable file fails the
// whole call; the dispatcher reports it as a handler error.
func (t *SystemInfoTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	load, err := t.loadAverage()
	if err != nil {
		return nil, err
	}
	memTotal, memAvail, err := t.memory()
	if err != nil {
		return nil, err
	}
	uptime, err := t.uptime()
	if err != nil {
		return nil, err
	}

	usedPct := 0.0
	if memTotal > 0 {
		usedPct = float64(memTotal-memAvail) / float64(memTotal) * 100
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Load average: %s\n", load)
	fmt.Fprintf(&b, "Memory: %d MB used of %d MB (%.0f%%)\n",
		(memTotal-memAvail)/1024, memTotal/1024, usedPct)
	fmt.Fprintf(&b, "Uptime: %s", formatUptime(uptime))

	return &domain.ToolResult{
		Data: b.String(),
		Metadata: map[string]string{
			"load_average":   load,
			"mem_total_kb":   strconv.FormatInt(memTotal, 10),
			"mem_avail_kb":   strconv.FormatInt(memAvail, 10),
			"uptime_seconds": strconv.FormatInt(int64(uptime.Seconds()), 10),
		},
	}, nil
}

func (t *SystemInfoTool) loadAverage() (string, error) {
	raw, err := os.ReadFile(filepath.Join(t.procRoot, "loadavg"))
	if err != nil {
		return "", fmt.Errorf("failed to read loadavg: %w", err)
	}
	fields := strings.Fields(string(raw))
	if len(fields) < 3 {
		return "", fmt.Errorf("unexpected loadavg content %q", strings.TrimSpace(string(raw)))
	}
	return strings.Join(fields[:3], " "), nil
}

// memory returns MemTotal and MemAvailable in kilobytes.
func (t *SystemInfoTool) memory() (total, available int64, err error) {
	raw, err := os.ReadFile(filepath.Join(t.procRoot, "meminfo"))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read meminfo: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, perr := strconv.ParseInt(fields[1], 10, 64)
		if perr != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}
	if total == 0 {
		return 0, 0, fmt.Errorf("meminfo missing MemTotal")
	}
	return total, available, nil
}

func (t *SystemInfoTool) uptime() (time.Duration, error) {
	raw, err := os.ReadFile(filepath.Join(t.procRoot, "uptime"))
	if err != nil {
		return 0, fmt.Errorf("failed to read uptime: %w", err)
	}
	fields := strings.Fields(string(raw))
	if len(fields) < 1 {
		return 0, fmt.Errorf("unexpected uptime content %q", strings.TrimSpace(string(raw)))
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected uptime value %q: %w", fields[0], err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// formatUptime renders a duration as "3d 4h 12m".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

package system

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"hearth/internal/domain"
	"hearth/internal/tooling"
)

// thermalZonePath is the sysfs file holding the SoC temperature in
// millidegrees Celsius, relative to the sys root.
const thermalZonePath = "class/thermal/thermal_zone0/temp"

// CPUTempInput is empty; the tool takes no arguments.
type CPUTempInput struct{}

// CPUTempTool reads the SoC temperature from sysfs.
type CPUTempTool struct {
	sysRoot string
}

// Name returns the tool name used in function-calling.
func (t *CPUTempTool) Name() string { return "get_cpu_temp" }

// Description returns a human-readable description for the LLM.
func (t *CPUTempTool) Description() string {
	return "Reads the current CPU temperature of the device in degrees Celsius"
}

// Definition returns the JSON Schema for the tool input.
func (t *CPUTempTool) Definition() string {
	return tooling.GenerateSchema(CPUTempInput{})
}

// Call reads and converts the thermal zone value.
func (t *CPUTempTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	raw, err := os.ReadFile(filepath.Join(t.sysRoot, thermalZonePath))
	if err != nil {
		return nil, fmt.Errorf("failed to read thermal zone: %w", err)
	}

	milli, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("unexpected thermal zone content %q: %w", strings.TrimSpace(string(raw)), err)
	}

	tempC := float64(milli) / 1000.0
	return &domain.ToolResult{
		Data: fmt.Sprintf("%.1f°C", tempC),
		Metadata: map[string]string{
			"temp_c": strconv.FormatFloat(tempC, 'f', 1, 64),
		},
	}, nil
}

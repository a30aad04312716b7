package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disintegration/imaging"

	"hearth/internal/domain"
	"hearth/internal/tooling"
)

// SnapshotInput optionally resizes the captured frame. Zero keeps the
// source dimension; when only one side is given the other preserves the
// aspect ratio.
type SnapshotInput struct {
	Width  int `json:"width,omitempty" jsonschema:"minimum=1,maximum=4096"`
	Height int `json:"height,omitempty" jsonschema:"minimum=1,maximum=4096"`
}

// snapUnmarshalFunc is the JSON unmarshaler used by Call. Package-level so
// tests can inject a failing unmarshaler.
var snapUnmarshalFunc = json.Unmarshal

// nowFunc is injectable so tests get deterministic snapshot filenames.
var nowFunc = time.Now

// SnapshotTool captures one frame and stores it as a JPEG artifact.
type SnapshotTool struct {
	source  FrameSource
	dataDir string
}

// Name returns the tool name used in function-calling.
func (t *SnapshotTool) Name() string { return "camera_snapshot" }

// Description returns a human-readable description for the LLM.
func (t *SnapshotTool) Description() string {
	return "Captures a photo with the device camera, optionally resized, and saves it as a JPEG"
}

// Definition returns the JSON Schema for the tool input.
func (t *SnapshotTool) Definition() string {
	return tooling.GenerateSchema(SnapshotInput{})
}

// Call captures, optionally resizes, and persists one frame.
func (t *SnapshotTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	var input SnapshotInput
	if len(args) > 0 {
		if err := snapUnmarshalFunc(args, &input); err != nil {
			return nil, fmt.Errorf("failed to parse input: %w", err)
		}
	}

	frame, err := t.source.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture frame: %w", err)
	}

	img := imaging.Clone(frame)
	if input.Width > 0 || input.Height > 0 {
		// Lanczos keeps text and edges legible at small sizes.
		img = imaging.Resize(img, input.Width, input.Height, imaging.Lanczos)
	}

	name := fmt.Sprintf("snapshot_%s.jpg", nowFunc().Format("20060102_150405"))
	path := filepath.Join(t.dataDir, name)
	if err := imaging.Save(img, path, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}

	bounds := img.Bounds()
	return &domain.ToolResult{
		Data: fmt.Sprintf("Captured %dx%d snapshot: %s", bounds.Dx(), bounds.Dy(), name),
		Metadata: map[string]string{
			"width":  strconv.Itoa(bounds.Dx()),
			"height": strconv.Itoa(bounds.Dy()),
		},
		Artifacts: []string{path},
	}, nil
}

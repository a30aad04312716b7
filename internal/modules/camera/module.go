// Package camera exposes a snapshot tool over a pluggable frame source.
// Capture mechanics (V4L2, libcamera, a test stub) live behind the
// FrameSource boundary; the module only post-processes and stores frames.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"hearth/internal/tooling"
)

// FrameSource produces one frame per Capture call. Implementations own the
// device; Capture must be safe to call sequentially from one goroutine.
type FrameSource interface {
	Capture(ctx context.Context) (image.Image, error)
}

// ErrNoFrameSource is returned by Initialize when no frame source is
// configured. The host treats this like any other init failure: the module
// goes Failed and the rest of the system keeps running.
var ErrNoFrameSource = errors.New("no frame source configured")

// Module is the camera capability module.
type Module struct {
	source  FrameSource
	dataDir string
	tools   []tooling.SchemaTool
}

// NewModule creates the camera module. Snapshots are written under dataDir.
func NewModule(source FrameSource, dataDir string) *Module {
	return &Module{source: source, dataDir: dataDir}
}

// ID returns the module identifier.
func (m *Module) ID() string { return "camera" }

// Initialize verifies a frame source is present and the snapshot directory
// is writable, then builds the tool set.
func (m *Module) Initialize(ctx context.Context) error {
	if m.source == nil {
		return ErrNoFrameSource
	}
	if err := os.MkdirAll(m.dataDir, 0755); err != nil {
		return fmt.Errorf("snapshot directory: %w", err)
	}
	m.tools = []tooling.SchemaTool{
		&SnapshotTool{source: m.source, dataDir: m.dataDir},
	}
	return nil
}

// Tools returns the module's tools. Only valid after Initialize.
func (m *Module) Tools() []tooling.SchemaTool { return m.tools }

// Cleanup is a no-op; the frame source owns the device lifecycle.
func (m *Module) Cleanup() error { return nil }

package camera

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"os"
	"os/exec"
)

// runCaptureCommand executes the still-capture binary; tests may replace it.
var runCaptureCommand = func(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// CommandFrameSource captures frames by invoking an external still-capture
// command (e.g. rpicam-still) that writes a JPEG to the path appended as its
// final argument.
type CommandFrameSource struct {
	binary string
	args   []string
}

var _ FrameSource = (*CommandFrameSource)(nil)

// NewCommandFrameSource creates a frame source that shells out to binary.
// The output file path is appended after args on every capture.
func NewCommandFrameSource(binary string, args ...string) *CommandFrameSource {
	return &CommandFrameSource{binary: binary, args: args}
}

// Capture runs the command into a temp file and decodes the result.
func (s *CommandFrameSource) Capture(ctx context.Context) (image.Image, error) {
	tmp, err := os.CreateTemp("", "hearth-frame-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("capture temp file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	args := append(append([]string(nil), s.args...), path)
	if err := runCaptureCommand(ctx, s.binary, args...); err != nil {
		return nil, fmt.Errorf("capture command %q: %w", s.binary, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture output: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("capture decode: %w", err)
	}
	return img, nil
}

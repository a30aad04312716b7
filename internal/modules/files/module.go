// Package files exposes read-only, sandboxed file access. Every path is
// jailed to the configured root; binary files are identified by signature
// instead of being dumped into the conversation.
package files

import (
	"context"
	"fmt"
	"os"

	"hearth/internal/tooling"
)

// Module is the files capability module.
type Module struct {
	root  string
	tools []tooling.SchemaTool
}

// NewModule creates the files module sandboxed to root.
func NewModule(root string) *Module {
	return &Module{root: root}
}

// ID returns the module identifier.
func (m *Module) ID() string { return "files" }

// Initialize verifies the sandbox root exists and builds the tool set.
func (m *Module) Initialize(ctx context.Context) error {
	info, err := os.Stat(m.root)
	if err != nil {
		return fmt.Errorf("files root %q: %w", m.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("files root %q is not a directory", m.root)
	}
	m.tools = []tooling.SchemaTool{
		&ListFilesTool{root: m.root},
		&ReadFileTool{root: m.root},
	}
	return nil
}

// Tools returns the module's tools. Only valid after Initialize.
func (m *Module) Tools() []tooling.SchemaTool { return m.tools }

// Cleanup is a no-op; the module holds no resources.
func (m *Module) Cleanup() error { return nil }

// Package system exposes device health tools: CPU temperature, load and
// memory, process listing, and network interface status. Everything is read
// from /proc and /sys — no shell commands are spawned on behalf of the model.
package system

import (
	"context"

	"hearth/internal/tooling"
)

// Module is the system capability module. The proc and sys roots are
// injectable so tests can point the tools at a fixture tree.
type Module struct {
	procRoot string
	sysRoot  string
	tools    []tooling.SchemaTool
}

// NewModule creates the system module reading from the real /proc and /sys.
func NewModule() *Module {
	return &Module{procRoot: "/proc", sysRoot: "/sys"}
}

// NewModuleWithRoots creates the system module with custom filesystem roots.
func NewModuleWithRoots(procRoot, sysRoot string) *Module {
	return &Module{procRoot: procRoot, sysRoot: sysRoot}
}

// ID returns the module identifier.
func (m *Module) ID() string { return "system" }

// Initialize builds the tool set. There are no external resources to acquire.
func (m *Module) Initialize(ctx context.Context) error {
	m.tools = []tooling.SchemaTool{
		&CPUTempTool{sysRoot: m.sysRoot},
		&SystemInfoTool{procRoot: m.procRoot},
		&ListProcessesTool{procRoot: m.procRoot},
		&NetworkStatusTool{},
	}
	return nil
}

// Tools returns the module's tools. Only valid after Initialize.
func (m *Module) Tools() []tooling.SchemaTool { return m.tools }

// Cleanup is a no-op; the module holds no resources.
func (m *Module) Cleanup() error { return nil }

package module

import (
	"context"

	"hearth/internal/tooling"
)

// State is a capability module's lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateFailed        State = "failed"
	StateShuttingDown  State = "shutting_down"
	StateStopped       State = "stopped"
)

// Module is one cohesive unit of related tools with its own lifecycle.
// The host calls Initialize/Tools/Cleanup and never reaches into
// module-private state; persisted storage (e.g. a vocabulary database) is
// entirely module-owned.
type Module interface {
	// ID returns the module identifier (e.g. "system", "dutch").
	ID() string

	// Initialize acquires all resources (database connections, service
	// handles) and builds the tool set. Called once, before Tools.
	Initialize(ctx context.Context) error

	// Tools returns the module's descriptors in registration order.
	// Only valid after a successful Initialize.
	Tools() []tooling.SchemaTool

	// Cleanup releases acquired resources. Called once during shutdown,
	// after the module's tools have been unregistered.
	Cleanup() error
}

package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"hearth/internal/tooling"
)

// ErrUnknownModule is returned when a module id is not hosted.
var ErrUnknownModule = errors.New("unknown module")

// Option is a functional option for configuring a Host.
type Option func(*Host)

// WithLogger sets a structured logger for the Host. If l is nil it is ignored
// and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// hosted tracks one module and its lifecycle state.
type hosted struct {
	module Module
	state  State
}

// Host owns the capability modules and drives their lifecycle:
// Uninitialized → Initializing → Ready, with Failed on setup errors and
// Ready → ShuttingDown → Stopped on teardown. A module that fails to
// initialize is logged and skipped — the system keeps running with a
// degraded capability set; its tools never reach the registry.
type Host struct {
	registry *tooling.Registry
	logger   *slog.Logger

	mu      sync.RWMutex
	modules map[string]*hosted
	order   []string // startup order, reversed for shutdown
}

// NewHost creates a Host that registers module tools into the given registry.
// Panics if registry is nil.
func NewHost(registry *tooling.Registry, opts ...Option) *Host {
	if registry == nil {
		panic("module: registry must not be nil")
	}
	h := &Host{
		registry: registry,
		modules:  make(map[string]*hosted),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// log returns the Host's logger, falling back to the default slog logger.
func (h *Host) log() *slog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

// Add registers a module with the host in Uninitialized state. Returns an
// error if the id is already taken. Must be called before Start.
func (h *Host) Add(m Module) error {
	if m == nil {
		return errors.New("module: must not be nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	id := m.ID()
	if _, exists := h.modules[id]; exists {
		return fmt.Errorf("module %q already added", id)
	}
	h.modules[id] = &hosted{module: m, state: StateUninitialized}
	h.order = append(h.order, id)
	return nil
}

// Start initializes every added module in order. Each module's full tool set
// is registered atomically before the module is marked Ready. Any failure
// (error, panic, or duplicate tool name) marks that module Failed and startup
// continues; the returned error joins the per-module failures for reporting.
func (h *Host) Start(ctx context.Context) error {
	h.mu.RLock()
	order := append([]string(nil), h.order...)
	h.mu.RUnlock()

	var errs []error
	for _, id := range order {
		if err := h.startOne(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// startOne drives one module through Initializing to Ready or Failed.
func (h *Host) startOne(ctx context.Context, id string) error {
	h.setState(id, StateInitializing)

	m := h.get(id).module
	if err := h.initialize(ctx, m); err != nil {
		h.setState(id, StateFailed)
		h.log().Error("module failed to initialize", "module", id, "error", err)
		return fmt.Errorf("module %q: %w", id, err)
	}

	if err := h.registry.Register(id, m.Tools()); err != nil {
		h.setState(id, StateFailed)
		h.log().Error("module tool registration rejected", "module", id, "error", err)
		// Best-effort: release whatever Initialize acquired.
		if cerr := m.Cleanup(); cerr != nil {
			h.log().Warn("cleanup after failed registration", "module", id, "error", cerr)
		}
		return fmt.Errorf("module %q: %w", id, err)
	}

	h.setState(id, StateReady)
	h.log().Info("module ready", "module", id, "tools", len(m.Tools()))
	return nil
}

// initialize runs Initialize under a panic boundary: a crash during setup
// leaves the module Failed instead of taking down the process.
func (h *Host) initialize(ctx context.Context, m Module) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initialize panic: %v", r)
		}
	}()
	return m.Initialize(ctx)
}

// Stop tears down Ready modules in reverse startup order. Tools are
// unregistered during ShuttingDown — before Cleanup — so no dispatch can
// target a module whose resources are being released.
func (h *Host) Stop() error {
	h.mu.RLock()
	order := append([]string(nil), h.order...)
	h.mu.RUnlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if h.State(id) != StateReady {
			continue
		}
		h.setState(id, StateShuttingDown)
		h.registry.Unregister(id)
		if err := h.get(id).module.Cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("module %q cleanup: %w", id, err))
			h.log().Warn("module cleanup failed", "module", id, "error", err)
		}
		h.setState(id, StateStopped)
		h.log().Info("module stopped", "module", id)
	}
	return errors.Join(errs...)
}

// State returns the lifecycle state of the given module, or
// StateUninitialized with ok=false semantics folded into ErrUnknownModule
// handling by Status.
func (h *Host) State(id string) State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if hm, ok := h.modules[id]; ok {
		return hm.state
	}
	return StateUninitialized
}

// Status returns the state of every hosted module in startup order.
func (h *Host) Status() map[string]State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]State, len(h.modules))
	for id, hm := range h.modules {
		out[id] = hm.state
	}
	return out
}

func (h *Host) get(id string) *hosted {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.modules[id]
}

func (h *Host) setState(id string, s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if hm, ok := h.modules[id]; ok {
		hm.state = s
	}
}

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"hearth/internal/domain"
	"hearth/internal/tooling"
)

// defaultInvokeTimeout bounds a single tool invocation. Handlers doing slow
// hardware or network I/O surface as Timeout instead of hanging the turn.
const defaultInvokeTimeout = 30 * time.Second

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLogger sets a structured logger for the Engine. If l is nil it is
// ignored and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTimeout overrides the per-invocation timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// Engine validates and executes tool invocations against a Registry. It holds
// no lock while a handler runs, so concurrent invocations from independent
// sessions never serialize on each other. Each invocation is observed exactly
// once; retries are caller policy.
type Engine struct {
	registry *tooling.Registry
	logger   *slog.Logger
	timeout  time.Duration

	// newCorrelationID is injectable for deterministic tests.
	newCorrelationID func() string
}

// NewEngine creates a dispatch engine backed by the given registry.
// Panics if registry is nil.
func NewEngine(registry *tooling.Registry, opts ...Option) *Engine {
	if registry == nil {
		panic("dispatch: registry must not be nil")
	}
	e := &Engine{
		registry:         registry,
		timeout:          defaultInvokeTimeout,
		newCorrelationID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// log returns the Engine's logger, falling back to the default slog logger.
func (e *Engine) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

// Invoke resolves, validates, and executes one tool call. The returned record
// always carries either a Result or a structured Failure — a handler fault
// (error or panic) never propagates to the caller.
func (e *Engine) Invoke(ctx context.Context, name string, args json.RawMessage) *domain.InvocationRecord {
	rec := &domain.InvocationRecord{
		CorrelationID: e.newCorrelationID(),
		Tool:          name,
		Arguments:     args,
		StartedAt:     time.Now(),
	}
	defer func() {
		rec.Duration = time.Since(rec.StartedAt)
		e.logRecord(rec)
	}()

	tool, err := e.registry.Resolve(name)
	if err != nil {
		rec.Failure = &domain.Failure{Kind: domain.FailureNotFound, Message: err.Error()}
		return rec
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
		rec.Arguments = args
	}
	if err := tooling.ValidateAgainstSchema(args, tool.Definition()); err != nil {
		rec.Failure = validationFailure(err)
		return rec
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.execute(callCtx, tool, args)
	if err != nil {
		rec.Failure = executionFailure(callCtx, err)
		return rec
	}
	if result == nil {
		result = &domain.ToolResult{}
	}
	rec.Result = result
	return rec
}

// execute runs the handler under a panic boundary.
func (e *Engine) execute(ctx context.Context, tool tooling.SchemaTool, args json.RawMessage) (result *domain.ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return tool.Call(ctx, args)
}

// validationFailure maps a validation error to an InvalidArguments failure.
func validationFailure(err error) *domain.Failure {
	var ve *tooling.ValidationError
	if errors.As(err, &ve) {
		return &domain.Failure{
			Kind:    domain.FailureInvalidArguments,
			Field:   ve.Field,
			Message: ve.Reason,
		}
	}
	return &domain.Failure{Kind: domain.FailureInvalidArguments, Message: err.Error()}
}

// executionFailure distinguishes timeouts from ordinary handler errors.
func executionFailure(ctx context.Context, err error) *domain.Failure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.Failure{Kind: domain.FailureTimeout, Message: "tool invocation exceeded its deadline"}
	}
	return &domain.Failure{Kind: domain.FailureHandlerError, Message: err.Error()}
}

// logRecord emits one structured log line per invocation with the correlation id.
func (e *Engine) logRecord(rec *domain.InvocationRecord) {
	if rec.Succeeded() {
		e.log().Info("tool invoked",
			"correlation_id", rec.CorrelationID,
			"tool", rec.Tool,
			"duration", rec.Duration,
		)
		return
	}
	e.log().Warn("tool invocation failed",
		"correlation_id", rec.CorrelationID,
		"tool", rec.Tool,
		"kind", rec.Failure.Kind,
		"error", rec.Failure.Message,
		"duration", rec.Duration,
	)
}

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"hearth/internal/domain"
	"hearth/internal/tooling"
)

// =============================================================================
// countingTool — records call counts and can fail, panic, or block
// =============================================================================

type countingTool struct {
	mu      sync.Mutex
	name    string
	schema  string
	calls   int
	result  *domain.ToolResult
	err     error
	panicV  any
	blockOn <-chan struct{}
}

func (c *countingTool) Name() string        { return c.name }
func (c *countingTool) Description() string { return "test tool" }
func (c *countingTool) Definition() string  { return c.schema }

func (c *countingTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.panicV != nil {
		panic(c.panicV)
	}
	if c.blockOn != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.blockOn:
		}
	}
	return c.result, c.err
}

func (c *countingTool) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

const emptyObjectSchema = `{"type":"object","properties":{},"additionalProperties":false}`

func newEngine(t *testing.T, tools ...tooling.SchemaTool) (*Engine, *tooling.Registry) {
	t.Helper()
	reg := tooling.NewRegistry()
	if err := reg.Register("test", tools); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return NewEngine(reg), reg
}

// =============================================================================
// Engine Tests
// =============================================================================

func TestNewEngine_ShouldPanicOnNilRegistry(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for nil registry")
		}
	}()
	NewEngine(nil)
}

func TestEngine_Invoke_ShouldReturnNotFoundForUnknownTool(t *testing.T) {
	eng, _ := newEngine(t)
	rec := eng.Invoke(context.Background(), "missing", json.RawMessage(`{}`))
	if rec.Succeeded() {
		t.Fatal("Expected failure")
	}
	if rec.Failure.Kind != domain.FailureNotFound {
		t.Errorf("Kind = %q, want not_found", rec.Failure.Kind)
	}
	if rec.CorrelationID == "" {
		t.Error("Expected a correlation id")
	}
}

func TestEngine_Invoke_ShouldRejectExtraneousArgumentsBeforeHandler(t *testing.T) {
	tool := &countingTool{name: "get_cpu_temp", schema: emptyObjectSchema, result: &domain.ToolResult{Data: `{"temp_c":52.3}`}}
	eng, _ := newEngine(t, tool)

	rec := eng.Invoke(context.Background(), "get_cpu_temp", json.RawMessage(`{"foo":1}`))

	if rec.Succeeded() {
		t.Fatal("Expected failure for extraneous argument")
	}
	if rec.Failure.Kind != domain.FailureInvalidArguments {
		t.Errorf("Kind = %q, want invalid_arguments", rec.Failure.Kind)
	}
	if tool.callCount() != 0 {
		t.Errorf("Handler ran %d times; must never run on validation failure", tool.callCount())
	}
}

func TestEngine_Invoke_ShouldSucceedWithConformantArguments(t *testing.T) {
	tool := &countingTool{name: "get_cpu_temp", schema: emptyObjectSchema, result: &domain.ToolResult{Data: `{"temp_c":52.3}`}}
	eng, _ := newEngine(t, tool)

	rec := eng.Invoke(context.Background(), "get_cpu_temp", json.RawMessage(`{}`))

	if !rec.Succeeded() {
		t.Fatalf("Expected success, got %v", rec.Failure)
	}
	if rec.Result.Data != `{"temp_c":52.3}` {
		t.Errorf("Result.Data = %q", rec.Result.Data)
	}
	if tool.callCount() != 1 {
		t.Errorf("Handler call count = %d, want exactly 1", tool.callCount())
	}
}

func TestEngine_Invoke_ShouldTreatEmptyArgumentsAsEmptyObject(t *testing.T) {
	tool := &countingTool{name: "get_cpu_temp", schema: emptyObjectSchema, result: &domain.ToolResult{Data: "ok"}}
	eng, _ := newEngine(t, tool)

	rec := eng.Invoke(context.Background(), "get_cpu_temp", nil)
	if !rec.Succeeded() {
		t.Fatalf("Expected success for nil args, got %v", rec.Failure)
	}
}

func TestEngine_Invoke_ShouldConvertHandlerErrorToFailure(t *testing.T) {
	tool := &countingTool{name: "flaky", schema: emptyObjectSchema, err: errors.New("sensor unavailable")}
	eng, _ := newEngine(t, tool)

	rec := eng.Invoke(context.Background(), "flaky", json.RawMessage(`{}`))
	if rec.Succeeded() {
		t.Fatal("Expected failure")
	}
	if rec.Failure.Kind != domain.FailureHandlerError {
		t.Errorf("Kind = %q, want handler_error", rec.Failure.Kind)
	}
	if rec.Failure.Message != "sensor unavailable" {
		t.Errorf("Message = %q", rec.Failure.Message)
	}
}

func TestEngine_Invoke_ShouldRecoverHandlerPanic(t *testing.T) {
	tool := &countingTool{name: "crashy", schema: emptyObjectSchema, panicV: "boom"}
	eng, _ := newEngine(t, tool)

	rec := eng.Invoke(context.Background(), "crashy", json.RawMessage(`{}`))
	if rec.Succeeded() {
		t.Fatal("Expected failure")
	}
	if rec.Failure.Kind != domain.FailureHandlerError {
		t.Errorf("Kind = %q, want handler_error", rec.Failure.Kind)
	}
}

func TestEngine_Invoke_ShouldSurfaceTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	tool := &countingTool{name: "slow", schema: emptyObjectSchema, blockOn: block}
	reg := tooling.NewRegistry()
	_ = reg.Register("test", []tooling.SchemaTool{tool})
	eng := NewEngine(reg, WithTimeout(20*time.Millisecond))

	rec := eng.Invoke(context.Background(), "slow", json.RawMessage(`{}`))
	if rec.Succeeded() {
		t.Fatal("Expected timeout failure")
	}
	if rec.Failure.Kind != domain.FailureTimeout {
		t.Errorf("Kind = %q, want timeout", rec.Failure.Kind)
	}
}

func TestEngine_Invoke_ShouldReportOffendingFieldForSchemaViolation(t *testing.T) {
	tool := &countingTool{
		name:   "gpio",
		schema: `{"type":"object","properties":{"pin":{"type":"integer"}},"required":["pin"],"additionalProperties":false}`,
	}
	eng, _ := newEngine(t, tool)

	rec := eng.Invoke(context.Background(), "gpio", json.RawMessage(`{"pin":"seven"}`))
	if rec.Succeeded() {
		t.Fatal("Expected failure")
	}
	if rec.Failure.Field != "/pin" {
		t.Errorf("Field = %q, want /pin", rec.Failure.Field)
	}
}

func TestEngine_Invoke_ShouldNotSerializeConcurrentInvocations(t *testing.T) {
	block := make(chan struct{})
	slow := &countingTool{name: "slow", schema: emptyObjectSchema, blockOn: block}
	fast := &countingTool{name: "fast", schema: emptyObjectSchema, result: &domain.ToolResult{Data: "fast-ok"}}
	eng, _ := newEngine(t, slow, fast)

	slowDone := make(chan *domain.InvocationRecord, 1)
	go func() {
		slowDone <- eng.Invoke(context.Background(), "slow", json.RawMessage(`{}`))
	}()

	// The fast invocation completes while the slow one is still blocked.
	fastRec := eng.Invoke(context.Background(), "fast", json.RawMessage(`{}`))
	if !fastRec.Succeeded() {
		t.Fatalf("fast failed: %v", fastRec.Failure)
	}

	close(block)
	select {
	case rec := <-slowDone:
		if !rec.Succeeded() {
			t.Fatalf("slow failed: %v", rec.Failure)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("slow invocation never finished")
	}
}

func TestEngine_Invoke_ShouldUseInjectedCorrelationIDs(t *testing.T) {
	tool := &countingTool{name: "t", schema: emptyObjectSchema, result: &domain.ToolResult{}}
	eng, _ := newEngine(t, tool)
	eng.newCorrelationID = func() string { return "fixed-id" }

	rec := eng.Invoke(context.Background(), "t", json.RawMessage(`{}`))
	if rec.CorrelationID != "fixed-id" {
		t.Errorf("CorrelationID = %q", rec.CorrelationID)
	}
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"hearth/internal/dispatch"
	"hearth/internal/domain"
	"hearth/internal/llm"
	"hearth/internal/tooling"
)

// =============================================================================
// Test doubles
// =============================================================================

// scriptedProvider plays back one event script per Generate call.
type scriptedProvider struct {
	name     string
	scripts  [][]domain.ResponseEvent
	startErr error
	calls    atomic.Int32

	// lastHistory captures the window of the most recent call.
	lastHistory []domain.Message
}

func (p *scriptedProvider) Name() string {
	if p.name == "" {
		return "scripted"
	}
	return p.name
}

func (p *scriptedProvider) Generate(ctx context.Context, history []domain.Message, tools []domain.ToolDefinition) (<-chan domain.ResponseEvent, error) {
	call := int(p.calls.Add(1)) - 1
	p.lastHistory = history
	if p.startErr != nil {
		return nil, p.startErr
	}
	var script []domain.ResponseEvent
	if call < len(p.scripts) {
		script = p.scripts[call]
	} else {
		script = []domain.ResponseEvent{{Done: true}}
	}
	events := make(chan domain.ResponseEvent, len(script))
	for _, ev := range script {
		events <- ev
	}
	close(events)
	return events, nil
}

// echoTool answers with a fixed reply; failing variant returns an error.
type echoTool struct {
	name  string
	reply string
	err   error
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echoes a canned reply" }
func (t *echoTool) Definition() string {
	return `{"type":"object","properties":{},"additionalProperties":true}`
}

func (t *echoTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	if t.err != nil {
		return nil, t.err
	}
	return &domain.ToolResult{Data: t.reply}, nil
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	coord    *Coordinator
	provider *scriptedProvider
}

func newHarness(t *testing.T, provider *scriptedProvider, tools []tooling.SchemaTool, opts ...Option) *harness {
	t.Helper()
	registry := tooling.NewRegistry()
	if len(tools) > 0 {
		if err := registry.Register("test", tools); err != nil {
			t.Fatalf("register tools: %v", err)
		}
	}
	svc := llm.NewService()
	svc.Add(provider)
	engine := dispatch.NewEngine(registry)
	return &harness{
		coord:    NewCoordinator(svc, engine, registry, opts...),
		provider: provider,
	}
}

// collect reads the event stream to completion.
func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out waiting for events")
		}
	}
}

func textOf(events []Event) string {
	var s string
	for _, ev := range events {
		s += ev.Text
	}
	return s
}

// =============================================================================
// Constructor
// =============================================================================

func TestNewCoordinator_WhenDependencyNil_ShouldPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil provider service")
		}
	}()
	NewCoordinator(nil, nil, nil)
}

// =============================================================================
// Submit
// =============================================================================

func TestCoordinator_Submit_ShouldStreamTextAndFinishWithDone(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]domain.ResponseEvent{
		{{Text: "Hallo"}, {Text: " daar"}, {Done: true}},
	}}
	h := newHarness(t, provider, nil)

	events, err := h.coord.Submit(context.Background(), "s1", "hoi")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := collect(t, events)

	if text := textOf(got); text != "Hallo daar" {
		t.Errorf("text = %q", text)
	}
	if !got[len(got)-1].Done {
		t.Errorf("last event = %+v, want Done", got[len(got)-1])
	}
}

func TestCoordinator_Submit_WhenMessageBlank_ShouldReturnError(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	if _, err := h.coord.Submit(context.Background(), "s1", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestCoordinator_Submit_ShouldSendUserMessageToProvider(t *testing.T) {
	provider := &scriptedProvider{}
	h := newHarness(t, provider, nil)

	events, err := h.coord.Submit(context.Background(), "s1", "wat is de tijd?")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	collect(t, events)

	if len(provider.lastHistory) != 1 {
		t.Fatalf("history len = %d, want 1", len(provider.lastHistory))
	}
	if provider.lastHistory[0].Content != "wat is de tijd?" {
		t.Errorf("history[0] = %+v", provider.lastHistory[0])
	}
}

func TestCoordinator_Submit_ShouldPrependSystemPrompt(t *testing.T) {
	provider := &scriptedProvider{}
	h := newHarness(t, provider, nil, WithSystemPrompt("you are a pi"))

	events, _ := h.coord.Submit(context.Background(), "s1", "hoi")
	collect(t, events)

	if len(provider.lastHistory) != 2 {
		t.Fatalf("history len = %d, want 2", len(provider.lastHistory))
	}
	first := provider.lastHistory[0]
	if first.Role != domain.RoleSystem || first.Content != "you are a pi" {
		t.Errorf("window[0] = %+v", first)
	}
}

func TestCoordinator_Submit_ShouldKeepHistoryAcrossTurns(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]domain.ResponseEvent{
		{{Text: "eerste"}, {Done: true}},
		{{Text: "tweede"}, {Done: true}},
	}}
	h := newHarness(t, provider, nil)

	events, _ := h.coord.Submit(context.Background(), "s1", "vraag een")
	collect(t, events)
	events, _ = h.coord.Submit(context.Background(), "s1", "vraag twee")
	collect(t, events)

	// user, assistant, user — the second turn's window carries the first turn.
	if len(provider.lastHistory) != 3 {
		t.Fatalf("history len = %d, want 3", len(provider.lastHistory))
	}
	if provider.lastHistory[1].Role != domain.RoleAssistant || provider.lastHistory[1].Content != "eerste" {
		t.Errorf("history[1] = %+v, coalesced assistant message missing", provider.lastHistory[1])
	}
}

func TestCoordinator_Submit_WhenProviderFailsToStart_ShouldEmitErr(t *testing.T) {
	provider := &scriptedProvider{startErr: fmt.Errorf("connection refused")}
	h := newHarness(t, provider, nil)

	events, err := h.coord.Submit(context.Background(), "s1", "hoi")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := collect(t, events)

	if len(got) != 1 || got[0].Err == nil {
		t.Fatalf("events = %+v, want single Err", got)
	}
}

func TestCoordinator_Submit_WhenStreamErrs_ShouldKeepPartialText(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]domain.ResponseEvent{
		{{Text: "gedeeltelijk"}, {Err: fmt.Errorf("stream cut")}},
		{{Done: true}},
	}}
	h := newHarness(t, provider, nil)

	events, _ := h.coord.Submit(context.Background(), "s1", "hoi")
	got := collect(t, events)

	if got[len(got)-1].Err == nil {
		t.Error("expected terminal Err event")
	}

	// The partial text must survive into the next turn's window.
	events, _ = h.coord.Submit(context.Background(), "s1", "nogmaals")
	collect(t, events)
	found := false
	for _, m := range provider.lastHistory {
		if m.Role == domain.RoleAssistant && m.Content == "gedeeltelijk" {
			found = true
		}
	}
	if !found {
		t.Error("partial assistant text was not kept in history")
	}
}

// =============================================================================
// Tool rounds
// =============================================================================

func TestCoordinator_Submit_ShouldRunToolAndResumeGeneration(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]domain.ResponseEvent{
		{
			{ToolCall: &domain.ToolCallRequest{ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{}`)}},
			{Done: true},
		},
		{{Text: "de temperatuur is 52 graden"}, {Done: true}},
	}}
	h := newHarness(t, provider, []tooling.SchemaTool{&echoTool{name: "echo", reply: "52.0°C"}})

	events, err := h.coord.Submit(context.Background(), "s1", "cpu temp?")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := collect(t, events)

	var sawCall, sawResult bool
	for _, ev := range got {
		if ev.ToolCall != nil {
			sawCall = true
		}
		if ev.ToolResult != nil {
			sawResult = true
			if !ev.ToolResult.Succeeded() {
				t.Errorf("tool result failed: %+v", ev.ToolResult.Failure)
			}
			if ev.ToolResult.Result.Data != "52.0°C" {
				t.Errorf("result data = %q", ev.ToolResult.Result.Data)
			}
		}
	}
	if !sawCall || !sawResult {
		t.Errorf("events missing tool call/result: call=%v result=%v", sawCall, sawResult)
	}
	if text := textOf(got); text != "de temperatuur is 52 graden" {
		t.Errorf("text = %q", text)
	}

	// The second round's window must contain the tool result message.
	var toolMsg *domain.Message
	for i := range provider.lastHistory {
		if provider.lastHistory[i].Role == domain.RoleTool {
			toolMsg = &provider.lastHistory[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("tool message missing from resumed history")
	}
	if toolMsg.ToolCallID != "call_1" || toolMsg.Content != "52.0°C" {
		t.Errorf("tool message = %+v", toolMsg)
	}
}

func TestCoordinator_Submit_WhenToolFails_ShouldFeedErrorBackInBand(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]domain.ResponseEvent{
		{
			{ToolCall: &domain.ToolCallRequest{ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{}`)}},
			{Done: true},
		},
		{{Text: "dat lukte niet"}, {Done: true}},
	}}
	h := newHarness(t, provider, []tooling.SchemaTool{&echoTool{name: "echo", err: fmt.Errorf("sensor offline")}})

	events, _ := h.coord.Submit(context.Background(), "s1", "cpu temp?")
	got := collect(t, events)

	// The turn still completes normally; the failure travels as a tool message.
	if !got[len(got)-1].Done {
		t.Errorf("last event = %+v, want Done", got[len(got)-1])
	}
	var toolMsg *domain.Message
	for i := range provider.lastHistory {
		if provider.lastHistory[i].Role == domain.RoleTool {
			toolMsg = &provider.lastHistory[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("tool message missing")
	}
	if !toolMsg.IsError {
		t.Error("tool message should be flagged as error")
	}
}

func TestCoordinator_Submit_WhenToolUnknown_ShouldStillResume(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]domain.ResponseEvent{
		{
			{ToolCall: &domain.ToolCallRequest{ID: "call_1", Name: "no_such_tool", Arguments: json.RawMessage(`{}`)}},
			{Done: true},
		},
		{{Text: "sorry"}, {Done: true}},
	}}
	h := newHarness(t, provider, nil)

	events, _ := h.coord.Submit(context.Background(), "s1", "doe iets")
	got := collect(t, events)

	var rec *domain.InvocationRecord
	for _, ev := range got {
		if ev.ToolResult != nil {
			rec = ev.ToolResult
		}
	}
	if rec == nil {
		t.Fatal("expected a tool result event")
	}
	if rec.Succeeded() || rec.Failure.Kind != domain.FailureNotFound {
		t.Errorf("failure = %+v, want not_found", rec.Failure)
	}
	if !got[len(got)-1].Done {
		t.Error("turn should complete despite the unknown tool")
	}
}

func TestCoordinator_Submit_WhenModelLoopsOnTools_ShouldStopAtRoundLimit(t *testing.T) {
	// Every round requests another tool call; the budget must cut this off.
	loop := []domain.ResponseEvent{
		{ToolCall: &domain.ToolCallRequest{ID: "c", Name: "echo", Arguments: json.RawMessage(`{}`)}},
		{Done: true},
	}
	provider := &scriptedProvider{scripts: [][]domain.ResponseEvent{loop, loop, loop, loop, loop}}
	h := newHarness(t, provider, []tooling.SchemaTool{&echoTool{name: "echo", reply: "ok"}},
		WithMaxToolRounds(3))

	events, _ := h.coord.Submit(context.Background(), "s1", "ga maar door")
	got := collect(t, events)

	last := got[len(got)-1]
	if !errors.Is(last.Err, ErrToolRoundLimit) {
		t.Errorf("last event = %+v, want ErrToolRoundLimit", last)
	}
	if provider.calls.Load() != 3 {
		t.Errorf("provider calls = %d, want 3", provider.calls.Load())
	}
}

// =============================================================================
// Cancellation
// =============================================================================

func TestCoordinator_Submit_WhenContextCanceled_ShouldAbandonStream(t *testing.T) {
	// An unbuffered blocking provider: the first Text is delivered, then the
	// stream hangs until the consumer goes away.
	blocked := make(chan struct{})
	provider := &blockingProvider{release: blocked}
	registry := tooling.NewRegistry()
	svc := llm.NewService()
	svc.Add(provider)
	coord := NewCoordinator(svc, dispatch.NewEngine(registry), registry)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := coord.Submit(ctx, "s1", "hoi")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Read the first delta, then cancel mid-stream.
	first := <-events
	if first.Text != "eerste" {
		t.Fatalf("first = %+v", first)
	}
	cancel()

	got := collect(t, events)
	if len(got) == 0 || got[len(got)-1].Err == nil {
		t.Fatalf("events = %+v, want terminal Err", got)
	}
	close(blocked)
}

// blockingProvider emits one Text then blocks until release is closed.
type blockingProvider struct {
	release chan struct{}
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Generate(ctx context.Context, history []domain.Message, tools []domain.ToolDefinition) (<-chan domain.ResponseEvent, error) {
	events := make(chan domain.ResponseEvent)
	go func() {
		defer close(events)
		events <- domain.ResponseEvent{Text: "eerste"}
		<-p.release
		events <- domain.ResponseEvent{Done: true}
	}()
	return events, nil
}

// =============================================================================
// Provider switching
// =============================================================================

func TestCoordinator_SetProvider_ShouldTakeEffectOnNextSubmit(t *testing.T) {
	a := &scriptedProvider{name: "alpha", scripts: [][]domain.ResponseEvent{{{Text: "van alpha"}, {Done: true}}}}
	b := &scriptedProvider{name: "beta", scripts: [][]domain.ResponseEvent{{{Text: "van beta"}, {Done: true}}}}
	registry := tooling.NewRegistry()
	svc := llm.NewService()
	svc.Add(a)
	svc.Add(b)
	coord := NewCoordinator(svc, dispatch.NewEngine(registry), registry)

	events, _ := coord.Submit(context.Background(), "s1", "een")
	collect(t, events)
	if a.calls.Load() != 1 {
		t.Fatalf("alpha calls = %d", a.calls.Load())
	}

	if err := coord.SetProvider("s1", "beta"); err != nil {
		t.Fatalf("SetProvider: %v", err)
	}
	if got := coord.ProviderName("s1"); got != "beta" {
		t.Errorf("ProviderName = %q", got)
	}

	events, _ = coord.Submit(context.Background(), "s1", "twee")
	collect(t, events)
	if b.calls.Load() != 1 {
		t.Errorf("beta calls = %d, switch did not take effect", b.calls.Load())
	}
	// The conversation history carries over to the new provider.
	if len(b.lastHistory) != 3 {
		t.Errorf("beta history len = %d, want 3", len(b.lastHistory))
	}
}

func TestCoordinator_SetProvider_ShouldRejectUnknownName(t *testing.T) {
	h := newHarness(t, &scriptedProvider{}, nil)
	if err := h.coord.SetProvider("s1", "gemini"); !errors.Is(err, llm.ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
}

// =============================================================================
// Persistence and reset
// =============================================================================

func TestCoordinator_Submit_ShouldPersistTurnToHistoryFile(t *testing.T) {
	dir := t.TempDir()
	provider := &scriptedProvider{scripts: [][]domain.ResponseEvent{{{Text: "bewaard"}, {Done: true}}}}
	h := newHarness(t, provider, nil, WithHistoryDir(dir))

	events, _ := h.coord.Submit(context.Background(), "s1", "schrijf op")
	collect(t, events)

	store := NewHistoryStore(filepath.Join(dir, "s1.jsonl"))
	msgs, err := store.LoadHistory(10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted = %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[1].Content != "bewaard" {
		t.Errorf("persisted messages = %+v", msgs)
	}
}

func TestCoordinator_Submit_ShouldRestoreHistoryAfterRestart(t *testing.T) {
	dir := t.TempDir()
	p1 := &scriptedProvider{scripts: [][]domain.ResponseEvent{{{Text: "antwoord"}, {Done: true}}}}
	h1 := newHarness(t, p1, nil, WithHistoryDir(dir))
	events, _ := h1.coord.Submit(context.Background(), "s1", "onthoud dit")
	collect(t, events)

	// A fresh coordinator simulates a process restart.
	p2 := &scriptedProvider{}
	h2 := newHarness(t, p2, nil, WithHistoryDir(dir))
	events, _ = h2.coord.Submit(context.Background(), "s1", "wat zei ik?")
	collect(t, events)

	if len(p2.lastHistory) != 3 {
		t.Fatalf("restored history len = %d, want 3", len(p2.lastHistory))
	}
	if p2.lastHistory[0].Content != "onthoud dit" {
		t.Errorf("restored[0] = %+v", p2.lastHistory[0])
	}
}

func TestCoordinator_Reset_ShouldClearMemoryAndFile(t *testing.T) {
	dir := t.TempDir()
	provider := &scriptedProvider{scripts: [][]domain.ResponseEvent{
		{{Text: "a"}, {Done: true}},
		{{Text: "b"}, {Done: true}},
	}}
	h := newHarness(t, provider, nil, WithHistoryDir(dir))

	events, _ := h.coord.Submit(context.Background(), "s1", "eerste")
	collect(t, events)

	if err := h.coord.Reset("s1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	events, _ = h.coord.Submit(context.Background(), "s1", "tweede")
	collect(t, events)

	// Only the new user message: the reset wiped the previous turn.
	if len(provider.lastHistory) != 1 {
		t.Errorf("history after reset = %d messages, want 1", len(provider.lastHistory))
	}
	store := NewHistoryStore(filepath.Join(dir, "s1.jsonl"))
	msgs, _ := store.LoadHistory(10)
	if len(msgs) != 2 {
		t.Errorf("file after reset holds %d messages, want 2", len(msgs))
	}
}

// =============================================================================
// Session isolation
// =============================================================================

func TestCoordinator_Submit_ShouldIsolateSessions(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]domain.ResponseEvent{
		{{Text: "een"}, {Done: true}},
		{{Text: "twee"}, {Done: true}},
	}}
	h := newHarness(t, provider, nil)

	events, _ := h.coord.Submit(context.Background(), "alice", "hallo")
	collect(t, events)
	events, _ = h.coord.Submit(context.Background(), "bob", "hoi")
	collect(t, events)

	// Bob's window must not contain Alice's conversation.
	if len(provider.lastHistory) != 1 {
		t.Errorf("bob history len = %d, want 1", len(provider.lastHistory))
	}
	if provider.lastHistory[0].Content != "hoi" {
		t.Errorf("bob history[0] = %+v", provider.lastHistory[0])
	}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hearth/internal/dispatch"
	"hearth/internal/domain"
	"hearth/internal/llm"
	"hearth/internal/tooling"
)

const (
	// defaultMaxToolRounds bounds provider round-trips within one turn. A model
	// that keeps requesting tools past this is cut off with ErrToolRoundLimit.
	defaultMaxToolRounds = 8

	// defaultHistoryLimit is how many persisted messages are restored on the
	// first Submit of a session after a restart.
	defaultHistoryLimit = 50
)

// ErrToolRoundLimit is emitted when a single turn exceeds the tool round budget.
var ErrToolRoundLimit = errors.New("session: tool round limit reached")

// ErrEmptyMessage is returned when Submit receives blank input.
var ErrEmptyMessage = errors.New("session: message must not be empty")

// Event is one unit of a turn's output stream. Text carries an assistant
// delta; ToolCall and ToolResult bracket one tool invocation; Done or Err
// terminates the stream, after which the channel is closed.
type Event struct {
	Text       string
	ToolCall   *domain.ToolCallRequest
	ToolResult *domain.InvocationRecord
	Done       bool
	Err        error
}

// Option is a functional option for configuring a Coordinator.
type Option func(*Coordinator)

// WithLogger sets a structured logger. If l is nil it is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSystemPrompt sets the system prompt prepended to every provider call.
func WithSystemPrompt(prompt string) Option {
	return func(c *Coordinator) { c.systemPrompt = prompt }
}

// WithContextManager enables token-window fitting before each provider call.
func WithContextManager(cm domain.ContextManager) Option {
	return func(c *Coordinator) { c.ctxManager = cm }
}

// WithHistoryDir enables JSONL persistence, one file per session under dir.
func WithHistoryDir(dir string) Option {
	return func(c *Coordinator) { c.historyDir = dir }
}

// WithMaxToolRounds overrides the per-turn tool round budget. Non-positive values are ignored.
func WithMaxToolRounds(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxToolRounds = n
		}
	}
}

// WithHistoryLimit overrides how many messages are restored per session.
func WithHistoryLimit(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.historyLimit = n
		}
	}
}

// Coordinator owns the conversation sessions. Each session holds an ordered
// message history and an effective provider selection; turns within a session
// are strictly serialized, while independent sessions run concurrently.
type Coordinator struct {
	providers *llm.Service
	engine    *dispatch.Engine
	registry  *tooling.Registry

	logger        *slog.Logger
	systemPrompt  string
	ctxManager    domain.ContextManager
	historyDir    string
	maxToolRounds int
	historyLimit  int

	// newMessageID is injectable for deterministic tests.
	newMessageID func() string

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState is one session's conversation. Its mutex serializes turns so
// concurrent Submits on the same session observe strict ordering.
type sessionState struct {
	mu       sync.Mutex
	id       string
	history  []domain.Message
	store    domain.SessionHistoryStore
	provider string // empty means the service default
}

// NewCoordinator creates a session coordinator. Panics if providers, engine,
// or registry is nil.
func NewCoordinator(providers *llm.Service, engine *dispatch.Engine, registry *tooling.Registry, opts ...Option) *Coordinator {
	if providers == nil {
		panic("session: provider service must not be nil")
	}
	if engine == nil {
		panic("session: dispatch engine must not be nil")
	}
	if registry == nil {
		panic("session: registry must not be nil")
	}
	c := &Coordinator{
		providers:     providers,
		engine:        engine,
		registry:      registry,
		maxToolRounds: defaultMaxToolRounds,
		historyLimit:  defaultHistoryLimit,
		newMessageID:  func() string { return uuid.NewString() },
		sessions:      make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// log returns the Coordinator's logger, falling back to the default slog logger.
func (c *Coordinator) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// session returns the state for id, creating it (and restoring persisted
// history) on first use.
func (c *Coordinator) session(id string) *sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.sessions[id]
	if ok {
		return st
	}
	st = &sessionState{id: id}
	if c.historyDir != "" {
		store := NewHistoryStore(filepath.Join(c.historyDir, id+".jsonl"))
		st.store = store
		restored, err := store.LoadHistory(c.historyLimit)
		if err != nil {
			c.log().Warn("history restore failed", "session", id, "error", err)
		} else if len(restored) > 0 {
			st.history = restored
			c.log().Info("history restored", "session", id, "messages", len(restored))
		}
	}
	c.sessions[id] = st
	return st
}

// SetProvider selects the provider used for the session's subsequent turns.
// The switch takes effect on the next Submit; an in-flight turn finishes on
// the provider it started with.
func (c *Coordinator) SetProvider(sessionID, name string) error {
	if _, err := c.providers.Get(name); err != nil {
		return err
	}
	st := c.session(sessionID)
	c.mu.Lock()
	st.provider = name
	c.mu.Unlock()
	c.log().Info("provider switched", "session", sessionID, "provider", name)
	return nil
}

// ProviderName returns the session's effective provider name.
func (c *Coordinator) ProviderName(sessionID string) string {
	st := c.session(sessionID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if st.provider != "" {
		return st.provider
	}
	return c.providers.DefaultName()
}

// Reset clears the session's conversation, in memory and on disk. It waits
// for any in-flight turn to finish first.
func (c *Coordinator) Reset(sessionID string) error {
	st := c.session(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.history = nil
	if r, ok := st.store.(interface{ Reset() error }); ok {
		return r.Reset()
	}
	return nil
}

// Submit runs one turn: the user text is appended to the session history and
// the provider's response is streamed on the returned channel, tool rounds
// included. Submit blocks while a previous turn on the same session is still
// running, so turns execute in submission order. Canceling ctx abandons the
// stream; text already received stays in the history.
func (c *Coordinator) Submit(ctx context.Context, sessionID, text string) (<-chan Event, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := c.session(sessionID)
	st.mu.Lock()

	c.append(st, domain.Message{
		ID:        c.newMessageID(),
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	})

	out := make(chan Event)
	go c.runTurn(ctx, st, out)
	return out, nil
}

// runTurn drives provider rounds until the model stops requesting tools.
// It owns the out channel and the session turn lock.
func (c *Coordinator) runTurn(ctx context.Context, st *sessionState, out chan<- Event) {
	defer st.mu.Unlock()
	defer close(out)

	provider, err := c.resolveProvider(st)
	if err != nil {
		out <- Event{Err: err}
		return
	}

	for round := 0; ; round++ {
		if round >= c.maxToolRounds {
			out <- Event{Err: ErrToolRoundLimit}
			return
		}

		window, err := c.window(st.history)
		if err != nil {
			out <- Event{Err: fmt.Errorf("context window: %w", err)}
			return
		}

		events, err := provider.Generate(ctx, window, c.registry.Definitions())
		if err != nil {
			out <- Event{Err: fmt.Errorf("provider %s: %w", provider.Name(), err)}
			return
		}

		text, calls, streamErr, canceled := c.consume(ctx, events, out)
		c.appendAssistant(st, text, calls)
		if canceled {
			out <- Event{Err: ctx.Err()}
			return
		}
		if streamErr != nil {
			out <- Event{Err: streamErr}
			return
		}
		if len(calls) == 0 {
			out <- Event{Done: true}
			return
		}

		for i := range calls {
			call := calls[i]
			rec := c.engine.Invoke(ctx, call.Name, call.Arguments)
			c.append(st, domain.Message{
				ID:         c.newMessageID(),
				Role:       domain.RoleTool,
				Content:    rec.ResultText(),
				Timestamp:  time.Now(),
				ToolCallID: call.ID,
				ToolName:   call.Name,
				IsError:    !rec.Succeeded(),
			})
			out <- Event{ToolResult: rec}
		}
	}
}

// consume reads one provider stream to completion, forwarding deltas and
// collecting tool calls. On context cancellation it stops early, leaving a
// drainer so the provider goroutine can finish.
func (c *Coordinator) consume(ctx context.Context, events <-chan domain.ResponseEvent, out chan<- Event) (text string, calls []domain.ToolCallRequest, streamErr error, canceled bool) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			go func() {
				for range events {
				}
			}()
			return b.String(), calls, nil, true
		case ev, ok := <-events:
			if !ok {
				return b.String(), calls, streamErr, false
			}
			switch {
			case ev.Err != nil:
				streamErr = ev.Err
			case ev.ToolCall != nil:
				calls = append(calls, *ev.ToolCall)
				out <- Event{ToolCall: ev.ToolCall}
			case ev.Text != "":
				b.WriteString(ev.Text)
				out <- Event{Text: ev.Text}
			}
		}
	}
}

// appendAssistant coalesces one round's streamed output into a single
// assistant message. Empty rounds append nothing.
func (c *Coordinator) appendAssistant(st *sessionState, text string, calls []domain.ToolCallRequest) {
	if text == "" && len(calls) == 0 {
		return
	}
	c.append(st, domain.Message{
		ID:        c.newMessageID(),
		Role:      domain.RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
		ToolCalls: calls,
	})
}

// append adds a message to the in-memory history and persists it best-effort.
func (c *Coordinator) append(st *sessionState, msg domain.Message) {
	st.history = append(st.history, msg)
	if st.store == nil {
		return
	}
	if err := st.store.Append(msg); err != nil {
		c.log().Warn("history append failed", "session", st.id, "error", err)
	}
}

// resolveProvider returns the session's provider, falling back to the default.
func (c *Coordinator) resolveProvider(st *sessionState) (domain.Provider, error) {
	c.mu.Lock()
	name := st.provider
	c.mu.Unlock()
	if name == "" {
		return c.providers.Default()
	}
	return c.providers.Get(name)
}

// window fits the history into the token budget and prepends the system prompt.
func (c *Coordinator) window(history []domain.Message) ([]domain.Message, error) {
	msgs := history
	if c.ctxManager != nil {
		fitted, err := c.ctxManager.FitToWindow(history, c.systemPrompt)
		if err != nil {
			return nil, err
		}
		msgs = fitted
	}
	if c.systemPrompt == "" {
		return msgs, nil
	}
	window := make([]domain.Message, 0, len(msgs)+1)
	window = append(window, domain.Message{Role: domain.RoleSystem, Content: c.systemPrompt})
	return append(window, msgs...), nil
}

package domain

import "context"

// Provider is the model-agnostic interface over one AI backend.
// Generate sends the conversation and the advertised tool set and returns a
// finite event stream: zero or more Text/ToolCall events terminated by a
// single Done or Err event, after which the channel is closed. Each call
// produces a fresh stream; providers hold no session state, so switching
// providers between calls needs no migration.
//
// Implementations must be safe for concurrent use by independent sessions.
type Provider interface {
	// Name returns the provider identifier used in configuration and
	// provider-switch commands (e.g. "openai", "ollama").
	Name() string

	// Generate streams a response for the given history. An error return
	// means the stream could not be started at all (e.g. request marshal
	// failure); errors after the first byte arrive as an Err event.
	Generate(ctx context.Context, history []Message, tools []ToolDefinition) (<-chan ResponseEvent, error)
}

// SessionHistoryStore persists session messages to a JSONL file and supports
// loading the last N messages to restore context on restart.
type SessionHistoryStore interface {
	// Append serializes a Message to JSON and appends it as a single line to the history file.
	Append(msg Message) error

	// LoadHistory reads the last n messages from the history file.
	// Returns empty slice when the file does not exist or n <= 0.
	LoadHistory(n int) ([]Message, error)
}

// Tokenizer counts tokens in a string for context window management.
type Tokenizer interface {
	// CountTokens returns the number of tokens in the given text.
	CountTokens(text string) (int, error)
}

// ContextManager fits messages into a model's context window.
type ContextManager interface {
	// FitToWindow takes messages and a system prompt, and returns messages
	// that fit within the configured token limit. The system prompt tokens
	// are always reserved. Older messages are dropped first (sliding window).
	FitToWindow(messages []Message, systemPrompt string) ([]Message, error)
}

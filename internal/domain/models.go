package domain

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Core Configuration
// =============================================================================

type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Providers ProvidersConfig `json:"providers"`
	Modules   ModulesConfig   `json:"modules"`
	Context   ContextConfig   `json:"context"`
	Infra     InfraConfig     `json:"infra"`
	Retry     RetryConfig     `json:"retry"`
	Schedule  []ScheduleConfig `json:"schedule,omitempty"`
}

type GatewayConfig struct {
	Port int        `json:"port"`
	Auth AuthConfig `json:"auth"`
}

type AuthConfig struct {
	// AuthToken, when set, makes the gateway require Authorization: Bearer <token>.
	AuthToken string `json:"authToken,omitempty"`
}

// ProvidersConfig selects the default AI backend and configures each adapter.
type ProvidersConfig struct {
	Default string       `json:"default"` // "openai" | "ollama" | "local"
	OpenAI  OpenAIConfig `json:"openai"`
	Ollama  OllamaConfig `json:"ollama"`
}

type OpenAIConfig struct {
	Model   string `json:"model"`
	BaseURL string `json:"baseUrl,omitempty"` // empty means api.openai.com
}

type OllamaConfig struct {
	Host  string `json:"host"` // e.g. "http://localhost:11434"
	Model string `json:"model"`
}

// ModulesConfig configures the capability modules.
type ModulesConfig struct {
	DataDir   string   `json:"dataDir"`   // module-owned storage (vocabulary db, snapshots)
	FilesRoot string   `json:"filesRoot"` // sandbox root for the files module
	SeedVocab string   `json:"seedVocab,omitempty"` // YAML seed file for the dutch module
	Disabled  []string `json:"disabled,omitempty"`  // module ids to skip at startup
}

// ContextConfig bounds the token window sent to a provider.
type ContextConfig struct {
	MaxTokens int    `json:"maxTokens"`
	Encoding  string `json:"encoding"` // tiktoken encoding name, e.g. "cl100k_base"
}

type InfraConfig struct {
	LogFormat string `json:"logFormat"` // "json" | "text"
	LogLevel  string `json:"logLevel"`
}

// RetryConfig controls retry behaviour for provider round-trips.
type RetryConfig struct {
	MaxRetries     int `json:"maxRetries"`     // Maximum retry attempts (0 = no retries)
	InitialBackoff int `json:"initialBackoff"` // Initial backoff in milliseconds
	MaxBackoff     int `json:"maxBackoff"`     // Maximum backoff in milliseconds
	Multiplier     int `json:"multiplier"`     // Backoff multiplier (e.g. 2 for exponential doubling)
}

// ScheduleConfig describes a cron job that injects a system event into a session.
type ScheduleConfig struct {
	ID       string `json:"id"`
	CronExpr string `json:"cron"`
	Prompt   string `json:"prompt"`
}

// =============================================================================
// Messaging
// =============================================================================

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Message is the canonical conversation message. Assistant messages may carry
// ToolCalls; RoleTool messages answer one call (ToolCallID) with its result.
type Message struct {
	ID        string      `json:"id,omitempty"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitempty"`

	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolName   string            `json:"tool_name,omitempty"`
	IsError    bool              `json:"is_error,omitempty"`
}

// ToolCallRequest is a backend's request to invoke one tool.
type ToolCallRequest struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ResponseEvent is one unit of a generation stream. Exactly one of Text,
// ToolCall, Done, or Err is meaningful per event; the stream terminates after
// Done or Err and the channel is closed.
type ResponseEvent struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *ToolCallRequest `json:"tool_call,omitempty"`
	Done     bool             `json:"done,omitempty"`
	Err      error            `json:"-"`
}

// =============================================================================
// Tooling
// =============================================================================

// ToolDefinition is the public metadata advertised to an AI backend.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolResult is the normalized success value of a tool invocation.
// Data is the text fed back to the model; Metadata and Artifacts carry
// structured extras (e.g. a snapshot file path) for the transport layer.
type ToolResult struct {
	Data      string            `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Artifacts []string          `json:"artifacts,omitempty"`
}

// =============================================================================
// Dispatch outcomes
// =============================================================================

// FailureKind classifies a structured failure. Faults never cross a component
// boundary as anything other than one of these kinds.
type FailureKind string

const (
	FailureNotFound         FailureKind = "not_found"
	FailureInvalidArguments FailureKind = "invalid_arguments"
	FailureHandlerError     FailureKind = "handler_error"
	FailureTimeout          FailureKind = "timeout"
	FailureProviderError    FailureKind = "provider_error"
	FailureConfiguration    FailureKind = "configuration"
)

// Failure is a structured failure outcome.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Field   string      `json:"field,omitempty"` // offending field for invalid_arguments
	Message string      `json:"message"`
}

func (f *Failure) Error() string { return string(f.Kind) + ": " + f.Message }

// InvocationRecord captures one dispatch: what was called, with what, and how
// it ended. Records exist for observability; they are not conversation state.
type InvocationRecord struct {
	CorrelationID string          `json:"correlation_id"`
	Tool          string          `json:"tool"`
	Arguments     json.RawMessage `json:"arguments"`
	StartedAt     time.Time       `json:"started_at"`
	Duration      time.Duration   `json:"duration"`
	Result        *ToolResult     `json:"result,omitempty"`
	Failure       *Failure        `json:"failure,omitempty"`
}

// Succeeded reports whether the invocation produced a result.
func (r *InvocationRecord) Succeeded() bool { return r.Failure == nil }

// ResultText returns the text fed back into the model: the result data on
// success, or a short failure description the model can react to in-band.
func (r *InvocationRecord) ResultText() string {
	if r.Failure != nil {
		return "tool error (" + string(r.Failure.Kind) + "): " + r.Failure.Message
	}
	if r.Result == nil {
		return ""
	}
	return r.Result.Data
}

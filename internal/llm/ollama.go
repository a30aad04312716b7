package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"hearth/internal/domain"
)

// JSONMarshaller interface for testing
type JSONMarshaller interface {
	Marshal(v interface{}) ([]byte, error)
}

// defaultMarshaller uses json.Marshal
type defaultMarshaller struct{}

func (m *defaultMarshaller) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// OllamaProvider streams chat completions from a local Ollama daemon
// (newline-delimited JSON on /api/chat).
type OllamaProvider struct {
	host       string
	model      string
	client     *http.Client
	marshaller JSONMarshaller
}

// NewOllamaProvider returns an Ollama-backed streaming Provider.
// host defaults to the local daemon when empty.
func NewOllamaProvider(host, model string) *OllamaProvider {
	if host == "" {
		host = "http://localhost:11434"
	}
	return &OllamaProvider{
		host:       strings.TrimRight(host, "/"),
		model:      model,
		client:     &http.Client{},
		marshaller: &defaultMarshaller{},
	}
}

// Name implements domain.Provider.
func (p *OllamaProvider) Name() string { return "ollama" }

// ---------------------------------------------------------------------------
// Wire types

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

// ollamaToolCall carries arguments as a JSON object, not a string.
type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

// ollamaChunk is one NDJSON line of a streaming chat response.
type ollamaChunk struct {
	Message struct {
		Content   string           `json:"content"`
		ToolCalls []ollamaToolCall `json:"tool_calls"`
	} `json:"message"`
	Done bool `json:"done"`
}

// ---------------------------------------------------------------------------

// toOllamaMessages converts canonical history to the Ollama wire shape.
// Ollama has no tool_call_id; tool results are plain role "tool" messages.
func toOllamaMessages(history []domain.Message) []ollamaMessage {
	msgs := make([]ollamaMessage, 0, len(history))
	for _, m := range history {
		om := ollamaMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
		for _, tc := range m.ToolCalls {
			var otc ollamaToolCall
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		msgs = append(msgs, om)
	}
	return msgs
}

func toOllamaTools(tools []domain.ToolDefinition) []ollamaTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]ollamaTool, 0, len(tools))
	for _, td := range tools {
		var ot ollamaTool
		ot.Type = "function"
		ot.Function.Name = td.Name
		ot.Function.Description = td.Description
		ot.Function.Parameters = td.InputSchema
		out = append(out, ot)
	}
	return out
}

// Generate implements domain.Provider. Ollama ends its stream after emitting
// tool calls, so a turn with tools resumes by re-invoking Generate with the
// tool results appended to history.
func (p *OllamaProvider) Generate(ctx context.Context, history []domain.Message, tools []domain.ToolDefinition) (<-chan domain.ResponseEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body := ollamaChatRequest{
		Model:    p.model,
		Messages: toOllamaMessages(history),
		Stream:   true,
		Tools:    toOllamaTools(tools),
	}
	raw, err := p.marshaller.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama do: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama api: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	events := make(chan domain.ResponseEvent)
	go p.stream(resp.Body, events)
	return events, nil
}

// stream decodes NDJSON chunks and forwards events. Tool-call ids are
// synthesized since Ollama does not assign them.
func (p *OllamaProvider) stream(body io.ReadCloser, events chan<- domain.ResponseEvent) {
	defer close(events)
	defer body.Close()

	dec := json.NewDecoder(body)
	callSeq := 0
	for {
		var chunk ollamaChunk
		if err := dec.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			events <- domain.ResponseEvent{Err: fmt.Errorf("ollama stream: %w", err)}
			return
		}

		if chunk.Message.Content != "" {
			events <- domain.ResponseEvent{Text: chunk.Message.Content}
		}
		for _, tc := range chunk.Message.ToolCalls {
			callSeq++
			args := tc.Function.Arguments
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			events <- domain.ResponseEvent{ToolCall: &domain.ToolCallRequest{
				ID:        fmt.Sprintf("call_%d", callSeq),
				Name:      tc.Function.Name,
				Arguments: args,
			}}
		}

		if chunk.Done {
			break
		}
	}

	events <- domain.ResponseEvent{Done: true}
}

var _ domain.Provider = (*OllamaProvider)(nil)

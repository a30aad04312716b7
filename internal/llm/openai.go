package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"hearth/internal/domain"
)

// OpenAIProvider streams chat completions from the OpenAI API (SSE).
type OpenAIProvider struct {
	apiKey      string
	model       string
	client      *http.Client
	baseURL     string
	marshalFunc func(v interface{}) ([]byte, error) // for testing
}

// NewOpenAIProvider returns an OpenAI-backed streaming Provider.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:      apiKey,
		model:       model,
		client:      &http.Client{},
		baseURL:     "https://api.openai.com/v1/chat/completions",
		marshalFunc: json.Marshal,
	}
}

// Name implements domain.Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// ---------------------------------------------------------------------------
// Wire types

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []openAITool    `json:"tools,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string            `json:"type"`
	Function openAIToolFuncDef `json:"function"`
}

type openAIToolFuncDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// openAIChunk is one SSE data payload of a streaming completion.
type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// ---------------------------------------------------------------------------

// toOpenAIMessages converts canonical history to the OpenAI wire shape.
func toOpenAIMessages(history []domain.Message) []openAIMessage {
	msgs := make([]openAIMessage, 0, len(history))
	for _, m := range history {
		om := openAIMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunction{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		msgs = append(msgs, om)
	}
	return msgs
}

// toOpenAITools converts tool definitions to the function-calling wire shape.
func toOpenAITools(tools []domain.ToolDefinition) []openAITool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openAITool, 0, len(tools))
	for _, td := range tools {
		out = append(out, openAITool{
			Type: "function",
			Function: openAIToolFuncDef{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.InputSchema,
			},
		})
	}
	return out
}

// Generate implements domain.Provider. The returned channel carries Text
// deltas as they arrive; tool calls are accumulated across chunks (the API
// fragments arguments over many deltas) and emitted complete.
func (p *OpenAIProvider) Generate(ctx context.Context, history []domain.Message, tools []domain.ToolDefinition) (<-chan domain.ResponseEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body := openAIRequest{
		Model:    p.model,
		Messages: toOpenAIMessages(history),
		Stream:   true,
		Tools:    toOpenAITools(tools),
	}
	raw, err := p.marshalFunc(body)
	if err != nil {
		return nil, fmt.Errorf("openai marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai do: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("openai api: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	events := make(chan domain.ResponseEvent)
	go p.stream(resp.Body, events)
	return events, nil
}

// pendingCall accumulates one tool call's fragments by stream index.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// stream reads SSE lines from body and forwards events. It owns the channel
// and the response body.
func (p *OpenAIProvider) stream(body io.ReadCloser, events chan<- domain.ResponseEvent) {
	defer close(events)
	defer body.Close()

	pending := make(map[int]*pendingCall)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk openAIChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Skip malformed keep-alive noise, as the upstream does.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			events <- domain.ResponseEvent{Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			pc, ok := pending[tc.Index]
			if !ok {
				pc = &pendingCall{}
				pending[tc.Index] = pc
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason == "tool_calls" {
			flushPending(pending, events)
			pending = make(map[int]*pendingCall)
		}
	}

	if err := scanner.Err(); err != nil {
		events <- domain.ResponseEvent{Err: fmt.Errorf("openai stream: %w", err)}
		return
	}

	// A stream that ends without an explicit tool_calls finish still flushes
	// whatever accumulated.
	flushPending(pending, events)
	events <- domain.ResponseEvent{Done: true}
}

// flushPending emits accumulated tool calls in stream-index order.
func flushPending(pending map[int]*pendingCall, events chan<- domain.ResponseEvent) {
	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		pc := pending[idx]
		args := pc.args.String()
		if args == "" {
			args = "{}"
		}
		events <- domain.ResponseEvent{ToolCall: &domain.ToolCallRequest{
			ID:        pc.id,
			Name:      pc.name,
			Arguments: json.RawMessage(args),
		}}
	}
}

var _ domain.Provider = (*OpenAIProvider)(nil)

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"hearth/internal/domain"
)

// failMarshaller always fails, for exercising the marshal error path.
type failMarshaller struct{}

func (m *failMarshaller) Marshal(v interface{}) ([]byte, error) {
	return nil, fmt.Errorf("forced marshal failure")
}

// ndjsonServer returns a test server that writes the given JSON lines to /api/chat.
func ndjsonServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}))
}

func TestOllamaProvider_Name_ShouldBeOllama(t *testing.T) {
	if got := NewOllamaProvider("", "llama3.2").Name(); got != "ollama" {
		t.Errorf("Name = %q", got)
	}
}

func TestNewOllamaProvider_ShouldDefaultHostAndTrimSlash(t *testing.T) {
	if p := NewOllamaProvider("", "m"); p.host != "http://localhost:11434" {
		t.Errorf("default host = %q", p.host)
	}
	if p := NewOllamaProvider("http://pi.local:11434/", "m"); p.host != "http://pi.local:11434" {
		t.Errorf("trimmed host = %q", p.host)
	}
}

func TestOllamaProvider_Generate_ShouldStreamContentChunks(t *testing.T) {
	srv := ndjsonServer(t,
		`{"message":{"content":"Goede"},"done":false}`,
		`{"message":{"content":"morgen"},"done":false}`,
		`{"message":{"content":""},"done":true}`,
	)
	defer srv.Close()

	events, err := NewOllamaProvider(srv.URL, "llama3.2").Generate(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	got := drain(t, events)

	var text string
	for _, ev := range got {
		text += ev.Text
	}
	if text != "Goedemorgen" {
		t.Errorf("text = %q", text)
	}
	if !got[len(got)-1].Done {
		t.Error("Stream must terminate with a Done event")
	}
}

func TestOllamaProvider_Generate_ShouldSynthesizeToolCallIDs(t *testing.T) {
	srv := ndjsonServer(t,
		`{"message":{"tool_calls":[{"function":{"name":"get_cpu_temp","arguments":{}}},{"function":{"name":"dutch_vocabulary_search","arguments":{"query":"fiets"}}}]},"done":true}`,
	)
	defer srv.Close()

	events, err := NewOllamaProvider(srv.URL, "llama3.2").Generate(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var calls []*domain.ToolCallRequest
	for ev := range events {
		if ev.ToolCall != nil {
			calls = append(calls, ev.ToolCall)
		}
	}
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	if calls[0].ID != "call_1" || calls[1].ID != "call_2" {
		t.Errorf("ids = %q, %q — expected synthesized sequence", calls[0].ID, calls[1].ID)
	}
	if calls[1].Name != "dutch_vocabulary_search" {
		t.Errorf("second call name = %q", calls[1].Name)
	}
	if string(calls[1].Arguments) != `{"query":"fiets"}` {
		t.Errorf("Arguments = %s", calls[1].Arguments)
	}
}

func TestOllamaProvider_Generate_ShouldFailBeforeStreamOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "nope").Generate(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("Expected pre-stream error for 404")
	}
}

func TestOllamaProvider_Generate_ShouldFailOnMarshalError(t *testing.T) {
	p := NewOllamaProvider("http://unused", "m")
	p.marshaller = &failMarshaller{}

	if _, err := p.Generate(context.Background(), nil, nil); err == nil {
		t.Error("Expected marshal error")
	}
}

func TestOllamaProvider_Generate_ShouldSendHistoryOnWire(t *testing.T) {
	var captured ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprintln(w, `{"message":{"content":"ok"},"done":true}`)
	}))
	defer srv.Close()

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "hoe heet je?"},
	}
	tools := []domain.ToolDefinition{
		{Name: "get_system_info", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}
	events, err := NewOllamaProvider(srv.URL, "llama3.2").Generate(context.Background(), history, tools)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	drain(t, events)

	if captured.Model != "llama3.2" || !captured.Stream {
		t.Errorf("request = %+v", captured)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Content != "hoe heet je?" {
		t.Errorf("Messages = %+v", captured.Messages)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Function.Name != "get_system_info" {
		t.Errorf("Tools = %+v", captured.Tools)
	}
}

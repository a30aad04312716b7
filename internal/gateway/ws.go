package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hearth/internal/session"
)

// Chat is the interface the WS handler drives turns through. Implemented by
// session.Coordinator.
type Chat interface {
	Submit(ctx context.Context, sessionID, text string) (<-chan session.Event, error)
	SetProvider(sessionID, name string) error
	ProviderName(sessionID string) string
	Reset(sessionID string) error
}

// clientFrame is one JSON message from the client.
// Examples:
//
//	{"type": "chat", "content": "how warm is the cpu?"}
//	{"type": "set_provider", "provider": "ollama"}
//	{"type": "reset"}
type clientFrame struct {
	Type     string `json:"type"`
	Content  string `json:"content,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// serverFrame is one JSON message to the client. Type is one of chat_start,
// chat_chunk, tool_call, tool_result, chat_complete, provider_set, reset_done,
// or error.
type serverFrame struct {
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Artifacts []string        `json:"artifacts,omitempty"`
}

// jsonMarshal is used when encoding server frames; tests may replace it to force
// Marshal errors. Access is protected by jsonMarshalMu for race-safe test swaps.
var (
	jsonMarshalMu sync.RWMutex
	jsonMarshal   = json.Marshal
)

// Default upgrader for WebSocket connections.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// newSessionID is injectable for deterministic tests.
var newSessionID = func() string { return uuid.NewString() }

// handleWS upgrades the request to WebSocket and runs the read loop. Each
// connection owns one conversation session; its turns stream back as frames
// on the same connection. Writes are serialized with a mutex because a turn
// goroutine and the read loop may both write. Disconnecting cancels the
// connection context, which abandons any in-flight turn. Only GET is accepted
// for the handshake.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Chat == nil {
		http.Error(w, "chat unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log().Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionID := newSessionID()
	s.log().Info("ws session opened", "session", sessionID)

	var writeMu sync.Mutex
	var turns sync.WaitGroup
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var in clientFrame
		if err := json.Unmarshal(raw, &in); err != nil {
			writeFrame(conn, &writeMu, &serverFrame{Type: "error", Content: "invalid JSON"})
			continue
		}

		switch in.Type {
		case "chat":
			events, err := s.deps.Chat.Submit(ctx, sessionID, in.Content)
			if err != nil {
				writeFrame(conn, &writeMu, &serverFrame{Type: "error", Content: err.Error()})
				continue
			}
			writeFrame(conn, &writeMu, &serverFrame{Type: "chat_start"})
			turns.Add(1)
			go func() {
				defer turns.Done()
				streamTurn(conn, &writeMu, events)
			}()

		case "set_provider":
			if err := s.deps.Chat.SetProvider(sessionID, in.Provider); err != nil {
				writeFrame(conn, &writeMu, &serverFrame{Type: "error", Content: err.Error()})
				continue
			}
			writeFrame(conn, &writeMu, &serverFrame{Type: "provider_set", Provider: in.Provider})

		case "reset":
			if err := s.deps.Chat.Reset(sessionID); err != nil {
				writeFrame(conn, &writeMu, &serverFrame{Type: "error", Content: err.Error()})
				continue
			}
			writeFrame(conn, &writeMu, &serverFrame{Type: "reset_done"})

		default:
			writeFrame(conn, &writeMu, &serverFrame{Type: "error", Content: "unknown message type: " + in.Type})
		}
	}

	cancel()
	turns.Wait()
	s.log().Info("ws session closed", "session", sessionID)
}

// streamTurn forwards one turn's events as frames until the stream closes.
func streamTurn(conn *websocket.Conn, writeMu *sync.Mutex, events <-chan session.Event) {
	for ev := range events {
		switch {
		case ev.Err != nil:
			writeFrame(conn, writeMu, &serverFrame{Type: "error", Content: ev.Err.Error()})
		case ev.Done:
			writeFrame(conn, writeMu, &serverFrame{Type: "chat_complete"})
		case ev.ToolCall != nil:
			writeFrame(conn, writeMu, &serverFrame{
				Type:      "tool_call",
				Tool:      ev.ToolCall.Name,
				CallID:    ev.ToolCall.ID,
				Arguments: ev.ToolCall.Arguments,
			})
		case ev.ToolResult != nil:
			frame := &serverFrame{
				Type:    "tool_result",
				Tool:    ev.ToolResult.Tool,
				Content: ev.ToolResult.ResultText(),
				IsError: !ev.ToolResult.Succeeded(),
			}
			if ev.ToolResult.Result != nil {
				frame.Artifacts = ev.ToolResult.Result.Artifacts
			}
			writeFrame(conn, writeMu, frame)
		case ev.Text != "":
			writeFrame(conn, writeMu, &serverFrame{Type: "chat_chunk", Content: ev.Text})
		}
	}
}

func writeFrame(conn *websocket.Conn, mu *sync.Mutex, msg *serverFrame) {
	jsonMarshalMu.RLock()
	marshal := jsonMarshal
	jsonMarshalMu.RUnlock()
	data, err := marshal(msg)
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

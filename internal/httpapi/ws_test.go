package httpapi

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/protocol"
)

func dialWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s error = %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readServerMessage(t *testing.T, conn *websocket.Conn) (protocol.MessageType, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env.Type, data
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
}

func TestChatWSRoundTrip(t *testing.T) {
	ts := newTestServer(t, "ws")
	conn := dialWS(t, ts.URL)

	writeJSON(t, conn, protocol.ChatMessage{
		Type:           protocol.TypeChatMessage,
		UserID:         "user-1",
		ConversationID: "conv-1",
		Text:           "I started learning the tabla.",
		TSMs:           time.Now().UnixMilli(),
	})

	msgType, data := readServerMessage(t, conn)
	if msgType != protocol.TypeChatResponse {
		t.Fatalf("message type = %q, want chat_response (payload %s)", msgType, data)
	}
	var res protocol.ChatResponse
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("unmarshal chat_response: %v", err)
	}
	if res.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", res.Sequence)
	}
	if res.Reply == "" {
		t.Fatalf("empty reply in %+v", res)
	}
	if res.Route != "direct" {
		t.Fatalf("route = %q, want direct", res.Route)
	}

	writeJSON(t, conn, protocol.ChatMessage{
		Type:           protocol.TypeChatMessage,
		UserID:         "user-1",
		ConversationID: "conv-1",
		Text:           "do you remember what I started learning?",
	})
	msgType, data = readServerMessage(t, conn)
	if msgType != protocol.TypeChatResponse {
		t.Fatalf("message type = %q, want chat_response", msgType)
	}
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("unmarshal chat_response: %v", err)
	}
	if res.Route != "memory" {
		t.Fatalf("route = %q, want memory", res.Route)
	}
	if !strings.Contains(res.Reply, "tabla") {
		t.Fatalf("reply = %q, want earlier turn recalled", res.Reply)
	}
	if res.Sequence != 3 {
		t.Fatalf("sequence = %d, want 3", res.Sequence)
	}
}

func TestChatWSControlPingAndLogout(t *testing.T) {
	ts := newTestServer(t, "wscontrol")
	conn := dialWS(t, ts.URL)

	writeJSON(t, conn, protocol.ChatMessage{
		Type:           protocol.TypeChatMessage,
		UserID:         "user-1",
		ConversationID: "conv-1",
		Text:           "hold this thought",
	})
	if msgType, _ := readServerMessage(t, conn); msgType != protocol.TypeChatResponse {
		t.Fatalf("message type = %q, want chat_response", msgType)
	}

	writeJSON(t, conn, protocol.ClientControl{
		Type:   protocol.TypeClientControl,
		UserID: "user-1",
		Action: "ping",
	})
	msgType, data := readServerMessage(t, conn)
	if msgType != protocol.TypeSystemEvent {
		t.Fatalf("message type = %q, want system_event", msgType)
	}
	var evt protocol.SystemEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal system_event: %v", err)
	}
	if evt.Code != "pong" {
		t.Fatalf("code = %q, want pong", evt.Code)
	}

	writeJSON(t, conn, protocol.ClientControl{
		Type:   protocol.TypeClientControl,
		UserID: "user-1",
		Action: "logout",
	})
	msgType, data = readServerMessage(t, conn)
	if msgType != protocol.TypeSystemEvent {
		t.Fatalf("message type = %q, want system_event (payload %s)", msgType, data)
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal system_event: %v", err)
	}
	if evt.Code != "session_ended" {
		t.Fatalf("code = %q, want session_ended", evt.Code)
	}
	if !strings.Contains(evt.Detail, "flushed_through=2") {
		t.Fatalf("detail = %q, want flushed_through=2", evt.Detail)
	}
}

func TestChatWSRejectsMalformedMessage(t *testing.T) {
	ts := newTestServer(t, "wsmalformed")
	conn := dialWS(t, ts.URL)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat_message"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	msgType, data := readServerMessage(t, conn)
	if msgType != protocol.TypeErrorEvent {
		t.Fatalf("message type = %q, want error_event", msgType)
	}
	var evt protocol.ErrorEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal error_event: %v", err)
	}
	if evt.Code != "invalid_client_message" {
		t.Fatalf("code = %q, want invalid_client_message", evt.Code)
	}
	if evt.Retryable {
		t.Fatalf("malformed message marked retryable")
	}
}

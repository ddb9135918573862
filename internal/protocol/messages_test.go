package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageChat(t *testing.T) {
	raw := []byte(`{"type":"chat_message","user_id":"u1","conversation_id":"c1","text":"hello","ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	chat, ok := msg.(ChatMessage)
	if !ok {
		t.Fatalf("message type = %T, want ChatMessage", msg)
	}
	if chat.UserID != "u1" || chat.ConversationID != "c1" || chat.Text != "hello" {
		t.Fatalf("unexpected chat message: %+v", chat)
	}
	if chat.TSMs != 123 {
		t.Fatalf("TSMs = %d, want %d", chat.TSMs, 123)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","user_id":"u1","action":"logout","reason":"tab_closed"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.UserID != "u1" || control.Action != "logout" {
		t.Fatalf("unexpected client control: %+v", control)
	}
	if control.Reason != "tab_closed" {
		t.Fatalf("Reason = %q, want %q", control.Reason, "tab_closed")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsIncompleteChat(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"chat_message","user_id":"u1","text":""}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func BenchmarkParseClientMessageChat(b *testing.B) {
	raw := []byte(`{"type":"chat_message","user_id":"u1","conversation_id":"c1","text":"what did we talk about yesterday","ts_ms":123456}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ChatMessage); !ok {
			b.Fatalf("message type = %T, want ChatMessage", msg)
		}
	}
}

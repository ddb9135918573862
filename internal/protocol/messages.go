package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatMessage   MessageType = "chat_message"
	TypeClientControl MessageType = "client_control"
	TypeChatResponse  MessageType = "chat_response"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatMessage is one user turn sent over the socket.
type ChatMessage struct {
	Type           MessageType `json:"type"`
	UserID         string      `json:"user_id"`
	ConversationID string      `json:"conversation_id"`
	Text           string      `json:"text"`
	TSMs           int64       `json:"ts_ms"`
}

// ClientControl carries non-turn commands: "logout" ends the session and
// flushes memory, "ping" just proves liveness.
type ClientControl struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"user_id"`
	Action string      `json:"action"`
	Reason string      `json:"reason,omitempty"`
}

// ChatResponse is the agent's reply plus where it came from.
type ChatResponse struct {
	Type           MessageType `json:"type"`
	UserID         string      `json:"user_id"`
	ConversationID string      `json:"conversation_id"`
	Sequence       int64       `json:"sequence"`
	Reply          string      `json:"reply"`
	Route          string      `json:"route"`
	Sources        []string    `json:"sources,omitempty"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"user_id"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	UserID    string      `json:"user_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.UserID == "" || msg.ConversationID == "" || msg.Text == "" {
			return nil, errors.New("invalid chat_message")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.UserID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

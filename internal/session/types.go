package session

import "time"

// LoginRequest defines the payload for opening a session.
type LoginRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

// LoginResponse returns the hydrated session metadata.
type LoginResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	ConversationID  string    `json:"conversation_id"`
	Status          Status    `json:"status"`
	HydratedFrom    string    `json:"hydrated_from,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}

// LogoutRequest defines the payload for closing a session.
type LogoutRequest struct {
	UserID string `json:"user_id"`
}

// LogoutResponse reports what the flush persisted.
type LogoutResponse struct {
	SessionID      string `json:"session_id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Status         Status `json:"status"`
	FlushedThrough int64  `json:"flushed_through"`
}

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrSequenceConflict reports a duplicate (conversation, sequence) append.
// Under correct per-conversation serialization this never fires; seeing it
// means two writers raced past the ledger lock.
var ErrSequenceConflict = errors.New("sequence conflict")

// ErrStoreUnavailable reports that the durable tier cannot be reached.
// Requests that need the ledger fail rather than risk losing a turn.
var ErrStoreUnavailable = errors.New("store unavailable")

// TurnRecord is the ledger row for one conversational turn.
type TurnRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Sequence       int64     `json:"sequence"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	PIIRedacted    bool      `json:"pii_redacted"`
	CreatedAt      time.Time `json:"created_at"`
}

// WindowSnapshot is the durable copy of one conversation's short-term
// window state. Document holds the serialized state; SummaryThrough and
// UpdatedAt are duplicated out of it so hydration can compare freshness
// without decoding.
type WindowSnapshot struct {
	ConversationID string
	UserID         string
	Document       []byte
	SummaryThrough int64
	UpdatedAt      time.Time
}

// KeyPointSnapshot is the durable copy of a key-point set for one scope key
// (a user id, or a conversation id when scoped per conversation).
type KeyPointSnapshot struct {
	ScopeKey  string
	Document  []byte
	Through   int64
	UpdatedAt time.Time
}

// Durable is the persistent tier: the append-only turn ledger plus
// idempotent snapshot upserts. Adapters hold no lifecycle logic.
type Durable interface {
	AppendTurn(ctx context.Context, rec TurnRecord) error
	LastSequence(ctx context.Context, conversationID string) (int64, error)
	TurnsInRange(ctx context.Context, conversationID string, from, to int64) ([]TurnRecord, error)
	LatestTurns(ctx context.Context, conversationID string, limit int) ([]TurnRecord, error)
	TurnsByUser(ctx context.Context, userID string, offset, limit int) ([]TurnRecord, error)

	UpsertWindow(ctx context.Context, snap WindowSnapshot) error
	GetWindow(ctx context.Context, conversationID string) (WindowSnapshot, error)
	UpsertKeyPoints(ctx context.Context, snap KeyPointSnapshot) error
	GetKeyPoints(ctx context.Context, scopeKey string) (KeyPointSnapshot, error)

	Ping(ctx context.Context) error
	Close() error
}

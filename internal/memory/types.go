package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/store"
)

// Turn is one immutable user/agent exchange, as persisted in the ledger.
type Turn = store.TurnRecord

const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// ErrWindowNotHydrated reports that a conversation's window is absent from
// the cache tier. The caller rebuilds it from the durable tier and retries.
var ErrWindowNotHydrated = errors.New("window not hydrated")

// WindowState is the cache-resident short-term memory for one conversation:
// the most recent turns verbatim plus the rolling summary of everything
// older. SummaryThrough is the sequence number of the last turn the summary
// has absorbed.
type WindowState struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Recent         []Turn    `json:"recent"`
	Summary        string    `json:"summary"`
	SummaryThrough int64     `json:"summary_through"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LastSequence is the highest sequence the window has observed, whether the
// turn still sits in Recent or has been folded away.
func (s WindowState) LastSequence() int64 {
	if n := len(s.Recent); n > 0 {
		return s.Recent[n-1].Sequence
	}
	return s.SummaryThrough
}

// KeyPointSet is the small durable fact set derived periodically from a
// wider turn span. Replaced atomically; never patched in place.
type KeyPointSet struct {
	ScopeKey  string    `json:"scope_key"`
	Points    []string  `json:"points"`
	Through   int64     `json:"through"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TurnContext is what the agent needs for prompt assembly after an append.
type TurnContext struct {
	Sequence  int64    `json:"sequence"`
	Recent    []Turn   `json:"recent"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
	Route     string   `json:"route"`
}

// MemoryAnswer is the result of a memory search. Found reports whether the
// tiers held anything usable; callers fall through to web search when not.
type MemoryAnswer struct {
	Found     bool     `json:"found"`
	Context   string   `json:"context"`
	Recent    []Turn   `json:"recent"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// lockTable hands out one mutex per key so operations on the same
// conversation or user serialize while distinct keys proceed in parallel.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

func (t *lockTable) acquire(key string) *sync.Mutex {
	t.mu.Lock()
	m, ok := t.locks[key]
	if !ok {
		m = &sync.Mutex{}
		t.locks[key] = m
	}
	t.mu.Unlock()
	m.Lock()
	return m
}

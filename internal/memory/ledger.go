package memory

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/observability"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/store"
)

// Ledger is the append-only record of turns for every conversation, backed
// by the durable tier. It owns sequence assignment: sequences are strictly
// increasing per conversation with no gaps, and the write is durable before
// Append returns.
type Ledger struct {
	durable store.Durable
	locks   *lockTable
	metrics *observability.Metrics

	mu      sync.Mutex
	lastSeq map[string]int64
}

func NewLedger(durable store.Durable, metrics *observability.Metrics) *Ledger {
	return &Ledger{
		durable: durable,
		locks:   newLockTable(),
		metrics: metrics,
		lastSeq: make(map[string]int64),
	}
}

// Append assigns the next sequence number and persists the turn. The write
// is synchronous: a durable-tier failure fails the append and no sequence is
// consumed. Appends for one conversation serialize; distinct conversations
// proceed in parallel.
func (l *Ledger) Append(ctx context.Context, turn Turn) (Turn, error) {
	if turn.ConversationID == "" || turn.UserID == "" {
		return Turn{}, fmt.Errorf("append turn: conversation and user ids are required")
	}

	m := l.locks.acquire(turn.ConversationID)
	defer m.Unlock()

	last, err := l.lastSequenceLocked(ctx, turn.ConversationID)
	if err != nil {
		return Turn{}, err
	}

	turn.Sequence = last + 1
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	if err := l.durable.AppendTurn(ctx, turn); err != nil {
		return Turn{}, fmt.Errorf("append turn: %w", err)
	}

	l.mu.Lock()
	l.lastSeq[turn.ConversationID] = turn.Sequence
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.TurnAppends.WithLabelValues(turn.Role).Inc()
	}
	return turn, nil
}

// lastSequenceLocked resolves the current head sequence, consulting the
// durable tier once per conversation and caching afterwards. Caller holds
// the conversation lock.
func (l *Ledger) lastSequenceLocked(ctx context.Context, conversationID string) (int64, error) {
	l.mu.Lock()
	last, ok := l.lastSeq[conversationID]
	l.mu.Unlock()
	if ok {
		return last, nil
	}

	last, err := l.durable.LastSequence(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("resolve head sequence: %w", err)
	}
	l.mu.Lock()
	l.lastSeq[conversationID] = last
	l.mu.Unlock()
	return last, nil
}

// Head returns the highest assigned sequence for a conversation, 0 when the
// conversation has no turns.
func (l *Ledger) Head(ctx context.Context, conversationID string) (int64, error) {
	m := l.locks.acquire(conversationID)
	defer m.Unlock()
	return l.lastSequenceLocked(ctx, conversationID)
}

// Range returns turns with from <= sequence <= to in ascending order.
func (l *Ledger) Range(ctx context.Context, conversationID string, from, to int64) ([]Turn, error) {
	return l.durable.TurnsInRange(ctx, conversationID, from, to)
}

// After returns every turn with a sequence greater than seq.
func (l *Ledger) After(ctx context.Context, conversationID string, seq int64) ([]Turn, error) {
	return l.durable.TurnsInRange(ctx, conversationID, seq+1, math.MaxInt64)
}

// Latest returns up to limit most recent turns in chronological order.
func (l *Ledger) Latest(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	return l.durable.LatestTurns(ctx, conversationID, limit)
}

// HistoryPage returns a newest-first page of a user's turns across
// conversations.
func (l *Ledger) HistoryPage(ctx context.Context, userID string, offset, limit int) ([]Turn, error) {
	return l.durable.TurnsByUser(ctx, userID, offset, limit)
}

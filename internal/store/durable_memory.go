package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDurable is an in-process durable tier for local/dev use. It enforces
// the same (conversation, sequence) uniqueness the Postgres schema does.
type MemoryDurable struct {
	mu        sync.RWMutex
	turns     map[string][]TurnRecord // conversation id -> ordered by sequence
	windows   map[string]WindowSnapshot
	keypoints map[string]KeyPointSnapshot
}

func NewMemoryDurable() *MemoryDurable {
	return &MemoryDurable{
		turns:     make(map[string][]TurnRecord),
		windows:   make(map[string]WindowSnapshot),
		keypoints: make(map[string]KeyPointSnapshot),
	}
}

func (s *MemoryDurable) AppendTurn(_ context.Context, rec TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.turns[rec.ConversationID] {
		if existing.Sequence == rec.Sequence {
			return fmt.Errorf("%w: conversation %s sequence %d", ErrSequenceConflict, rec.ConversationID, rec.Sequence)
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	arr := append(s.turns[rec.ConversationID], rec)
	sort.Slice(arr, func(i, j int) bool { return arr[i].Sequence < arr[j].Sequence })
	s.turns[rec.ConversationID] = arr
	return nil
}

func (s *MemoryDurable) LastSequence(_ context.Context, conversationID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[conversationID]
	if len(arr) == 0 {
		return 0, nil
	}
	return arr[len(arr)-1].Sequence, nil
}

func (s *MemoryDurable) TurnsInRange(_ context.Context, conversationID string, from, to int64) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TurnRecord, 0, 8)
	for _, rec := range s.turns[conversationID] {
		if rec.Sequence >= from && rec.Sequence <= to {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryDurable) LatestTurns(_ context.Context, conversationID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[conversationID]
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *MemoryDurable) TurnsByUser(_ context.Context, userID string, offset, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	all := make([]TurnRecord, 0, 32)
	for _, arr := range s.turns {
		for _, rec := range arr {
			if rec.UserID == userID {
				all = append(all, rec)
			}
		}
	}
	// Newest first, matching the Postgres adapter's pagination order.
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Sequence > all[j].Sequence
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > len(all) {
		limit = len(all)
	}
	out := make([]TurnRecord, limit)
	copy(out, all[:limit])
	return out, nil
}

func (s *MemoryDurable) UpsertWindow(_ context.Context, snap WindowSnapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	doc := make([]byte, len(snap.Document))
	copy(doc, snap.Document)
	snap.Document = doc
	s.mu.Lock()
	s.windows[snap.ConversationID] = snap
	s.mu.Unlock()
	return nil
}

func (s *MemoryDurable) GetWindow(_ context.Context, conversationID string) (WindowSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.windows[conversationID]
	if !ok {
		return WindowSnapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *MemoryDurable) UpsertKeyPoints(_ context.Context, snap KeyPointSnapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	doc := make([]byte, len(snap.Document))
	copy(doc, snap.Document)
	snap.Document = doc
	s.mu.Lock()
	s.keypoints[snap.ScopeKey] = snap
	s.mu.Unlock()
	return nil
}

func (s *MemoryDurable) GetKeyPoints(_ context.Context, scopeKey string) (KeyPointSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.keypoints[scopeKey]
	if !ok {
		return KeyPointSnapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *MemoryDurable) Ping(context.Context) error { return nil }

func (s *MemoryDurable) Close() error { return nil }

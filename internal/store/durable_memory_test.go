package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryDurableAppendRejectsDuplicateSequence(t *testing.T) {
	s := NewMemoryDurable()
	ctx := context.Background()

	rec := TurnRecord{ConversationID: "c1", UserID: "u1", Sequence: 1, Role: "user", Content: "hello"}
	if err := s.AppendTurn(ctx, rec); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	err := s.AppendTurn(ctx, rec)
	if !errors.Is(err, ErrSequenceConflict) {
		t.Fatalf("AppendTurn() duplicate error = %v, want ErrSequenceConflict", err)
	}
}

func TestMemoryDurableLastSequence(t *testing.T) {
	s := NewMemoryDurable()
	ctx := context.Background()

	last, err := s.LastSequence(ctx, "c1")
	if err != nil || last != 0 {
		t.Fatalf("LastSequence() = %d, %v, want 0, nil", last, err)
	}

	for seq := int64(1); seq <= 3; seq++ {
		if err := s.AppendTurn(ctx, TurnRecord{ConversationID: "c1", UserID: "u1", Sequence: seq, Role: "user", Content: "x"}); err != nil {
			t.Fatalf("AppendTurn(%d) error = %v", seq, err)
		}
	}
	last, err = s.LastSequence(ctx, "c1")
	if err != nil || last != 3 {
		t.Fatalf("LastSequence() = %d, %v, want 3, nil", last, err)
	}
}

func TestMemoryDurableTurnsInRange(t *testing.T) {
	s := NewMemoryDurable()
	ctx := context.Background()

	for seq := int64(1); seq <= 5; seq++ {
		if err := s.AppendTurn(ctx, TurnRecord{ConversationID: "c1", UserID: "u1", Sequence: seq, Role: "user", Content: "x"}); err != nil {
			t.Fatalf("AppendTurn(%d) error = %v", seq, err)
		}
	}

	turns, err := s.TurnsInRange(ctx, "c1", 2, 4)
	if err != nil {
		t.Fatalf("TurnsInRange() error = %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("TurnsInRange() len = %d, want 3", len(turns))
	}
	for i, want := range []int64{2, 3, 4} {
		if turns[i].Sequence != want {
			t.Fatalf("TurnsInRange()[%d].Sequence = %d, want %d", i, turns[i].Sequence, want)
		}
	}
}

func TestMemoryDurableWindowSnapshotUpsertIsIdempotent(t *testing.T) {
	s := NewMemoryDurable()
	ctx := context.Background()

	snap := WindowSnapshot{
		ConversationID: "c1",
		UserID:         "u1",
		Document:       []byte(`{"summary":"s"}`),
		SummaryThrough: 4,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := s.UpsertWindow(ctx, snap); err != nil {
		t.Fatalf("UpsertWindow() error = %v", err)
	}
	if err := s.UpsertWindow(ctx, snap); err != nil {
		t.Fatalf("UpsertWindow() repeat error = %v", err)
	}

	got, err := s.GetWindow(ctx, "c1")
	if err != nil {
		t.Fatalf("GetWindow() error = %v", err)
	}
	if got.SummaryThrough != 4 || string(got.Document) != `{"summary":"s"}` {
		t.Fatalf("GetWindow() = %+v, want stored snapshot", got)
	}

	if _, err := s.GetWindow(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetWindow(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryDurableKeyPointSnapshotRoundTrip(t *testing.T) {
	s := NewMemoryDurable()
	ctx := context.Background()

	snap := KeyPointSnapshot{ScopeKey: "u1", Document: []byte(`["a","b"]`), Through: 8}
	if err := s.UpsertKeyPoints(ctx, snap); err != nil {
		t.Fatalf("UpsertKeyPoints() error = %v", err)
	}
	got, err := s.GetKeyPoints(ctx, "u1")
	if err != nil {
		t.Fatalf("GetKeyPoints() error = %v", err)
	}
	if got.Through != 8 || string(got.Document) != `["a","b"]` {
		t.Fatalf("GetKeyPoints() = %+v, want stored snapshot", got)
	}
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get() after expiry error = %v, want ErrCacheMiss", err)
	}
}

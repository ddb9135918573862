package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/observability"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/store"
)

var drainFoldTimeout = 30 * time.Second

// Folder folds an evicted turn into a conversation's rolling summary.
type Folder interface {
	Fold(ctx context.Context, conversationID, summary string, evicted Turn) (string, error)
}

// WindowConfig sizes the short-term window.
type WindowConfig struct {
	Capacity        int
	CacheTTL        time.Duration
	AsyncCompaction bool
}

// Window owns the cache-resident short-term state of every conversation.
// Appends evict the oldest turn once capacity is exceeded and hand it to the
// folder in sequence order; in async mode a per-conversation FIFO queue and
// worker preserve that order off the request path.
type Window struct {
	cache   store.Cache
	durable store.Durable
	ledger  *Ledger
	folder  Folder
	cfg     WindowConfig
	locks   *lockTable
	metrics *observability.Metrics

	qmu    sync.Mutex
	qcond  *sync.Cond
	queues map[string]*convQueue
	closed bool
	wg     sync.WaitGroup
}

type convQueue struct {
	items   []Turn
	busy    bool
	stopped bool
}

func NewWindow(cache store.Cache, durable store.Durable, ledger *Ledger, folder Folder, cfg WindowConfig, metrics *observability.Metrics) *Window {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 4
	}
	w := &Window{
		cache:   cache,
		durable: durable,
		ledger:  ledger,
		folder:  folder,
		cfg:     cfg,
		locks:   newLockTable(),
		metrics: metrics,
		queues:  make(map[string]*convQueue),
	}
	w.qcond = sync.NewCond(&w.qmu)
	return w
}

// Append inserts a turn into the conversation's window, evicting and folding
// overflow. The returned state reflects the append. Cache-tier failures are
// absorbed: the turn is already durable in the ledger, so the window is
// reconstructed from the durable tier and the request carries on.
func (w *Window) Append(ctx context.Context, turn Turn) (WindowState, error) {
	m := w.locks.acquire(turn.ConversationID)
	defer m.Unlock()

	state, err := w.load(ctx, turn.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrCacheUnavailable) {
			if w.metrics != nil {
				w.metrics.CacheDegradations.WithLabelValues("window_get").Inc()
			}
			state, err = w.rebuildLocked(ctx, turn.ConversationID, false)
			if err != nil {
				return WindowState{}, err
			}
		} else {
			return WindowState{}, err
		}
	}
	return w.appendLocked(ctx, state, turn)
}

func (w *Window) appendLocked(ctx context.Context, state WindowState, turn Turn) (WindowState, error) {
	// Redelivery after a rebuild already replayed this turn; keep it a no-op.
	if turn.Sequence <= state.LastSequence() {
		return state, nil
	}

	state.Recent = append(state.Recent, turn)
	for len(state.Recent) > w.cfg.Capacity {
		evicted := state.Recent[0]
		state.Recent = state.Recent[1:]
		state.SummaryThrough = evicted.Sequence
		if w.metrics != nil {
			w.metrics.WindowEvictions.Inc()
		}

		if w.cfg.AsyncCompaction {
			w.enqueue(state.ConversationID, evicted)
			continue
		}
		summary, err := w.folder.Fold(ctx, state.ConversationID, state.Summary, evicted)
		if err != nil {
			// The folder keeps the turn pending; the next fold drains it.
			log.Printf("window: fold deferred for conversation %s seq %d: %v", state.ConversationID, evicted.Sequence, err)
			continue
		}
		state.Summary = summary
	}

	if err := w.save(ctx, &state); err != nil {
		return WindowState{}, err
	}
	return state, nil
}

// ReadContext returns the window state for prompt assembly. A cache miss
// yields ErrWindowNotHydrated; a cache outage degrades to a durable-tier
// reconstruction without touching the cache.
func (w *Window) ReadContext(ctx context.Context, conversationID string) (WindowState, error) {
	state, err := w.load(ctx, conversationID)
	if err == nil {
		return state, nil
	}
	if errors.Is(err, store.ErrCacheUnavailable) {
		if w.metrics != nil {
			w.metrics.CacheDegradations.WithLabelValues("window_get").Inc()
		}
		m := w.locks.acquire(conversationID)
		defer m.Unlock()
		return w.rebuildLocked(ctx, conversationID, false)
	}
	return WindowState{}, err
}

// Put installs a hydrated state into the cache tier.
func (w *Window) Put(ctx context.Context, state WindowState) error {
	m := w.locks.acquire(state.ConversationID)
	defer m.Unlock()
	return w.save(ctx, &state)
}

// Evict removes the conversation's window from the cache tier.
func (w *Window) Evict(ctx context.Context, conversationID string) error {
	m := w.locks.acquire(conversationID)
	defer m.Unlock()
	if err := w.cache.Delete(ctx, store.WindowKey(conversationID)); err != nil {
		return fmt.Errorf("evict window: %w", err)
	}
	return nil
}

// Rebuild reconstructs the window from the durable snapshot plus a ledger
// replay of everything newer, then re-installs it in the cache. This is the
// recovery path after cache-tier data loss and the creation path for brand
// new conversations.
func (w *Window) Rebuild(ctx context.Context, conversationID string) (WindowState, error) {
	m := w.locks.acquire(conversationID)
	defer m.Unlock()
	return w.rebuildLocked(ctx, conversationID, true)
}

func (w *Window) rebuildLocked(ctx context.Context, conversationID string, writeCache bool) (WindowState, error) {
	state := WindowState{ConversationID: conversationID}

	snap, err := w.durable.GetWindow(ctx, conversationID)
	switch {
	case err == nil:
		decoded, derr := DecodeWindowSnapshot(snap)
		if derr != nil {
			log.Printf("window: discarding undecodable snapshot for conversation %s: %v", conversationID, derr)
		} else {
			state = decoded
		}
	case errors.Is(err, store.ErrNotFound):
		// First contact for this conversation.
	default:
		return WindowState{}, fmt.Errorf("rebuild window: %w", err)
	}

	replay, err := w.ledger.After(ctx, conversationID, state.LastSequence())
	if err != nil {
		return WindowState{}, fmt.Errorf("rebuild window: %w", err)
	}
	for _, turn := range replay {
		if state.UserID == "" {
			state.UserID = turn.UserID
		}
		state.Recent = append(state.Recent, turn)
		for len(state.Recent) > w.cfg.Capacity {
			evicted := state.Recent[0]
			state.Recent = state.Recent[1:]
			state.SummaryThrough = evicted.Sequence
			summary, ferr := w.folder.Fold(ctx, conversationID, state.Summary, evicted)
			if ferr != nil {
				return WindowState{}, fmt.Errorf("rebuild window: %w", ferr)
			}
			state.Summary = summary
		}
	}

	if writeCache {
		if err := w.save(ctx, &state); err != nil {
			return WindowState{}, err
		}
	} else {
		state.UpdatedAt = time.Now().UTC()
	}
	return state, nil
}

func (w *Window) load(ctx context.Context, conversationID string) (WindowState, error) {
	data, err := w.cache.Get(ctx, store.WindowKey(conversationID))
	if err != nil {
		if errors.Is(err, store.ErrCacheMiss) {
			return WindowState{}, ErrWindowNotHydrated
		}
		return WindowState{}, err
	}
	var state WindowState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Printf("window: discarding corrupt cache entry for conversation %s: %v", conversationID, err)
		return WindowState{}, ErrWindowNotHydrated
	}
	return state, nil
}

func (w *Window) save(ctx context.Context, state *WindowState) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode window state: %w", err)
	}
	if err := w.cache.Set(ctx, store.WindowKey(state.ConversationID), data, w.cfg.CacheTTL); err != nil {
		if w.metrics != nil {
			w.metrics.CacheDegradations.WithLabelValues("window_set").Inc()
		}
		log.Printf("window: cache write degraded for conversation %s: %v", state.ConversationID, err)
	}
	return nil
}

// enqueue hands an evicted turn to the conversation's compaction worker,
// creating the worker on first use. The queue is unbounded so the append
// path never folds out of order under backpressure.
func (w *Window) enqueue(conversationID string, turn Turn) {
	w.qmu.Lock()
	q, ok := w.queues[conversationID]
	if !ok {
		q = &convQueue{stopped: w.closed}
		w.queues[conversationID] = q
		w.wg.Add(1)
		go w.worker(conversationID)
	}
	q.items = append(q.items, turn)
	w.qcond.Broadcast()
	w.qmu.Unlock()
}

func (w *Window) worker(conversationID string) {
	defer w.wg.Done()
	w.qmu.Lock()
	q := w.queues[conversationID]
	for {
		for len(q.items) == 0 && !q.stopped {
			w.qcond.Wait()
		}
		if len(q.items) == 0 {
			w.qcond.Broadcast()
			w.qmu.Unlock()
			return
		}
		turn := q.items[0]
		q.items = q.items[1:]
		q.busy = true
		w.qmu.Unlock()

		w.foldInto(conversationID, turn)

		w.qmu.Lock()
		q.busy = false
		w.qcond.Broadcast()
	}
}

func (w *Window) foldInto(conversationID string, turn Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), drainFoldTimeout)
	defer cancel()

	m := w.locks.acquire(conversationID)
	defer m.Unlock()

	state, err := w.load(ctx, conversationID)
	if err != nil {
		// Window gone from the cache. The ledger still holds the turn and
		// the durable snapshot predates it, so a later rebuild re-covers it.
		log.Printf("window: skipping queued fold for conversation %s seq %d: %v", conversationID, turn.Sequence, err)
		return
	}
	summary, err := w.folder.Fold(ctx, conversationID, state.Summary, turn)
	if err != nil {
		log.Printf("window: queued fold deferred for conversation %s seq %d: %v", conversationID, turn.Sequence, err)
		return
	}
	state.Summary = summary
	_ = w.save(ctx, &state)
}

// Flush drains pending compaction, persists the window state as a durable
// snapshot, and evicts the cache entry. It returns the highest sequence the
// snapshot covers. An already-cold window flushes nothing: the ledger holds
// every turn, so there is no loss to record.
func (w *Window) Flush(ctx context.Context, conversationID string) (int64, error) {
	w.DrainCompaction(conversationID)

	m := w.locks.acquire(conversationID)
	defer m.Unlock()

	state, err := w.load(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrWindowNotHydrated) {
			return 0, nil
		}
		if errors.Is(err, store.ErrCacheUnavailable) {
			if w.metrics != nil {
				w.metrics.CacheDegradations.WithLabelValues("window_get").Inc()
			}
			log.Printf("window: flush skipped for conversation %s, cache unavailable: %v", conversationID, err)
			return 0, nil
		}
		return 0, err
	}

	snap, err := EncodeWindowSnapshot(state)
	if err != nil {
		return 0, err
	}
	if err := w.durable.UpsertWindow(ctx, snap); err != nil {
		return 0, fmt.Errorf("flush window: %w", err)
	}
	if err := w.cache.Delete(ctx, store.WindowKey(conversationID)); err != nil {
		if w.metrics != nil {
			w.metrics.CacheDegradations.WithLabelValues("window_delete").Inc()
		}
		log.Printf("window: cache eviction degraded for conversation %s: %v", conversationID, err)
	}
	return state.LastSequence(), nil
}

// DrainCompaction blocks until every queued fold for the conversation has
// completed. Flush calls it so the snapshot written to the durable tier
// includes all evicted turns.
func (w *Window) DrainCompaction(conversationID string) {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	q, ok := w.queues[conversationID]
	if !ok {
		return
	}
	for len(q.items) > 0 || q.busy {
		w.qcond.Wait()
	}
}

// Close stops the compaction workers after draining their queues.
func (w *Window) Close() {
	w.qmu.Lock()
	w.closed = true
	for _, q := range w.queues {
		q.stopped = true
	}
	w.qcond.Broadcast()
	w.qmu.Unlock()
	w.wg.Wait()
}

// EncodeWindowSnapshot serializes a window state for the durable tier.
func EncodeWindowSnapshot(state WindowState) (store.WindowSnapshot, error) {
	doc, err := json.Marshal(state)
	if err != nil {
		return store.WindowSnapshot{}, fmt.Errorf("encode window snapshot: %w", err)
	}
	return store.WindowSnapshot{
		ConversationID: state.ConversationID,
		UserID:         state.UserID,
		Document:       doc,
		SummaryThrough: state.SummaryThrough,
		UpdatedAt:      state.UpdatedAt,
	}, nil
}

// DecodeWindowSnapshot restores a window state from its durable form.
func DecodeWindowSnapshot(snap store.WindowSnapshot) (WindowState, error) {
	var state WindowState
	if err := json.Unmarshal(snap.Document, &state); err != nil {
		return WindowState{}, fmt.Errorf("decode window snapshot: %w", err)
	}
	return state, nil
}

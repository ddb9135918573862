package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/memory"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/observability"
	"github.com/kaushikRajGhimire/ShramAI-Memory-Assignment/internal/store"
)

type Status string

const (
	StatusHydrating Status = "hydrating"
	StatusActive    Status = "active"
	StatusFlushing  Status = "flushing"
	StatusEnded     Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// Session tracks one user's lifecycle over a conversation. A user not in
// the manager is cold; login hydrates the window and activates, logout
// flushes it back to the durable tier and ends.
type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Status         Status    `json:"status"`
	HydratedFrom   string    `json:"hydrated_from,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Config tunes the lifecycle manager. A RecordTTL above zero turns on
// stateless mode: session records live in the cache tier with that TTL and
// survive a process restart.
type Config struct {
	InactivityTimeout time.Duration
	RecordTTL         time.Duration
}

// Manager owns session state transitions. Lifecycle operations for one user
// serialize on a per-user lock; different users proceed in parallel.
type Manager struct {
	ledger    *memory.Ledger
	window    *memory.Window
	extractor *memory.Extractor
	cache     store.Cache
	cfg       Config
	metrics   *observability.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
	locks    *userLocks
}

func NewManager(ledger *memory.Ledger, window *memory.Window, extractor *memory.Extractor, cache store.Cache, cfg Config, metrics *observability.Metrics) *Manager {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		ledger:    ledger,
		window:    window,
		extractor: extractor,
		cache:     cache,
		cfg:       cfg,
		metrics:   metrics,
		sessions:  make(map[string]*Session),
		locks:     newUserLocks(),
	}
}

// Login opens a session for the user. The window is hydrated before the
// session goes active: if the cache tier already holds the conversation at
// the ledger head it is kept, otherwise the window is rebuilt from the
// durable tier. A repeat login for the same conversation is an idempotent
// touch; a login for a different conversation flushes the old one first.
func (m *Manager) Login(ctx context.Context, userID, conversationID string) (*Session, error) {
	if userID == "" || conversationID == "" {
		return nil, fmt.Errorf("login: user and conversation ids are required")
	}
	lock := m.locks.acquire(userID)
	defer lock.Unlock()

	m.mu.Lock()
	if s, ok := m.sessions[userID]; ok {
		if s.Status == StatusActive && s.ConversationID == conversationID {
			s.LastActivityAt = time.Now().UTC()
			out := *s
			m.mu.Unlock()
			m.storeRecord(ctx, &out)
			return &out, nil
		}
		old := *s
		m.mu.Unlock()
		if _, err := m.flushUserLocked(ctx, &old); err != nil {
			log.Printf("session: flush of previous conversation %s failed for user %s: %v", old.ConversationID, userID, err)
		}
		m.mu.Lock()
		delete(m.sessions, userID)
	}
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Status:         StatusHydrating,
		StartedAt:      now,
		LastActivityAt: now,
	}
	m.sessions[userID] = s
	m.mu.Unlock()

	start := time.Now()
	source, err := m.hydrate(ctx, conversationID)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, userID)
		m.mu.Unlock()
		return nil, fmt.Errorf("hydrate session: %w", err)
	}
	m.metrics.ObserveStage("hydrate", time.Since(start))
	if m.metrics != nil {
		m.metrics.Hydrations.WithLabelValues(source).Inc()
		m.metrics.SessionEvents.WithLabelValues("login").Inc()
	}

	m.mu.Lock()
	s.Status = StatusActive
	s.HydratedFrom = source
	out := *s
	m.mu.Unlock()

	m.updateActiveGauge()
	m.storeRecord(ctx, &out)
	return &out, nil
}

// hydrate decides which tier is fresher. The cache wins only when it has
// everything the ledger has; otherwise the durable snapshot plus a ledger
// replay rebuilds the window, which also covers a cache restored from stale
// persistence.
func (m *Manager) hydrate(ctx context.Context, conversationID string) (string, error) {
	head, err := m.ledger.Head(ctx, conversationID)
	if err != nil {
		return "", err
	}
	state, err := m.window.ReadContext(ctx, conversationID)
	if err == nil && state.LastSequence() >= head {
		return "cache", nil
	}
	if err != nil && !errors.Is(err, memory.ErrWindowNotHydrated) {
		return "", err
	}
	if _, err := m.window.Rebuild(ctx, conversationID); err != nil {
		return "", err
	}
	return "durable", nil
}

// Logout flushes the user's window to the durable tier and ends the
// session. A flush failure keeps the session active so it can be retried;
// logging out a user with no session is ErrNotFound.
func (m *Manager) Logout(ctx context.Context, userID string) (*LogoutResponse, error) {
	lock := m.locks.acquire(userID)
	defer lock.Unlock()

	m.mu.Lock()
	s, ok := m.sessions[userID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	snapshot := *s
	m.mu.Unlock()

	through, err := m.flushUserLocked(ctx, &snapshot)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
	m.deleteRecord(ctx, userID)
	if m.metrics != nil {
		m.metrics.SessionEvents.WithLabelValues("logout").Inc()
	}
	m.updateActiveGauge()

	return &LogoutResponse{
		SessionID:      snapshot.ID,
		UserID:         userID,
		ConversationID: snapshot.ConversationID,
		Status:         StatusEnded,
		FlushedThrough: through,
	}, nil
}

// flushUserLocked persists the window and runs a final key-point extraction.
// Caller holds the user lock.
func (m *Manager) flushUserLocked(ctx context.Context, s *Session) (int64, error) {
	m.setStatus(s.UserID, StatusFlushing)
	start := time.Now()

	through, err := m.window.Flush(ctx, s.ConversationID)
	if err != nil {
		m.setStatus(s.UserID, StatusActive)
		return 0, fmt.Errorf("flush session: %w", err)
	}
	// No-op when per-turn extraction already covered the head; in session
	// span mode this is the one extraction the session gets.
	if _, err := m.extractor.ForceExtract(ctx, s.UserID, s.ConversationID); err != nil {
		log.Printf("session: flush-time extraction failed for user %s: %v", s.UserID, err)
	}

	if m.metrics != nil {
		m.metrics.Flushes.Inc()
	}
	m.metrics.ObserveStage("flush", time.Since(start))
	return through, nil
}

func (m *Manager) setStatus(userID string, status Status) {
	m.mu.Lock()
	if s, ok := m.sessions[userID]; ok {
		s.Status = status
	}
	m.mu.Unlock()
}

// Resolve returns the user's session, adopting a cache-tier record when the
// local map lost it to a restart. Stateless mode only; otherwise a missing
// session is simply ErrNotFound.
func (m *Manager) Resolve(ctx context.Context, userID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[userID]
	if ok {
		out := *s
		m.mu.RUnlock()
		return &out, nil
	}
	m.mu.RUnlock()

	if m.cfg.RecordTTL <= 0 {
		return nil, ErrNotFound
	}
	data, err := m.cache.Get(ctx, store.SessionKey(userID))
	if err != nil {
		if !errors.Is(err, store.ErrCacheMiss) {
			if m.metrics != nil {
				m.metrics.CacheDegradations.WithLabelValues("session_get").Inc()
			}
		}
		return nil, ErrNotFound
	}
	var adopted Session
	if err := json.Unmarshal(data, &adopted); err != nil {
		log.Printf("session: discarding corrupt record for user %s: %v", userID, err)
		return nil, ErrNotFound
	}
	adopted.Status = StatusActive
	adopted.LastActivityAt = time.Now().UTC()

	m.mu.Lock()
	if existing, ok := m.sessions[userID]; ok {
		out := *existing
		m.mu.Unlock()
		return &out, nil
	}
	m.sessions[userID] = &adopted
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionEvents.WithLabelValues("adopted").Inc()
	}
	m.updateActiveGauge()
	out := adopted
	return &out, nil
}

// EnsureActive resolves or opens a session so a chat turn always runs inside
// one. A turn for a different conversation than the session's re-logs-in,
// flushing the previous conversation.
func (m *Manager) EnsureActive(ctx context.Context, userID, conversationID string) (*Session, error) {
	if s, err := m.Resolve(ctx, userID); err == nil && s.ConversationID == conversationID && s.Status == StatusActive {
		m.Touch(ctx, userID)
		return s, nil
	}
	return m.Login(ctx, userID, conversationID)
}

// Touch marks activity, resetting the inactivity clock and refreshing the
// cache-tier record's TTL.
func (m *Manager) Touch(ctx context.Context, userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.LastActivityAt = time.Now().UTC()
	out := *s
	m.mu.Unlock()
	m.storeRecord(ctx, &out)
}

// Get returns the user's session without side effects.
func (m *Manager) Get(userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s
	return &out, nil
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// InactivityTimeout exposes the configured timeout for login responses.
func (m *Manager) InactivityTimeout() time.Duration {
	return m.cfg.InactivityTimeout
}

// StartJanitor expires idle sessions in the background until ctx ends.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive(ctx)
			}
		}
	}()
}

func (m *Manager) expireInactive(ctx context.Context) {
	now := time.Now().UTC()

	m.mu.RLock()
	var stale []string
	for userID, s := range m.sessions {
		if s.Status == StatusActive && now.Sub(s.LastActivityAt) >= m.cfg.InactivityTimeout {
			stale = append(stale, userID)
		}
	}
	m.mu.RUnlock()

	for _, userID := range stale {
		lock := m.locks.acquire(userID)

		m.mu.Lock()
		s, ok := m.sessions[userID]
		if !ok || s.Status != StatusActive || now.Sub(s.LastActivityAt) < m.cfg.InactivityTimeout {
			m.mu.Unlock()
			lock.Unlock()
			continue
		}
		snapshot := *s
		m.mu.Unlock()

		if _, err := m.flushUserLocked(ctx, &snapshot); err != nil {
			// Keep the session; the next sweep retries the flush.
			log.Printf("session: expiry flush failed for user %s: %v", userID, err)
			lock.Unlock()
			continue
		}
		m.mu.Lock()
		delete(m.sessions, userID)
		m.mu.Unlock()
		m.deleteRecord(ctx, userID)
		if m.metrics != nil {
			m.metrics.SessionEvents.WithLabelValues("expired").Inc()
		}
		m.updateActiveGauge()
		lock.Unlock()
	}
}

func (m *Manager) storeRecord(ctx context.Context, s *Session) {
	if m.cfg.RecordTTL <= 0 {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, store.SessionKey(s.UserID), data, m.cfg.RecordTTL); err != nil {
		if m.metrics != nil {
			m.metrics.CacheDegradations.WithLabelValues("session_set").Inc()
		}
		log.Printf("session: record write degraded for user %s: %v", s.UserID, err)
	}
}

func (m *Manager) deleteRecord(ctx context.Context, userID string) {
	if m.cfg.RecordTTL <= 0 {
		return
	}
	if err := m.cache.Delete(ctx, store.SessionKey(userID)); err != nil {
		if m.metrics != nil {
			m.metrics.CacheDegradations.WithLabelValues("session_delete").Inc()
		}
	}
}

func (m *Manager) updateActiveGauge() {
	if m.metrics == nil {
		return
	}
	m.metrics.ActiveSessions.Set(float64(m.ActiveCount()))
}

// userLocks hands out one mutex per user id.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

func (t *userLocks) acquire(key string) *sync.Mutex {
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

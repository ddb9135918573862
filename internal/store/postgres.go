package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDurable persists the turn ledger and snapshots in PostgreSQL.
type PostgresDurable struct {
	pool *pgxpool.Pool
}

func NewPostgresDurable(ctx context.Context, databaseURL string) (*PostgresDurable, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresDurable{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			sequence BIGINT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (conversation_id, sequence)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_user_created ON turns (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS window_snapshots (
			conversation_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			document TEXT NOT NULL,
			summary_through BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS keypoint_snapshots (
			scope_key TEXT PRIMARY KEY,
			document TEXT NOT NULL,
			through BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresDurable) AppendTurn(ctx context.Context, rec TurnRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO turns (id, conversation_id, user_id, sequence, role, content, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID,
		rec.ConversationID,
		rec.UserID,
		rec.Sequence,
		rec.Role,
		rec.Content,
		rec.PIIRedacted,
		rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: conversation %s sequence %d", ErrSequenceConflict, rec.ConversationID, rec.Sequence)
		}
		return fmt.Errorf("%w: append turn: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresDurable) LastSequence(ctx context.Context, conversationID string) (int64, error) {
	var last int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM turns WHERE conversation_id=$1`,
		conversationID,
	).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("%w: last sequence: %v", ErrStoreUnavailable, err)
	}
	return last, nil
}

func (s *PostgresDurable) TurnsInRange(ctx context.Context, conversationID string, from, to int64) ([]TurnRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, user_id, sequence, role, content, pii_redacted, created_at
		 FROM turns WHERE conversation_id=$1 AND sequence>=$2 AND sequence<=$3
		 ORDER BY sequence ASC`,
		conversationID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query turn range: %v", ErrStoreUnavailable, err)
	}
	return scanTurns(rows)
}

func (s *PostgresDurable) LatestTurns(ctx context.Context, conversationID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, user_id, sequence, role, content, pii_redacted, created_at
		 FROM turns WHERE conversation_id=$1 ORDER BY sequence DESC LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query latest turns: %v", ErrStoreUnavailable, err)
	}
	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *PostgresDurable) TurnsByUser(ctx context.Context, userID string, offset, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, user_id, sequence, role, content, pii_redacted, created_at
		 FROM turns WHERE user_id=$1 ORDER BY created_at DESC, sequence DESC OFFSET $2 LIMIT $3`,
		userID, offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query user turns: %v", ErrStoreUnavailable, err)
	}
	return scanTurns(rows)
}

func scanTurns(rows pgx.Rows) ([]TurnRecord, error) {
	defer rows.Close()
	out := make([]TurnRecord, 0, 8)
	for rows.Next() {
		var rec TurnRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.ConversationID,
			&rec.UserID,
			&rec.Sequence,
			&rec.Role,
			&rec.Content,
			&rec.PIIRedacted,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate turn rows: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *PostgresDurable) UpsertWindow(ctx context.Context, snap WindowSnapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO window_snapshots (conversation_id, user_id, document, summary_through, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (conversation_id) DO UPDATE SET
			user_id=EXCLUDED.user_id,
			document=EXCLUDED.document,
			summary_through=EXCLUDED.summary_through,
			updated_at=EXCLUDED.updated_at`,
		snap.ConversationID,
		snap.UserID,
		string(snap.Document),
		snap.SummaryThrough,
		snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert window snapshot: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresDurable) GetWindow(ctx context.Context, conversationID string) (WindowSnapshot, error) {
	var (
		snap WindowSnapshot
		doc  string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT conversation_id, user_id, document, summary_through, updated_at
		 FROM window_snapshots WHERE conversation_id=$1`,
		conversationID,
	).Scan(&snap.ConversationID, &snap.UserID, &doc, &snap.SummaryThrough, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WindowSnapshot{}, ErrNotFound
		}
		return WindowSnapshot{}, fmt.Errorf("%w: get window snapshot: %v", ErrStoreUnavailable, err)
	}
	snap.Document = []byte(doc)
	return snap, nil
}

func (s *PostgresDurable) UpsertKeyPoints(ctx context.Context, snap KeyPointSnapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO keypoint_snapshots (scope_key, document, through, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (scope_key) DO UPDATE SET
			document=EXCLUDED.document,
			through=EXCLUDED.through,
			updated_at=EXCLUDED.updated_at`,
		snap.ScopeKey,
		string(snap.Document),
		snap.Through,
		snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert keypoint snapshot: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresDurable) GetKeyPoints(ctx context.Context, scopeKey string) (KeyPointSnapshot, error) {
	var (
		snap KeyPointSnapshot
		doc  string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT scope_key, document, through, updated_at
		 FROM keypoint_snapshots WHERE scope_key=$1`,
		scopeKey,
	).Scan(&snap.ScopeKey, &doc, &snap.Through, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return KeyPointSnapshot{}, ErrNotFound
		}
		return KeyPointSnapshot{}, fmt.Errorf("%w: get keypoint snapshot: %v", ErrStoreUnavailable, err)
	}
	snap.Document = []byte(doc)
	return snap, nil
}

func (s *PostgresDurable) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresDurable) Close() error {
	s.pool.Close()
	return nil
}

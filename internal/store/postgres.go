package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation snapshots in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mirror_sessions (
			session_id TEXT PRIMARY KEY,
			profile JSONB NOT NULL DEFAULT '{}'::jsonb,
			history JSONB NOT NULL DEFAULT '[]'::jsonb,
			registered_image_ref TEXT NOT NULL DEFAULT '',
			turn_count INTEGER NOT NULL DEFAULT 0,
			escalation_counter INTEGER NOT NULL DEFAULT 0,
			escalation_threshold INTEGER NOT NULL DEFAULT 0,
			terminal BOOLEAN NOT NULL DEFAULT FALSE,
			seed BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_mirror_sessions_updated ON mirror_sessions (updated_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	profile, err := json.Marshal(snap.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	history, err := json.Marshal(snap.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO mirror_sessions (session_id, profile, history, registered_image_ref, turn_count,
			escalation_counter, escalation_threshold, terminal, seed, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (session_id) DO UPDATE SET
			profile = EXCLUDED.profile,
			history = EXCLUDED.history,
			registered_image_ref = EXCLUDED.registered_image_ref,
			turn_count = EXCLUDED.turn_count,
			escalation_counter = EXCLUDED.escalation_counter,
			escalation_threshold = EXCLUDED.escalation_threshold,
			terminal = EXCLUDED.terminal,
			seed = EXCLUDED.seed,
			updated_at = EXCLUDED.updated_at`,
		snap.SessionID,
		profile,
		history,
		snap.RegisteredImageRef,
		snap.TurnCount,
		snap.EscalationCounter,
		snap.EscalationThreshold,
		snap.Terminal,
		int64(snap.Seed),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	var (
		snap    Snapshot
		profile []byte
		history []byte
		seed    int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, profile, history, registered_image_ref, turn_count,
			escalation_counter, escalation_threshold, terminal, seed
		 FROM mirror_sessions WHERE session_id=$1`,
		sessionID,
	).Scan(
		&snap.SessionID,
		&profile,
		&history,
		&snap.RegisteredImageRef,
		&snap.TurnCount,
		&snap.EscalationCounter,
		&snap.EscalationThreshold,
		&snap.Terminal,
		&seed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	snap.Seed = uint64(seed)
	if err := json.Unmarshal(profile, &snap.Profile); err != nil {
		return Snapshot{}, fmt.Errorf("decode profile: %w", err)
	}
	if err := json.Unmarshal(history, &snap.History); err != nil {
		return Snapshot{}, fmt.Errorf("decode history: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM mirror_sessions WHERE session_id=$1`, sessionID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

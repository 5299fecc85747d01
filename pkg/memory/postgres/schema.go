// Package postgres implements [memory.Store] on PostgreSQL for deployments
// where several tutor instances share one database.
//
// All operations share a single [pgxpool.Pool]. [Migrate] creates the schema
// and is run by [NewStore] on every start.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	id, _ := store.RecordSession(ctx, rec)
//	_, _ = store.InsertVocab(ctx, id, items)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sessions DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id              BIGSERIAL    PRIMARY KEY,
    started_at      TIMESTAMPTZ  NOT NULL,
    ended_at        TIMESTAMPTZ  NOT NULL,
    transcript_text TEXT         NOT NULL DEFAULT '',
    metadata_json   JSONB
);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at
    ON sessions (started_at);
`

// ─────────────────────────────────────────────────────────────────────────────
// Vocabulary DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlVocab = `
CREATE TABLE IF NOT EXISTS vocab (
    id                BIGSERIAL    PRIMARY KEY,
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    source_session_id BIGINT       REFERENCES sessions (id) ON DELETE SET NULL,
    english           TEXT         NOT NULL DEFAULT '',
    chinese           TEXT         NOT NULL DEFAULT '',
    pinyin            TEXT         NOT NULL DEFAULT '',
    example           TEXT         NOT NULL DEFAULT '',
    seen_count        INTEGER      NOT NULL DEFAULT 0,
    last_seen_at      TIMESTAMPTZ,
    last_result       TEXT
);

CREATE INDEX IF NOT EXISTS idx_vocab_english
    ON vocab (english);

CREATE INDEX IF NOT EXISTS idx_vocab_created_at
    ON vocab (created_at);

CREATE INDEX IF NOT EXISTS idx_vocab_last_seen_at
    ON vocab (last_seen_at);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlSessions,
		ddlVocab,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

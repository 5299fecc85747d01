// Package sqlite implements [memory.Store] on a single SQLite file using the
// pure-Go modernc.org/sqlite driver.
//
// The schema lives in embedded migration files that are applied once each on
// [Open].
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/chinesetutor/pkg/memory"
	"github.com/MrWong99/chinesetutor/pkg/memory/sqlite/migrations"
)

var _ memory.Store = (*Store)(nil)

// Store persists sessions and vocabulary in SQLite. It is safe for concurrent
// use; writes are serialised on a single connection.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithClock replaces the clock used for created_at and last_seen_at values.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating when missing) the database at path and applies the
// embedded migrations. The parent directory is created when needed.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite store: create dir: %w", err)
	}

	dsn := "file:" + path +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// RecordSession implements [memory.Store].
func (s *Store) RecordSession(ctx context.Context, rec memory.SessionRecord) (int64, error) {
	var meta sql.NullString
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return 0, fmt.Errorf("sqlite store: record session: encode metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (started_at, ended_at, transcript_text, metadata_json) VALUES (?, ?, ?, ?)`,
		toMillis(rec.StartedAt), toMillis(rec.EndedAt), rec.TranscriptText, meta,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: record session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite store: record session: %w", err)
	}
	return id, nil
}

// InsertVocab implements [memory.Store]. All rows are written in one
// transaction.
func (s *Store) InsertVocab(ctx context.Context, sessionID int64, items []memory.VocabItem) ([]int64, error) {
	items = memory.Dedupe(items)
	if len(items) == 0 {
		return nil, nil
	}

	var source sql.NullInt64
	if sessionID > 0 {
		source = sql.NullInt64{Int64: sessionID, Valid: true}
	}
	created := toMillis(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: insert vocab: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vocab (created_at, source_session_id, english, chinese, pinyin, example)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: insert vocab: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		res, err := stmt.ExecContext(ctx, created, source, it.English, it.Chinese, it.Pinyin, it.Example)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: insert vocab: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("sqlite store: insert vocab: %w", err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite store: insert vocab: commit: %w", err)
	}
	return ids, nil
}

// ListSessions implements [memory.Store].
func (s *Store) ListSessions(ctx context.Context, limit int) ([]memory.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, substr(transcript_text, 1, ?)
		 FROM sessions
		 ORDER BY started_at DESC, id DESC
		 LIMIT ?`,
		memory.SnippetLength, sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []memory.SessionSummary
	for rows.Next() {
		var (
			sum          memory.SessionSummary
			started, end int64
		)
		if err := rows.Scan(&sum.ID, &started, &end, &sum.Snippet); err != nil {
			return nil, fmt.Errorf("sqlite store: list sessions: scan: %w", err)
		}
		sum.StartedAt, sum.EndedAt = fromMillis(started), fromMillis(end)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list sessions: %w", err)
	}
	return out, nil
}

const vocabColumns = `id, created_at, source_session_id, english, chinese, pinyin, example,
	seen_count, last_seen_at, last_result`

// ListVocab implements [memory.Store].
func (s *Store) ListVocab(ctx context.Context, limit int) ([]memory.Vocab, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+vocabColumns+`
		 FROM vocab
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list vocab: %w", err)
	}
	return collectVocab(rows, "list vocab")
}

// VocabForReview implements [memory.Store].
func (s *Store) VocabForReview(ctx context.Context, limit int) ([]memory.Vocab, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+vocabColumns+`
		 FROM vocab
		 ORDER BY
		   CASE WHEN last_result = 'fail' THEN 0 ELSE 1 END,
		   CASE WHEN last_seen_at IS NULL THEN 0 ELSE 1 END,
		   last_seen_at ASC,
		   created_at ASC,
		   id ASC
		 LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite store: vocab for review: %w", err)
	}
	return collectVocab(rows, "vocab for review")
}

// UpdateVocabResult implements [memory.Store].
func (s *Store) UpdateVocabResult(ctx context.Context, id int64, result memory.ReviewResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE vocab
		 SET seen_count = seen_count + 1, last_seen_at = ?, last_result = ?
		 WHERE id = ?`,
		toMillis(s.now()), string(result), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: update vocab %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: update vocab %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite store: update vocab %d: %w", id, memory.ErrNotFound)
	}
	return nil
}

// Ping implements [memory.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite store: ping: %w", err)
	}
	return nil
}

// Close implements [memory.Store].
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func collectVocab(rows *sql.Rows, op string) ([]memory.Vocab, error) {
	defer rows.Close()

	var out []memory.Vocab
	for rows.Next() {
		var (
			v        memory.Vocab
			created  int64
			source   sql.NullInt64
			lastSeen sql.NullInt64
			result   sql.NullString
		)
		if err := rows.Scan(&v.ID, &created, &source, &v.English, &v.Chinese, &v.Pinyin, &v.Example,
			&v.SeenCount, &lastSeen, &result); err != nil {
			return nil, fmt.Errorf("sqlite store: %s: scan: %w", op, err)
		}
		v.CreatedAt = fromMillis(created)
		v.SourceSessionID = source.Int64
		if lastSeen.Valid {
			v.LastSeenAt = fromMillis(lastSeen.Int64)
		}
		v.LastResult = memory.ReviewResult(result.String)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: %s: %w", op, err)
	}
	return out, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/chinesetutor/pkg/memory"
)

// RecordSession implements [memory.Store].
func (s *Store) RecordSession(ctx context.Context, rec memory.SessionRecord) (int64, error) {
	const q = `
		INSERT INTO sessions (started_at, ended_at, transcript_text, metadata_json)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	var meta []byte
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return 0, fmt.Errorf("postgres store: record session: encode metadata: %w", err)
		}
		meta = b
	}

	var id int64
	if err := s.pool.QueryRow(ctx, q,
		rec.StartedAt.UTC(),
		rec.EndedAt.UTC(),
		rec.TranscriptText,
		meta,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres store: record session: %w", err)
	}
	return id, nil
}

// ListSessions implements [memory.Store].
func (s *Store) ListSessions(ctx context.Context, limit int) ([]memory.SessionSummary, error) {
	const q = `
		SELECT id, started_at, ended_at, substr(transcript_text, 1, $1)
		FROM   sessions
		ORDER  BY started_at DESC, id DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, memory.SnippetLength, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SessionSummary, error) {
		var sum memory.SessionSummary
		if err := row.Scan(&sum.ID, &sum.StartedAt, &sum.EndedAt, &sum.Snippet); err != nil {
			return memory.SessionSummary{}, err
		}
		sum.StartedAt, sum.EndedAt = sum.StartedAt.UTC(), sum.EndedAt.UTC()
		return sum, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: scan rows: %w", err)
	}
	return out, nil
}

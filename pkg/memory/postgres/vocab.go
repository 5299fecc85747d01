package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/chinesetutor/pkg/memory"
)

const vocabColumns = `id, created_at, source_session_id, english, chinese, pinyin, example,
	       seen_count, last_seen_at, last_result`

// InsertVocab implements [memory.Store]. All rows are written in one
// transaction.
func (s *Store) InsertVocab(ctx context.Context, sessionID int64, items []memory.VocabItem) ([]int64, error) {
	const q = `
		INSERT INTO vocab (created_at, source_session_id, english, chinese, pinyin, example)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	items = memory.Dedupe(items)
	if len(items) == 0 {
		return nil, nil
	}

	var source *int64
	if sessionID > 0 {
		source = &sessionID
	}
	created := s.now().UTC()

	ids := make([]int64, 0, len(items))
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, it := range items {
			var id int64
			if err := tx.QueryRow(ctx, q, created, source, it.English, it.Chinese, it.Pinyin, it.Example).Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: insert vocab: %w", err)
	}
	return ids, nil
}

// ListVocab implements [memory.Store].
func (s *Store) ListVocab(ctx context.Context, limit int) ([]memory.Vocab, error) {
	const q = `
		SELECT ` + vocabColumns + `
		FROM   vocab
		ORDER  BY created_at DESC, id DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres store: list vocab: %w", err)
	}
	return collectVocab(rows)
}

// VocabForReview implements [memory.Store].
func (s *Store) VocabForReview(ctx context.Context, limit int) ([]memory.Vocab, error) {
	const q = `
		SELECT ` + vocabColumns + `
		FROM   vocab
		ORDER  BY
		       CASE WHEN last_result = 'fail' THEN 0 ELSE 1 END,
		       CASE WHEN last_seen_at IS NULL THEN 0 ELSE 1 END,
		       last_seen_at ASC,
		       created_at ASC,
		       id ASC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres store: vocab for review: %w", err)
	}
	return collectVocab(rows)
}

// UpdateVocabResult implements [memory.Store].
func (s *Store) UpdateVocabResult(ctx context.Context, id int64, result memory.ReviewResult) error {
	const q = `
		UPDATE vocab
		SET    seen_count = seen_count + 1, last_seen_at = $1, last_result = $2
		WHERE  id = $3`

	tag, err := s.pool.Exec(ctx, q, s.now().UTC(), string(result), id)
	if err != nil {
		return fmt.Errorf("postgres store: update vocab %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: update vocab %d: %w", id, memory.ErrNotFound)
	}
	return nil
}

// collectVocab scans pgx rows into a slice of Vocab values.
func collectVocab(rows pgx.Rows) ([]memory.Vocab, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Vocab, error) {
		var (
			v        memory.Vocab
			source   *int64
			lastSeen *time.Time
			result   *string
		)
		if err := row.Scan(&v.ID, &v.CreatedAt, &source, &v.English, &v.Chinese, &v.Pinyin, &v.Example,
			&v.SeenCount, &lastSeen, &result); err != nil {
			return memory.Vocab{}, err
		}
		v.CreatedAt = v.CreatedAt.UTC()
		if source != nil {
			v.SourceSessionID = *source
		}
		if lastSeen != nil {
			v.LastSeenAt = lastSeen.UTC()
		}
		if result != nil {
			v.LastResult = memory.ReviewResult(*result)
		}
		return v, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	return out, nil
}

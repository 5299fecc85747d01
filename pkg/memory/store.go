// Package memory defines the persistence layer of the tutor: finished
// conversations and the vocabulary mined from them, together with the review
// history of every vocabulary entry.
//
// Two backends are provided: SQLite (the default, a single local file) and
// PostgreSQL (for a shared server). Both implement [Store] with identical
// ordering and deduplication rules.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an operation addresses a row that does not
// exist.
var ErrNotFound = errors.New("memory: not found")

// Default listing sizes used by the CLI and the web control room.
const (
	DefaultSessionLimit = 10
	DefaultVocabLimit   = 20
	DefaultReviewLimit  = 5
)

// Store persists sessions and vocabulary. A limit of zero or less means no
// limit.
type Store interface {
	// RecordSession stores a finished conversation and returns its id.
	RecordSession(ctx context.Context, rec SessionRecord) (int64, error)

	// InsertVocab stores items linked to sessionID (zero for none) and returns
	// the ids of the inserted rows. Items repeating an earlier (english,
	// chinese) pair of the same batch are skipped.
	InsertVocab(ctx context.Context, sessionID int64, items []VocabItem) ([]int64, error)

	// ListSessions returns up to limit sessions, newest first.
	ListSessions(ctx context.Context, limit int) ([]SessionSummary, error)

	// ListVocab returns up to limit vocabulary entries, newest first.
	ListVocab(ctx context.Context, limit int) ([]Vocab, error)

	// VocabForReview returns up to limit entries in review priority: last
	// failed first, then never reviewed, then least recently reviewed, then
	// oldest.
	VocabForReview(ctx context.Context, limit int) ([]Vocab, error)

	// UpdateVocabResult records one review outcome: the seen count is
	// incremented and the last-seen time and result are replaced.
	UpdateVocabResult(ctx context.Context, id int64, result ReviewResult) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

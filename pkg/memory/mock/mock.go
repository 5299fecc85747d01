// Package mock provides an in-memory test double for [memory.Store].
//
// The mock records every method call for assertion in tests and keeps the
// stored sessions and vocabulary in memory, applying the same ordering rules as
// the real backends. Exported *Err fields force a method to fail. All methods
// are safe for concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.Store{}
//	store.InsertVocabErr = errors.New("disk full")
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("RecordSession"); got != 1 {
//	    t.Errorf("expected 1 RecordSession call, got %d", got)
//	}
package mock

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/chinesetutor/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable in-memory implementation of [memory.Store].
type Store struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	sessions []storedSession
	vocab    []memory.Vocab
	nextID   int64

	// Now is the clock used for created_at and last_seen_at. Defaults to
	// time.Now.
	Now func() time.Time

	// RecordSessionErr is returned by [Store.RecordSession] when non-nil.
	RecordSessionErr error

	// InsertVocabErr is returned by [Store.InsertVocab] when non-nil.
	InsertVocabErr error

	// ListErr is returned by every listing method when non-nil.
	ListErr error

	// UpdateErr is returned by [Store.UpdateVocabResult] when non-nil.
	UpdateErr error

	// PingErr is returned by [Store.Ping] when non-nil.
	PingErr error

	closed bool
}

type storedSession struct {
	id  int64
	rec memory.SessionRecord
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Sessions returns a copy of every recorded session, in insertion order.
func (m *Store) Sessions() []memory.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memory.SessionRecord, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.rec)
	}
	return out
}

// Vocab returns a copy of every stored vocabulary row, in insertion order.
func (m *Store) Vocab() []memory.Vocab {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.vocab)
}

// Closed reports whether Close was called.
func (m *Store) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Store) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Store) record(method string, args ...any) {
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// RecordSession implements [memory.Store].
func (m *Store) RecordSession(_ context.Context, rec memory.SessionRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("RecordSession", rec)
	if m.RecordSessionErr != nil {
		return 0, m.RecordSessionErr
	}
	m.nextID++
	m.sessions = append(m.sessions, storedSession{id: m.nextID, rec: rec})
	return m.nextID, nil
}

// InsertVocab implements [memory.Store].
func (m *Store) InsertVocab(_ context.Context, sessionID int64, items []memory.VocabItem) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("InsertVocab", sessionID, slices.Clone(items))
	if m.InsertVocabErr != nil {
		return nil, m.InsertVocabErr
	}
	items = memory.Dedupe(items)
	if len(items) == 0 {
		return nil, nil
	}
	created := m.now().UTC()
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		m.nextID++
		m.vocab = append(m.vocab, memory.Vocab{
			ID:              m.nextID,
			VocabItem:       it,
			SourceSessionID: sessionID,
			CreatedAt:       created,
		})
		ids = append(ids, m.nextID)
	}
	return ids, nil
}

// ListSessions implements [memory.Store].
func (m *Store) ListSessions(_ context.Context, limit int) ([]memory.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListSessions", limit)
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]memory.SessionSummary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, memory.SessionSummary{
			ID:        s.id,
			StartedAt: s.rec.StartedAt,
			EndedAt:   s.rec.EndedAt,
			Snippet:   memory.Snippet(s.rec.TranscriptText),
		})
	}
	slices.SortStableFunc(out, func(a, b memory.SessionSummary) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return truncate(out, limit), nil
}

// ListVocab implements [memory.Store].
func (m *Store) ListVocab(_ context.Context, limit int) ([]memory.Vocab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListVocab", limit)
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := slices.Clone(m.vocab)
	slices.SortStableFunc(out, func(a, b memory.Vocab) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return truncate(out, limit), nil
}

// VocabForReview implements [memory.Store].
func (m *Store) VocabForReview(_ context.Context, limit int) ([]memory.Vocab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("VocabForReview", limit)
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := slices.Clone(m.vocab)
	slices.SortStableFunc(out, reviewOrder)
	return truncate(out, limit), nil
}

func reviewOrder(a, b memory.Vocab) int {
	rank := func(v memory.Vocab) (int, int) {
		failed, seen := 1, 1
		if v.LastResult == memory.ResultFail {
			failed = 0
		}
		if v.LastSeenAt.IsZero() {
			seen = 0
		}
		return failed, seen
	}
	af, as := rank(a)
	bf, bs := rank(b)
	return cmp.Or(
		cmp.Compare(af, bf),
		cmp.Compare(as, bs),
		a.LastSeenAt.Compare(b.LastSeenAt),
		a.CreatedAt.Compare(b.CreatedAt),
		cmp.Compare(a.ID, b.ID),
	)
}

// UpdateVocabResult implements [memory.Store].
func (m *Store) UpdateVocabResult(_ context.Context, id int64, result memory.ReviewResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpdateVocabResult", id, result)
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	for i := range m.vocab {
		if m.vocab[i].ID == id {
			m.vocab[i].SeenCount++
			m.vocab[i].LastSeenAt = m.now().UTC()
			m.vocab[i].LastResult = result
			return nil
		}
	}
	return fmt.Errorf("mock store: update vocab %d: %w", id, memory.ErrNotFound)
}

// Ping implements [memory.Store].
func (m *Store) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Ping")
	return m.PingErr
}

// Close implements [memory.Store].
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Close")
	m.closed = true
	return nil
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

// Ensure Store satisfies the interface at compile time.
var _ memory.Store = (*Store)(nil)

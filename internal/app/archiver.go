package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/chinesetutor/internal/session"
	"github.com/MrWong99/chinesetutor/internal/vocab"
	"github.com/MrWong99/chinesetutor/pkg/memory"
)

var _ session.Handoff = (*Archiver)(nil)

// Archiver persists finished sessions and the vocabulary found in them. It is
// the [session.Handoff] of every driver built by [New].
type Archiver struct {
	store memory.Store
}

// NewArchiver returns an Archiver writing to store.
func NewArchiver(store memory.Store) *Archiver {
	return &Archiver{store: store}
}

// Handoff records r as a session row, extracts vocabulary from both sides of
// the conversation and stores it linked to that row. It returns the number of
// vocabulary rows written.
func (a *Archiver) Handoff(ctx context.Context, r session.Result) (int, error) {
	sessionID, err := a.store.RecordSession(ctx, memory.SessionRecord{
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		TranscriptText: r.TranscriptText,
		Metadata:       r.Metadata,
	})
	if err != nil {
		return 0, fmt.Errorf("app: record session: %w", err)
	}
	slog.Info("app: saved session", "session_id", sessionID, "conversation_id", r.ConversationID())

	items := vocab.Extract(r.AgentText, r.UserText)
	if len(items) == 0 {
		slog.Info("app: no vocab candidates detected", "session_id", sessionID)
		return 0, nil
	}

	ids, err := a.store.InsertVocab(ctx, sessionID, items)
	if err != nil {
		return 0, fmt.Errorf("app: insert vocab for session %d: %w", sessionID, err)
	}
	slog.Info("app: captured vocab items", "session_id", sessionID, "count", len(ids))
	return len(ids), nil
}

package session

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MetadataConversationID is the Result.Metadata key holding the conversation
// id assigned by the agent service.
const MetadataConversationID = "conversation_id"

// Result is the finalised, persistence-ready record of one session. It is
// produced even when the session was cancelled or the transport failed.
type Result struct {
	StartedAt time.Time
	EndedAt   time.Time

	// TranscriptText holds one "User: …" or "Agent: …" line per turn, in
	// arrival order, joined with newlines.
	TranscriptText string

	// Metadata carries at least MetadataConversationID.
	Metadata map[string]string

	// UserText and AgentText hold the raw utterances of each side, one per
	// line. Agent corrections are appended as separate lines.
	UserText  string
	AgentText string
}

// ConversationID returns the agent service conversation id, if known.
func (r Result) ConversationID() string { return r.Metadata[MetadataConversationID] }

// Handoff receives the Result of a finished session. Implementations persist
// it and extract vocabulary; the returned count is reported to the consumer.
type Handoff interface {
	Handoff(ctx context.Context, r Result) (vocabCount int, err error)
}

// HandoffFunc adapts a function to the [Handoff] interface.
type HandoffFunc func(ctx context.Context, r Result) (int, error)

// Handoff calls f(ctx, r).
func (f HandoffFunc) Handoff(ctx context.Context, r Result) (int, error) { return f(ctx, r) }

// transcript accumulates one session. It is the [convai.Handler] the driver
// hands to the transport. Every mutation and the matching event push happen
// under mu, so the recorded order equals the emitted order.
type transcript struct {
	mu     sync.Mutex
	sink   Sink
	now    func() time.Time
	sealed bool

	startedAt time.Time
	endedAt   time.Time
	lines     []string
	user      []string
	agent     []string
}

func newTranscript(sink Sink, now func() time.Time) *transcript {
	return &transcript{sink: sink, now: now}
}

// emit pushes e to the sink. Sink failures never reach the driver.
func (t *transcript) emit(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	safeEmit(t.sink, e)
}

func (t *transcript) markStarted() {
	t.mu.Lock()
	t.startedAt = t.now()
	t.mu.Unlock()
}

// seal records the end time. Callbacks arriving afterwards are ignored.
func (t *transcript) seal() {
	t.mu.Lock()
	t.sealed = true
	t.endedAt = t.now()
	t.mu.Unlock()
}

// UserTranscript implements convai.Handler.
func (t *transcript) UserTranscript(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return
	}
	t.lines = append(t.lines, "User: "+text)
	t.user = append(t.user, text)
	safeEmit(t.sink, UserTranscriptEvent(text, t.now()))
}

// AgentResponse implements convai.Handler.
func (t *transcript) AgentResponse(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return
	}
	t.lines = append(t.lines, "Agent: "+text)
	t.agent = append(t.agent, text)
	safeEmit(t.sink, AgentResponseEvent(text, t.now()))
}

// AgentCorrection implements convai.Handler. The corrected text is appended;
// earlier lines are never rewritten.
func (t *transcript) AgentCorrection(original, corrected string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return
	}
	t.lines = append(t.lines, "Agent: "+corrected)
	t.agent = append(t.agent, corrected)
	safeEmit(t.sink, AgentCorrectionEvent(original, corrected, t.now()))
}

func (t *transcript) counts() (user, agent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.user), len(t.agent)
}

func (t *transcript) times() (started, ended time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt, t.endedAt
}

func (t *transcript) result(conversationID string) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Result{
		StartedAt:      t.startedAt,
		EndedAt:        t.endedAt,
		TranscriptText: strings.Join(t.lines, "\n"),
		Metadata:       map[string]string{MetadataConversationID: conversationID},
		UserText:       strings.Join(t.user, "\n"),
		AgentText:      strings.Join(t.agent, "\n"),
	}
}

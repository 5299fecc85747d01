package session

import (
	"encoding/json"
	"time"
)

// EventType discriminates the variants of [Event].
type EventType string

// Event types, in the order they typically occur during a session.
const (
	EventStatus             EventType = "status"
	EventUserTranscript     EventType = "user_transcript"
	EventAgentResponse      EventType = "agent_response"
	EventAgentCorrection    EventType = "agent_correction"
	EventSummary            EventType = "summary"
	EventVocabularyCaptured EventType = "vocabulary_captured"
	EventError              EventType = "error"
	EventDone               EventType = "done"
)

// Event is one occurrence reported out of a running session. Only the fields
// relevant to Type are set. Events are values and are never mutated after
// they have been emitted.
type Event struct {
	Type EventType

	// Message is set for status and error events.
	Message string

	// Text and Timestamp are set for transcript, response and correction
	// events. For corrections Text is the corrected agent text and Original
	// the text it replaces.
	Text      string
	Original  string
	Timestamp time.Time

	// UserLines and AgentLines are set for summary events.
	UserLines  int
	AgentLines int

	// Count is set for vocabulary_captured events.
	Count int

	// ConversationID is set for summary and done events once known.
	ConversationID string

	// ExitCode, StartedAt and EndedAt are set for done events. StartedAt and
	// EndedAt are zero when the session never started.
	ExitCode  int
	StartedAt time.Time
	EndedAt   time.Time
}

// StatusEvent returns a status event.
func StatusEvent(msg string) Event { return Event{Type: EventStatus, Message: msg} }

// UserTranscriptEvent returns a user_transcript event.
func UserTranscriptEvent(text string, at time.Time) Event {
	return Event{Type: EventUserTranscript, Text: text, Timestamp: at}
}

// AgentResponseEvent returns an agent_response event.
func AgentResponseEvent(text string, at time.Time) Event {
	return Event{Type: EventAgentResponse, Text: text, Timestamp: at}
}

// AgentCorrectionEvent returns an agent_correction event.
func AgentCorrectionEvent(original, corrected string, at time.Time) Event {
	return Event{Type: EventAgentCorrection, Text: corrected, Original: original, Timestamp: at}
}

// SummaryEvent returns a summary event.
func SummaryEvent(userLines, agentLines int, conversationID string) Event {
	return Event{Type: EventSummary, UserLines: userLines, AgentLines: agentLines, ConversationID: conversationID}
}

// VocabularyCapturedEvent returns a vocabulary_captured event.
func VocabularyCapturedEvent(n int) Event { return Event{Type: EventVocabularyCaptured, Count: n} }

// ErrorEvent returns an error event.
func ErrorEvent(msg string) Event { return Event{Type: EventError, Message: msg} }

// DoneEvent returns the terminal event of a session.
func DoneEvent(exitCode int, conversationID string, startedAt, endedAt time.Time) Event {
	return Event{
		Type:           EventDone,
		ExitCode:       exitCode,
		ConversationID: conversationID,
		StartedAt:      startedAt,
		EndedAt:        endedAt,
	}
}

// Terminal reports whether e ends an event sequence.
func (e Event) Terminal() bool { return e.Type == EventDone }

// MarshalJSON encodes the event as a flat object with a "type" discriminator
// and the fields of its variant. Times are RFC 3339; zero times and empty
// conversation ids are omitted.
func (e Event) MarshalJSON() ([]byte, error) {
	m := map[string]any{"type": string(e.Type)}
	switch e.Type {
	case EventStatus, EventError:
		m["message"] = e.Message
	case EventUserTranscript, EventAgentResponse:
		m["text"] = e.Text
		m["timestamp"] = formatTime(e.Timestamp)
	case EventAgentCorrection:
		m["text"] = e.Text
		m["original"] = e.Original
		m["timestamp"] = formatTime(e.Timestamp)
	case EventSummary:
		m["user_lines"] = e.UserLines
		m["agent_lines"] = e.AgentLines
		if e.ConversationID != "" {
			m["conversation_id"] = e.ConversationID
		}
	case EventVocabularyCaptured:
		m["count"] = e.Count
	case EventDone:
		m["exit_code"] = e.ExitCode
		if e.ConversationID != "" {
			m["conversation_id"] = e.ConversationID
		}
		if !e.StartedAt.IsZero() {
			m["started_at"] = formatTime(e.StartedAt)
		}
		if !e.EndedAt.IsZero() {
			m["ended_at"] = formatTime(e.EndedAt)
		}
	}
	return json.Marshal(m)
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

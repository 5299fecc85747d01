// Package convai defines the Provider interface for conversational agent
// backends.
//
// A conversational agent service hosts the whole dialogue loop remotely: it
// listens to the user's microphone audio, recognises speech, decides what to
// say and streams synthesised speech back. The client only moves audio in both
// directions and observes the text of each turn.
//
// The client side of a conversation has two halves:
//
//   - [audio.Interface] carries audio. The provider starts capture once the
//     conversation is established, writes agent speech to Output and calls
//     Interrupt when the agent is cut off.
//   - [Handler] receives text. The provider invokes it once per finalised user
//     transcript, agent response and agent correction.
//
// All implementations must be safe for concurrent use.
package convai

import (
	"context"

	"github.com/MrWong99/chinesetutor/pkg/audio"
)

// Handler receives the text side of a conversation. Methods are called from
// the provider's receive goroutine in arrival order and must not block for
// long. A Handler is never called again after the session has ended.
type Handler interface {
	// UserTranscript is called with the final transcript of one user turn.
	UserTranscript(text string)

	// AgentResponse is called with the text of one agent turn.
	AgentResponse(text string)

	// AgentCorrection is called when the agent was interrupted and the text
	// of its latest response was truncated to what was actually spoken.
	AgentCorrection(original, corrected string)
}

// SessionConfig is the configuration for a new conversation.
type SessionConfig struct {
	// AgentID identifies the remote agent. Required.
	AgentID string

	// APIKey authenticates against the service. Public agents may be reached
	// without one.
	APIKey string

	// Handler receives transcript callbacks. Required.
	Handler Handler

	// Audio carries microphone input and agent speech. Required.
	Audio audio.Interface

	// Format is the PCM format Audio captures and plays. Zero means
	// [audio.DefaultFormat]. Providers resample when the service negotiates a
	// different format.
	Format audio.Format
}

// Session is a running conversation.
type Session interface {
	// ConversationID returns the identifier assigned by the service. It is
	// known as soon as StartSession returns.
	ConversationID() string

	// End asks the service to finish the conversation and stops audio. It
	// does not wait; use Wait. Calling End more than once is safe.
	End() error

	// Wait blocks until the conversation has fully ended or ctx is done. It
	// returns the conversation id and the error that terminated the session,
	// or nil when it ended normally. When ctx expires first, ctx.Err() is
	// returned and the session keeps running.
	Wait(ctx context.Context) (conversationID string, err error)
}

// Provider is the abstraction over any conversational agent backend.
type Provider interface {
	// StartSession connects to the agent, starts audio and returns once the
	// service has accepted the conversation. Returns an error when the
	// connection cannot be established (authentication failure, unknown agent,
	// network error, ctx cancelled). The caller must End the returned Session.
	StartSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

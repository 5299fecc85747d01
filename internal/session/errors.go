package session

import "errors"

// Sentinel errors returned by [Driver.Run] and the session manager. Match
// them with errors.Is; the wrapped message carries the detail.
var (
	// ErrConfig marks a failure that happened before any network activity:
	// a missing agent id or an audio device that cannot be opened.
	ErrConfig = errors.New("session: configuration error")

	// ErrTransport marks a failure to open, run or cleanly end the
	// conversation with the remote agent.
	ErrTransport = errors.New("session: transport error")

	// ErrAlreadyRunning is returned when a session is started while another
	// one is still active.
	ErrAlreadyRunning = errors.New("session: a chat is already running")

	// ErrStreamClosed is returned by [Stream.Push] once the terminal event has
	// been queued or the consumer has detached.
	ErrStreamClosed = errors.New("session: event stream closed")
)

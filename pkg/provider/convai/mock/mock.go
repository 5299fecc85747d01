// Package mock provides a scripted implementation of [convai.Provider] for
// unit tests.
//
// The test drives the conversation from the outside: after StartSession has
// returned, call the Session's UserTranscript, AgentResponse and
// AgentCorrection methods to simulate server events, and Finish to simulate
// the service closing the conversation.
//
//	sess := &mock.Session{ID: "conv-1"}
//	p := &mock.Provider{Session: sess}
//	// ... start the code under test, then:
//	sess.UserTranscript("你好")
//	sess.Finish(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/chinesetutor/pkg/provider/convai"
)

// ─── Session ─────────────────────────────────────────────────────────────────

// Session is a mock implementation of [convai.Session].
type Session struct {
	mu sync.Mutex

	// ID is returned by ConversationID and Wait.
	ID string

	// EndErr is returned by End.
	EndErr error

	// IgnoreEnd makes End return without finishing the session, simulating a
	// service that never confirms the end.
	IgnoreEnd bool

	// CallCountEnd records how many times End was called.
	CallCountEnd int

	// MicFrames records every microphone frame delivered through the audio
	// interface.
	MicFrames [][]byte

	cfg      convai.SessionConfig
	waitErr  error
	done     chan struct{}
	doneOnce sync.Once
}

func (s *Session) init(cfg convai.SessionConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.done == nil {
		s.done = make(chan struct{})
	}
}

func (s *Session) doneCh() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = make(chan struct{})
	}
	return s.done
}

func (s *Session) handler() convai.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Handler
}

func (s *Session) recordMic(frame []byte) {
	s.mu.Lock()
	s.MicFrames = append(s.MicFrames, append([]byte(nil), frame...))
	s.mu.Unlock()
}

// UserTranscript simulates a user_transcript event.
func (s *Session) UserTranscript(text string) { s.handler().UserTranscript(text) }

// AgentResponse simulates an agent_response event.
func (s *Session) AgentResponse(text string) { s.handler().AgentResponse(text) }

// AgentCorrection simulates an agent_response_correction event.
func (s *Session) AgentCorrection(original, corrected string) {
	s.handler().AgentCorrection(original, corrected)
}

// AgentAudio simulates a chunk of agent speech.
func (s *Session) AgentAudio(chunk []byte) {
	s.mu.Lock()
	a := s.cfg.Audio
	s.mu.Unlock()
	if a != nil {
		a.Output(chunk)
	}
}

// Finish ends the session from the service side. err is reported by Wait.
// Only the first call has an effect.
func (s *Session) Finish(err error) {
	done := s.doneCh()
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.waitErr = err
		a := s.cfg.Audio
		s.mu.Unlock()
		if a != nil {
			a.Stop()
		}
		close(done)
	})
}

// Done returns a channel closed once the session has finished.
func (s *Session) Done() <-chan struct{} { return s.doneCh() }

// ConversationID implements [convai.Session].
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ID
}

// End implements [convai.Session].
func (s *Session) End() error {
	s.mu.Lock()
	s.CallCountEnd++
	ignore, err := s.IgnoreEnd, s.EndErr
	s.mu.Unlock()
	if !ignore {
		s.Finish(nil)
	}
	return err
}

// Wait implements [convai.Session].
func (s *Session) Wait(ctx context.Context) (string, error) {
	select {
	case <-s.doneCh():
	case <-ctx.Done():
		return s.ConversationID(), ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ID, s.waitErr
}

// ─── Provider ────────────────────────────────────────────────────────────────

// Provider is a mock implementation of [convai.Provider].
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartSession. A fresh Session is created when nil.
	Session *Session

	// StartErr is returned by StartSession when non-nil.
	StartErr error

	// CallCountStart records how many times StartSession was called.
	CallCountStart int

	// Configs records the config passed to each StartSession call.
	Configs []convai.SessionConfig

	started       chan struct{}
	startedClosed bool
}

// Started returns a channel closed once StartSession has succeeded.
func (p *Provider) Started() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started == nil {
		p.started = make(chan struct{})
	}
	return p.started
}

// StartSession implements [convai.Provider]. It starts cfg.Audio and records
// every microphone frame on the returned Session.
func (p *Provider) StartSession(_ context.Context, cfg convai.SessionConfig) (convai.Session, error) {
	p.mu.Lock()
	p.CallCountStart++
	p.Configs = append(p.Configs, cfg)
	if p.StartErr != nil {
		err := p.StartErr
		p.mu.Unlock()
		return nil, err
	}
	if p.Session == nil {
		p.Session = &Session{ID: "mock-conversation"}
	}
	sess := p.Session
	if p.started == nil {
		p.started = make(chan struct{})
	}
	p.mu.Unlock()

	sess.init(cfg)
	if cfg.Audio != nil {
		if err := cfg.Audio.Start(sess.recordMic); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	if !p.startedClosed {
		close(p.started)
		p.startedClosed = true
	}
	p.mu.Unlock()
	return sess, nil
}

var (
	_ convai.Provider = (*Provider)(nil)
	_ convai.Session  = (*Session)(nil)
)

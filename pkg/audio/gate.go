package audio

import (
	"sync"
	"time"
)

// MutePadding is the tail added after every playback chunk to cover acoustic
// decay and output latency before the microphone is opened again.
const MutePadding = 200 * time.Millisecond

// Gate decides, per captured microphone frame, whether the frame may reach the
// agent. Every chunk of agent playback pushes a mute deadline forward; frames
// that arrive before the deadline are dropped.
//
// The deadline only ever moves forward until [Gate.Reset] is called. All
// methods are safe for concurrent use and none of them block beyond a short
// mutex hold. The zero value is ready to use and reads the wall clock.
type Gate struct {
	mu         sync.Mutex
	mutedUntil time.Time
	now        func() time.Time
}

// GateOption configures a [Gate].
type GateOption func(*Gate)

// WithClock replaces the clock used by the gate. Intended for tests.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate returns a Gate with no active mute.
func NewGate(opts ...GateOption) *Gate {
	g := &Gate{}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gate) clock() time.Time {
	if g.now != nil {
		return g.now()
	}
	return time.Now()
}

// OnPlayback records that byteLen bytes of audio were just written to the
// speaker and extends the mute deadline to
// max(deadline, now + chunkDuration + MutePadding).
func (g *Gate) OnPlayback(byteLen, sampleRate, sampleWidth int) {
	d := ChunkDuration(byteLen, sampleRate, sampleWidth) + MutePadding

	g.mu.Lock()
	defer g.mu.Unlock()
	if until := g.clock().Add(d); until.After(g.mutedUntil) {
		g.mutedUntil = until
	}
}

// Allow reports whether a microphone frame captured now may pass.
func (g *Gate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.clock().Before(g.mutedUntil)
}

// MutedUntil returns the current mute deadline. The zero time means no mute.
func (g *Gate) MutedUntil() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mutedUntil
}

// Reset clears the mute deadline. Called when a new session starts.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.mutedUntil = time.Time{}
	g.mu.Unlock()
}

package session

import (
	"context"
	"iter"
	"sync"
)

// Sink receives events from a running session. [Stream] is the production
// implementation; tests may supply their own.
type Sink interface {
	Push(Event) error
}

var _ Sink = (*Stream)(nil)

// Stream is an unbounded FIFO of events with a single consumer. The producer
// never blocks. The stream stops accepting events once a done event has been
// pushed and closes itself once that event has been read.
//
// All methods are safe for concurrent use.
type Stream struct {
	mu       sync.Mutex
	queue    []Event
	doneSent bool
	closed   bool
	notify   chan struct{}
	closeCh  chan struct{}
	hooks    []func()
	once     sync.Once
}

// NewStream returns an empty, open Stream.
func NewStream() *Stream {
	return &Stream{
		notify:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

// Push appends e to the stream. It returns [ErrStreamClosed] when a done event
// was already pushed or the stream is closed.
func (s *Stream) Push(e Event) error {
	s.mu.Lock()
	if s.doneSent || s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.queue = append(s.queue, e)
	if e.Terminal() {
		s.doneSent = true
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Next blocks until an event is available and returns it. It returns false
// when the stream is closed or ctx is done; the caller can tell the two apart
// with ctx.Err(). Reading the done event closes the stream.
func (s *Stream) Next(ctx context.Context) (Event, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Event{}, false
		}
		if len(s.queue) > 0 {
			e := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			if e.Terminal() {
				s.Close()
			}
			return e, true
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.closeCh:
		case <-ctx.Done():
			return Event{}, false
		}
	}
}

// All returns an iterator over the events of the stream. Iteration ends after
// the done event, when the stream is closed or when ctx is done.
func (s *Stream) All(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			e, ok := s.Next(ctx)
			if !ok || !yield(e) {
				return
			}
		}
	}
}

// Close detaches the consumer. Pending events are discarded, further pushes
// are rejected and OnClose hooks run. Calling Close more than once is safe.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		hooks := s.hooks
		s.hooks = nil
		s.mu.Unlock()

		close(s.closeCh)
		for _, fn := range hooks {
			fn()
		}
	})
}

// OnClose registers fn to run once when the stream closes. If the stream is
// already closed fn runs immediately.
func (s *Stream) OnClose(fn func()) {
	s.mu.Lock()
	if !s.closed {
		s.hooks = append(s.hooks, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Done returns a channel that is closed when the stream closes.
func (s *Stream) Done() <-chan struct{} { return s.closeCh }

// Closed reports whether the stream has been closed.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

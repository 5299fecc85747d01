package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/chinesetutor/internal/config"
	"github.com/MrWong99/chinesetutor/internal/observe"
	"github.com/MrWong99/chinesetutor/internal/session"
)

// StatusStarting is the first event of every session started through the
// [SessionManager].
const StatusStarting = "Starting live chat..."

// Runner runs one session to completion. [*session.Driver] is the production
// implementation.
type Runner interface {
	Run(ctx context.Context, req session.Request, sink session.Sink) (session.Result, error)
}

var _ Runner = (*session.Driver)(nil)

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	// AgentID is the agent the session talks to.
	AgentID string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// SessionHandle is the caller's view of one started session. Events are read
// from Stream; Cancel and Wait control the background worker.
type SessionHandle struct {
	info   SessionInfo
	stream *session.Stream
	cancel context.CancelFunc
	done   chan struct{}

	result session.Result
	err    error
}

// Stream returns the event stream of the session. It has exactly one
// consumer; closing it detaches the consumer and cancels the session.
func (h *SessionHandle) Stream() *session.Stream { return h.stream }

// Info returns metadata about the session.
func (h *SessionHandle) Info() SessionInfo { return h.info }

// Cancel asks the session to end. Calling it more than once, or after the
// session has finished, has no effect.
func (h *SessionHandle) Cancel() { h.cancel() }

// Done returns a channel closed once the worker has exited.
func (h *SessionHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the worker has exited and returns what the driver
// returned. A non-nil error means the session never got going (see
// [session.ErrConfig] and [session.ErrTransport]).
func (h *SessionHandle) Wait(ctx context.Context) (session.Result, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return session.Result{}, ctx.Err()
	}
}

// SessionManager owns the single active session of the process. At most one
// session runs at a time; a second Start fails fast with
// [session.ErrAlreadyRunning]. All exported methods are safe for concurrent
// use.
type SessionManager struct {
	mu     sync.Mutex
	active *SessionHandle

	runner  Runner
	metrics *observe.Metrics
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Runner drives each session. Required.
	Runner Runner

	// Metrics receives session metrics. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &SessionManager{runner: cfg.Runner, metrics: m}
}

// Start begins a new session in the background and returns its handle. The
// first event on the stream is a "Starting live chat..." status; the last is
// always a done event, even when the driver fails before the conversation
// starts.
//
// The session is not bound to ctx beyond its values: it ends when the agent
// closes the conversation, when [SessionHandle.Cancel] or [SessionManager.Stop]
// is called, or when the consumer closes the stream.
//
// The manager is free again once the consumer has drained the done event (or
// detached) and the worker has exited.
func (sm *SessionManager) Start(ctx context.Context, req session.Request) (*SessionHandle, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active != nil {
		return nil, session.ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx, span := observe.StartSpan(runCtx, "chat.session",
		trace.WithAttributes(attribute.String("agent_id", config.MaskAgentID(req.AgentID))),
	)
	stream := session.NewStream()
	h := &SessionHandle{
		info:   SessionInfo{AgentID: req.AgentID, StartedAt: time.Now().UTC()},
		stream: stream,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	stream.OnClose(cancel)
	sm.active = h

	sink := &observedSink{Sink: stream, ctx: runCtx, metrics: sm.metrics}
	sm.metrics.RecordSessionStart(runCtx)
	if err := stream.Push(session.StatusEvent(StatusStarting)); err == nil {
		sm.metrics.RecordEvent(runCtx, string(session.EventStatus))
	}

	go sm.work(runCtx, span, h, req, sink)
	go sm.release(h)

	observe.Logger(runCtx).Info("session manager: session started", "agent_id", config.MaskAgentID(req.AgentID))
	return h, nil
}

// work runs the driver. A driver error is reported as an error event followed
// by a done event with exit code 1.
func (sm *SessionManager) work(ctx context.Context, span trace.Span, h *SessionHandle, req session.Request, sink *observedSink) {
	defer close(h.done)
	defer h.cancel()

	res, err := sm.runner.Run(ctx, req, sink)
	defer func() { observe.EndSpan(span, err) }()
	if err != nil {
		observe.Logger(ctx).Error("session manager: session failed", "agent_id", config.MaskAgentID(req.AgentID), "err", err)
		_ = sink.Push(session.ErrorEvent(err.Error()))
		_ = sink.Push(session.DoneEvent(1, "", time.Time{}, time.Time{}))
	}

	status := observe.StatusOK
	switch {
	case errors.Is(err, session.ErrConfig):
		status = observe.StatusConfig
	case errors.Is(err, session.ErrTransport):
		status = observe.StatusTransport
	case err != nil || sink.exitCode() != 0:
		status = observe.StatusError
	}
	sm.metrics.RecordSessionEnd(ctx, status, time.Since(h.info.StartedAt))
	span.SetAttributes(
		attribute.String("conversation_id", res.ConversationID()),
		attribute.String("status", status),
	)

	h.result, h.err = res, err
}

// release clears the active handle once the consumer is gone and the worker
// has exited.
func (sm *SessionManager) release(h *SessionHandle) {
	<-h.stream.Done()
	<-h.done

	sm.mu.Lock()
	if sm.active == h {
		sm.active = nil
	}
	sm.mu.Unlock()
	slog.Debug("session manager: session released", "agent_id", config.MaskAgentID(h.info.AgentID))
}

// Stop cancels the active session. It reports false when no session is
// running. The session keeps emitting events until its done event.
func (sm *SessionManager) Stop() bool {
	sm.mu.Lock()
	h := sm.active
	sm.mu.Unlock()

	if h == nil {
		return false
	}
	h.Cancel()
	slog.Info("session manager: stop requested", "agent_id", config.MaskAgentID(h.info.AgentID))
	return true
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active != nil
}

// Info returns metadata about the active session.
// Returns zero value if no session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == nil {
		return SessionInfo{}
	}
	return sm.active.info
}

// Handle returns the handle of the active session, or nil.
func (sm *SessionManager) Handle() *SessionHandle {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// observedSink records a metric for every event that reaches the stream and
// remembers the exit code of the done event.
type observedSink struct {
	session.Sink
	ctx     context.Context
	metrics *observe.Metrics

	mu   sync.Mutex
	exit int
}

func (s *observedSink) Push(e session.Event) error {
	if err := s.Sink.Push(e); err != nil {
		return err
	}
	s.metrics.RecordEvent(s.ctx, string(e.Type))
	switch e.Type {
	case session.EventVocabularyCaptured:
		s.metrics.RecordVocab(s.ctx, e.Count)
	case session.EventDone:
		s.mu.Lock()
		s.exit = e.ExitCode
		s.mu.Unlock()
	}
	return nil
}

func (s *observedSink) exitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exit
}

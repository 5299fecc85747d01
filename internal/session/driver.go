// Package session runs one spoken conversation with a remote agent and
// reports it as an ordered stream of events.
//
// [Driver.Run] owns the whole lifecycle: it opens the local audio device
// behind a half-duplex gate, connects to the agent, turns transport callbacks
// into [Event] values, honours cancellation with a bounded wait for the agent
// to confirm the end, assembles the [Result] and hands it to a [Handoff].
//
// Events are delivered through a [Sink], normally a [Stream] read by exactly
// one consumer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/chinesetutor/pkg/audio"
	"github.com/MrWong99/chinesetutor/pkg/provider/convai"
)

var _ convai.Handler = (*transcript)(nil)

// DefaultEndTimeout bounds how long the driver waits for the agent to confirm
// the end of a cancelled conversation.
const DefaultEndTimeout = 10 * time.Second

// Status messages emitted by the driver.
const (
	StatusSessionStarted = "Session started"
	StatusStopping       = "Stopping conversation..."
	StatusFinished       = "Conversation finished"
)

// Request identifies the agent to talk to.
type Request struct {
	AgentID string
	APIKey  string
}

// Option configures a [Driver].
type Option func(*Driver)

// WithHandoff sets the component that receives the Result of every session.
// Without one no vocabulary_captured event is emitted.
func WithHandoff(h Handoff) Option {
	return func(d *Driver) { d.handoff = h }
}

// WithEndTimeout overrides [DefaultEndTimeout]. Non-positive values are ignored.
func WithEndTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		if timeout > 0 {
			d.endTimeout = timeout
		}
	}
}

// WithFormat sets the PCM format the audio device is opened with.
func WithFormat(f audio.Format) Option {
	return func(d *Driver) { d.format = f }
}

// WithClock replaces the clock used for timestamps. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// WithFrameDropHook registers fn to be called for every microphone frame the
// gate suppresses.
func WithFrameDropHook(fn func()) Option {
	return func(d *Driver) { d.onDrop = fn }
}

// Driver runs sessions. A Driver holds no per-session state and may be reused;
// callers are responsible for running at most one session at a time because
// there is only one microphone.
type Driver struct {
	platform   audio.Platform
	provider   convai.Provider
	handoff    Handoff
	format     audio.Format
	endTimeout time.Duration
	now        func() time.Time
	onDrop     func()
}

// NewDriver returns a Driver that opens audio on platform and talks to the
// agent through provider.
func NewDriver(platform audio.Platform, provider convai.Provider, opts ...Option) *Driver {
	d := &Driver{
		platform:   platform,
		provider:   provider,
		format:     audio.DefaultFormat,
		endTimeout: DefaultEndTimeout,
		now:        time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run holds one conversation and blocks until it has ended.
//
// Configuration problems (empty agent id, unusable audio device) return an
// error wrapping [ErrConfig] before any event is emitted or the network is
// touched. A transport that cannot be opened returns an error wrapping
// [ErrTransport]. In both cases no done event is emitted; the caller reports
// the failure.
//
// Otherwise Run returns a nil error and has emitted exactly one done event,
// whose exit code is 1 when the transport failed mid-session, did not confirm
// the end in time, or the handoff failed. Cancelling ctx ends the
// conversation normally, also while the transport is still connecting.
func (d *Driver) Run(ctx context.Context, req Request, sink Sink) (Result, error) {
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		return Result{}, fmt.Errorf("%w: agent id is required", ErrConfig)
	}

	dev, err := d.platform.Open(ctx, d.format)
	if err != nil {
		return Result{}, fmt.Errorf("%w: could not initialise audio, make sure a microphone and speakers are available: %w", ErrConfig, err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			slog.Warn("session: failed to close audio device", "err", err)
		}
	}()

	var hdOpts []audio.HalfDuplexOption
	if d.onDrop != nil {
		hdOpts = append(hdOpts, audio.WithDropHook(d.onDrop))
	}
	duplex := audio.NewHalfDuplex(dev, audio.NewGate(), hdOpts...)

	tr := newTranscript(sink, d.now)
	tr.emit(StatusEvent("Connecting to agent " + agentID))
	slog.Info("session: connecting", "agent_id", agentID)

	tr.markStarted()
	sess, err := d.provider.StartSession(ctx, convai.SessionConfig{
		AgentID: agentID,
		APIKey:  req.APIKey,
		Handler: tr,
		Audio:   duplex,
		Format:  dev.Format(),
	})
	var (
		conversationID string
		waitErr        error
	)
	switch {
	case err == nil:
		tr.emit(StatusEvent(StatusSessionStarted))
		conversationID, waitErr = d.wait(ctx, sess, tr)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Stopped while connecting: finish like any other cancelled session.
		slog.Info("session: cancelled while connecting", "agent_id", agentID)
	default:
		duplex.Stop()
		return Result{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	tr.seal()
	duplex.Stop()

	result := tr.result(conversationID)
	passed, dropped := duplex.Stats()
	slog.Info("session: conversation ended",
		"conversation_id", conversationID,
		"duration", result.EndedAt.Sub(result.StartedAt).Round(time.Millisecond),
		"frames_passed", passed,
		"frames_gated", dropped,
		"err", waitErr,
	)

	exitCode := 0
	if waitErr != nil {
		exitCode = 1
		tr.emit(ErrorEvent(waitErr.Error()))
	}

	userLines, agentLines := tr.counts()
	tr.emit(SummaryEvent(userLines, agentLines, conversationID))

	if d.handoff != nil {
		// The Result must be persisted even when the session was cancelled.
		n, err := d.handoff.Handoff(context.WithoutCancel(ctx), result)
		if err != nil {
			exitCode = 1
			slog.Error("session: handoff failed", "conversation_id", conversationID, "err", err)
			tr.emit(ErrorEvent("could not save session: " + err.Error()))
		} else {
			tr.emit(VocabularyCapturedEvent(n))
		}
	}

	tr.emit(StatusEvent(StatusFinished))
	started, ended := tr.times()
	tr.emit(DoneEvent(exitCode, conversationID, started, ended))
	return result, nil
}

// wait blocks until the conversation ends. On cancellation it asks the
// transport to end and waits at most endTimeout for confirmation.
func (d *Driver) wait(ctx context.Context, sess convai.Session, tr *transcript) (string, error) {
	id, err := sess.Wait(ctx)
	if err == nil {
		return d.conversationID(id, sess), nil
	}
	if ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
		return d.conversationID(id, sess), fmt.Errorf("%w: %w", ErrTransport, err)
	}

	tr.emit(StatusEvent(StatusStopping))
	if err := sess.End(); err != nil {
		slog.Warn("session: end request failed", "err", err)
	}

	endCtx, cancel := context.WithTimeout(context.Background(), d.endTimeout)
	defer cancel()
	id, err = sess.Wait(endCtx)
	switch {
	case err == nil:
		return d.conversationID(id, sess), nil
	case endCtx.Err() != nil && errors.Is(err, endCtx.Err()):
		return d.conversationID(id, sess), fmt.Errorf("%w: agent did not confirm the end within %s", ErrTransport, d.endTimeout)
	default:
		return d.conversationID(id, sess), fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

func (d *Driver) conversationID(id string, sess convai.Session) string {
	if id != "" {
		return id
	}
	return sess.ConversationID()
}

// safeEmit pushes e to sink. Rejections and panics are logged and suppressed
// so a misbehaving consumer can never break the session.
func safeEmit(sink Sink, e Event) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("session: event sink panicked", "type", e.Type, "panic", r)
		}
	}()
	if err := sink.Push(e); err != nil {
		if errors.Is(err, ErrStreamClosed) {
			slog.Debug("session: consumer detached, dropping event", "type", e.Type)
			return
		}
		slog.Warn("session: event sink rejected event", "type", e.Type, "err", err)
	}
}

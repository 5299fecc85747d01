package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/chinesetutor/internal/app"
	"github.com/MrWong99/chinesetutor/internal/observe"
	"github.com/MrWong99/chinesetutor/internal/session"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// fakeRunner emits "Session started", blocks until cancelled and then emits a
// done event. With err set it fails immediately instead.
type fakeRunner struct {
	err       error
	started   chan struct{}
	calls     atomic.Int32
	cancelled atomic.Bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan struct{}, 4)}
}

func (r *fakeRunner) Run(ctx context.Context, req session.Request, sink session.Sink) (session.Result, error) {
	r.calls.Add(1)
	r.started <- struct{}{}
	if r.err != nil {
		return session.Result{}, r.err
	}
	_ = sink.Push(session.StatusEvent(session.StatusSessionStarted))
	<-ctx.Done()
	r.cancelled.Store(true)
	now := time.Now()
	_ = sink.Push(session.DoneEvent(0, "conv-"+req.AgentID, now, now))
	return session.Result{Metadata: map[string]string{session.MetadataConversationID: "conv-" + req.AgentID}}, nil
}

func newTestSessionManager(r app.Runner) *app.SessionManager {
	return app.NewSessionManager(app.SessionManagerConfig{Runner: r})
}

func waitStarted(t *testing.T, r *fakeRunner) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(3 * time.Second):
		t.Fatal("runner was not started")
	}
}

// drain reads the stream until it ends and returns every event.
func drain(t *testing.T, s *session.Stream) []session.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var events []session.Event
	for e := range s.All(ctx) {
		events = append(events, e)
	}
	if ctx.Err() != nil {
		t.Fatalf("stream did not end; got %d events", len(events))
	}
	return events
}

func waitInactive(t *testing.T, sm *app.SessionManager) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for sm.IsActive() {
		if time.Now().After(deadline) {
			t.Fatal("session manager still active")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestSessionManager_StartStop(t *testing.T) {
	t.Parallel()

	r := newFakeRunner()
	sm := newTestSessionManager(r)

	h, err := sm.Start(context.Background(), session.Request{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStarted(t, r)

	if !sm.IsActive() {
		t.Fatal("expected session to be active after Start")
	}
	if info := sm.Info(); info.AgentID != "agent-1" || info.StartedAt.IsZero() {
		t.Errorf("Info() = %+v", info)
	}

	if !sm.Stop() {
		t.Fatal("Stop() = false, want true")
	}

	events := drain(t, h.Stream())
	if len(events) < 3 {
		t.Fatalf("got %d events, want at least 3", len(events))
	}
	if first := events[0]; first.Type != session.EventStatus || first.Message != app.StatusStarting {
		t.Errorf("first event = %+v, want %q status", first, app.StatusStarting)
	}
	last := events[len(events)-1]
	if last.Type != session.EventDone || last.ExitCode != 0 {
		t.Errorf("last event = %+v, want done(0)", last)
	}
	if !r.cancelled.Load() {
		t.Error("runner context was not cancelled")
	}

	res, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if res.ConversationID() != "conv-agent-1" {
		t.Errorf("ConversationID = %q", res.ConversationID())
	}

	waitInactive(t, sm)
	if info := sm.Info(); info != (app.SessionInfo{}) {
		t.Errorf("Info() after release = %+v, want zero", info)
	}
}

func TestSessionManager_DoubleStart(t *testing.T) {
	t.Parallel()

	r := newFakeRunner()
	sm := newTestSessionManager(r)

	h, err := sm.Start(context.Background(), session.Request{AgentID: "first"})
	if err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	waitStarted(t, r)

	h2, err := sm.Start(context.Background(), session.Request{AgentID: "second"})
	if !errors.Is(err, session.ErrAlreadyRunning) {
		t.Fatalf("second Start() err = %v, want ErrAlreadyRunning", err)
	}
	if h2 != nil {
		t.Error("second Start() returned a handle")
	}
	if got := r.calls.Load(); got != 1 {
		t.Errorf("runner calls = %d, want 1", got)
	}
	if r.cancelled.Load() {
		t.Error("running session was cancelled by the rejected start")
	}
	if sm.Info().AgentID != "first" {
		t.Errorf("active agent = %q, want first", sm.Info().AgentID)
	}

	h.Cancel()
	drain(t, h.Stream())
	waitInactive(t, sm)

	h3, err := sm.Start(context.Background(), session.Request{AgentID: "third"})
	if err != nil {
		t.Fatalf("Start() after release error: %v", err)
	}
	waitStarted(t, r)
	h3.Cancel()
	drain(t, h3.Stream())
}

func TestSessionManager_StopWithoutStart(t *testing.T) {
	t.Parallel()

	sm := newTestSessionManager(newFakeRunner())
	if sm.Stop() {
		t.Fatal("Stop() without Start = true, want false")
	}
	if sm.IsActive() {
		t.Fatal("Stop() without Start made the manager active")
	}
}

func TestSessionManager_StopAfterComplete(t *testing.T) {
	t.Parallel()

	r := newFakeRunner()
	sm := newTestSessionManager(r)

	h, err := sm.Start(context.Background(), session.Request{AgentID: "a"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStarted(t, r)
	h.Cancel()
	events := drain(t, h.Stream())
	waitInactive(t, sm)

	if sm.Stop() {
		t.Error("Stop() after completion = true, want false")
	}
	// Cancelling a finished handle is a no-op.
	h.Cancel()

	done := 0
	for _, e := range events {
		if e.Terminal() {
			done++
		}
	}
	if done != 1 {
		t.Errorf("done events = %d, want 1", done)
	}
}

func TestSessionManager_RepeatedStop(t *testing.T) {
	t.Parallel()

	r := newFakeRunner()
	sm := newTestSessionManager(r)

	h, err := sm.Start(context.Background(), session.Request{AgentID: "a"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStarted(t, r)

	sm.Stop()
	sm.Stop()
	h.Cancel()

	events := drain(t, h.Stream())
	if last := events[len(events)-1]; !last.Terminal() {
		t.Fatalf("last event = %+v, want done", last)
	}
}

func TestSessionManager_RunnerErrorBecomesErrorAndDone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{name: "config", err: fmt.Errorf("%w: agent id is required", session.ErrConfig)},
		{name: "transport", err: fmt.Errorf("%w: dial refused", session.ErrTransport)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newFakeRunner()
			r.err = tt.err
			sm := newTestSessionManager(r)

			h, err := sm.Start(context.Background(), session.Request{AgentID: "a"})
			if err != nil {
				t.Fatalf("Start() error: %v", err)
			}

			events := drain(t, h.Stream())
			if len(events) != 3 {
				t.Fatalf("got %d events, want status, error, done: %+v", len(events), events)
			}
			if events[0].Message != app.StatusStarting {
				t.Errorf("events[0] = %+v", events[0])
			}
			if events[1].Type != session.EventError || events[1].Message != tt.err.Error() {
				t.Errorf("events[1] = %+v, want error %q", events[1], tt.err)
			}
			if events[2].Type != session.EventDone || events[2].ExitCode != 1 {
				t.Errorf("events[2] = %+v, want done(1)", events[2])
			}

			if _, err := h.Wait(context.Background()); !errors.Is(err, tt.err) {
				t.Errorf("Wait() err = %v, want %v", err, tt.err)
			}
			waitInactive(t, sm)
		})
	}
}

func TestSessionManager_ConsumerDetachCancels(t *testing.T) {
	t.Parallel()

	r := newFakeRunner()
	sm := newTestSessionManager(r)

	h, err := sm.Start(context.Background(), session.Request{AgentID: "a"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStarted(t, r)

	h.Stream().Close()

	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not exit after the consumer detached")
	}
	if !r.cancelled.Load() {
		t.Error("runner was not cancelled")
	}
	waitInactive(t, sm)
}

func TestSessionManager_StartContextDoesNotCancel(t *testing.T) {
	t.Parallel()

	r := newFakeRunner()
	sm := newTestSessionManager(r)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := sm.Start(ctx, session.Request{AgentID: "a"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitStarted(t, r)
	cancel()

	select {
	case <-h.Done():
		t.Fatal("session ended when the start context was cancelled")
	case <-time.After(50 * time.Millisecond):
	}

	h.Cancel()
	drain(t, h.Stream())
}

func TestSessionManager_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	r := newFakeRunner()
	r.err = fmt.Errorf("%w: no microphone", session.ErrConfig)
	sm := app.NewSessionManager(app.SessionManagerConfig{Runner: r, Metrics: m})

	h, err := sm.Start(context.Background(), session.Request{AgentID: "a"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	drain(t, h.Stream())
	if _, err := h.Wait(context.Background()); err == nil {
		t.Fatal("Wait() error = nil")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	completed := int64(-1)
	events := int64(0)
	for _, scope := range rm.ScopeMetrics {
		for _, met := range scope.Metrics {
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch met.Name {
				case "chinesetutor.sessions.completed":
					if v, ok := dp.Attributes.Value("status"); ok && v.AsString() == observe.StatusConfig {
						completed = dp.Value
					}
				case "chinesetutor.events.emitted":
					events += dp.Value
				}
			}
		}
	}
	if completed != 1 {
		t.Errorf("sessions.completed{status=config} = %d, want 1", completed)
	}
	if events != 3 {
		t.Errorf("events.emitted = %d, want 3", events)
	}
}

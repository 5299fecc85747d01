package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/chinesetutor/internal/resilience"
	"github.com/MrWong99/chinesetutor/pkg/provider/convai"
	convaimock "github.com/MrWong99/chinesetutor/pkg/provider/convai/mock"
)

var errDial = errors.New("dial refused")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newBreaker(clock *fakeClock) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  3,
		ResetTimeout: time.Minute,
		Now:          clock.Now,
	})
}

func fail() error    { return errDial }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb := newBreaker(newFakeClock())
	for range 3 {
		if err := cb.Execute(fail); !errors.Is(err, errDial) {
			t.Fatalf("Execute() = %v, want errDial", err)
		}
	}
	if cb.State() != resilience.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("Execute() = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn was called while open")
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()

	cb := newBreaker(newFakeClock())
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != resilience.StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_CancellationIsNeutral(t *testing.T) {
	t.Parallel()

	cb := newBreaker(newFakeClock())
	for range 5 {
		_ = cb.Execute(func() error { return fmt.Errorf("dial: %w", context.Canceled) })
	}
	if cb.State() != resilience.StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		probe func() error
		want  resilience.State
	}{
		{name: "probe succeeds", probe: succeed, want: resilience.StateClosed},
		{name: "probe fails", probe: fail, want: resilience.StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()
			cb := newBreaker(clock)
			for range 3 {
				_ = cb.Execute(fail)
			}
			clock.Advance(time.Minute)
			if cb.State() != resilience.StateHalfOpen {
				t.Fatalf("state = %v, want half-open", cb.State())
			}

			_ = cb.Execute(tt.probe)
			if cb.State() != tt.want {
				t.Errorf("state = %v, want %v", cb.State(), tt.want)
			}
		})
	}
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newBreaker(clock)
	for range 3 {
		_ = cb.Execute(fail)
	}
	clock.Advance(time.Minute)

	release := make(chan struct{})
	probing := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(probing)
			<-release
			return nil
		})
	}()
	<-probing

	if err := cb.Execute(succeed); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("second call during probe = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe error: %v", err)
	}
	if cb.State() != resilience.StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := newBreaker(newFakeClock())
	for range 3 {
		_ = cb.Execute(fail)
	}
	cb.Reset()
	if cb.State() != resilience.StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Errorf("Execute() after Reset = %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    resilience.State
		want string
	}{
		{resilience.StateClosed, "closed"},
		{resilience.StateOpen, "open"},
		{resilience.StateHalfOpen, "half-open"},
		{resilience.State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestGuardAgent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	inner := &convaimock.Provider{StartErr: errDial}
	g := resilience.GuardAgent(inner, resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Minute,
		Now:          clock.Now,
	})

	cfg := convai.SessionConfig{AgentID: "agent-1"}
	for range 2 {
		if _, err := g.StartSession(context.Background(), cfg); !errors.Is(err, errDial) {
			t.Fatalf("StartSession() = %v, want errDial", err)
		}
	}
	if _, err := g.StartSession(context.Background(), cfg); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("StartSession() while open = %v, want ErrCircuitOpen", err)
	}
	if inner.CallCountStart != 2 {
		t.Errorf("inner StartSession calls = %d, want 2", inner.CallCountStart)
	}

	inner.StartErr = nil
	clock.Advance(time.Minute)
	sess, err := g.StartSession(context.Background(), convai.SessionConfig{AgentID: "agent-1", Audio: nil})
	if err != nil {
		t.Fatalf("probe StartSession() error: %v", err)
	}
	if sess == nil {
		t.Fatal("probe returned a nil session")
	}
	if g.Breaker().State() != resilience.StateClosed {
		t.Errorf("state = %v, want closed", g.Breaker().State())
	}
}

func TestGuardAgent_CancelledDialIsNeutral(t *testing.T) {
	t.Parallel()

	inner := &convaimock.Provider{StartErr: context.Canceled}
	g := resilience.GuardAgent(inner, resilience.CircuitBreakerConfig{MaxFailures: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 3 {
		if _, err := g.StartSession(ctx, convai.SessionConfig{AgentID: "agent-1"}); !errors.Is(err, context.Canceled) {
			t.Fatalf("StartSession() = %v, want context.Canceled", err)
		}
	}
	if got := g.Breaker().State(); got != resilience.StateClosed {
		t.Errorf("state = %v, want closed after cancelled dials", got)
	}
	if inner.CallCountStart != 3 {
		t.Errorf("inner StartSession calls = %d, want 3", inner.CallCountStart)
	}
}

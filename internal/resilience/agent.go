package resilience

import (
	"context"

	"github.com/MrWong99/chinesetutor/pkg/provider/convai"
)

// Compile-time interface assertion.
var _ convai.Provider = (*GuardedAgent)(nil)

// GuardedAgent is a [convai.Provider] whose StartSession calls pass through a
// [CircuitBreaker]. Only connection attempts are guarded; a session that has
// started is not affected by the breaker.
type GuardedAgent struct {
	provider convai.Provider
	breaker  *CircuitBreaker
}

// GuardAgent wraps p with a breaker built from cfg.
func GuardAgent(p convai.Provider, cfg CircuitBreakerConfig) *GuardedAgent {
	if cfg.Name == "" {
		cfg.Name = "agent"
	}
	return &GuardedAgent{provider: p, breaker: NewCircuitBreaker(cfg)}
}

// Breaker returns the breaker guarding connection attempts.
func (g *GuardedAgent) Breaker() *CircuitBreaker { return g.breaker }

// StartSession implements [convai.Provider]. It returns [ErrCircuitOpen]
// without dialling while the breaker is open.
func (g *GuardedAgent) StartSession(ctx context.Context, cfg convai.SessionConfig) (convai.Session, error) {
	var sess convai.Session
	err := g.breaker.Execute(func() error {
		var err error
		sess, err = g.provider.StartSession(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

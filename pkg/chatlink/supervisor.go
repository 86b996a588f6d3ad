package chatlink

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// reconnectPolicy schedules reconnection attempts: attempt n waits
// base × n, and the budget is capped at maxAttempts. It implements
// backoff.BackOff so the supervisor and tests drive it through the
// standard interface.
type reconnectPolicy struct {
	base        time.Duration
	maxAttempts int
	attempt     int
}

var _ backoff.BackOff = (*reconnectPolicy)(nil)

func newReconnectPolicy(base time.Duration, maxAttempts int) *reconnectPolicy {
	return &reconnectPolicy{base: base, maxAttempts: maxAttempts}
}

func (p *reconnectPolicy) NextBackOff() time.Duration {
	if p.attempt >= p.maxAttempts {
		return backoff.Stop
	}
	p.attempt++
	return p.base * time.Duration(p.attempt)
}

func (p *reconnectPolicy) Reset() {
	p.attempt = 0
}

// Attempt reports the attempt number the last NextBackOff scheduled.
func (p *reconnectPolicy) Attempt() int {
	return p.attempt
}

// supervise re-establishes a lost session. It runs on its own goroutine,
// one instance at a time; disconnect() cancels ctx and stops it mid-backoff.
// Auth rejection and an exhausted budget are terminal: the session settles
// in DISCONNECTED and the consumer hears about it exactly once.
func (s *Session) supervise(ctx context.Context) {
	policy := newReconnectPolicy(s.cfg.ReconnectBaseDelay, s.cfg.MaxReconnectAttempts)

	defer func() {
		s.mu.Lock()
		s.supervising = false
		s.mu.Unlock()
	}()

	for {
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			s.mu.Lock()
			s.state = StateDisconnected
			s.lastErr = ErrReconnectFailed
			s.mu.Unlock()
			s.disp.emitError(ErrReconnectFailed)
			return
		}

		s.disp.emitReconnecting(policy.Attempt())
		s.log.Info("scheduling reconnect",
			zap.Int("attempt", policy.Attempt()),
			zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err := s.dial(ctx)
		if err == nil {
			return
		}

		var authErr *AuthError
		if errors.As(err, &authErr) {
			s.mu.Lock()
			s.state = StateDisconnected
			s.lastErr = err
			s.mu.Unlock()
			s.disp.emitError(err)
			return
		}

		s.log.Warn("reconnect attempt failed",
			zap.Int("attempt", policy.Attempt()),
			zap.Error(err))
	}
}

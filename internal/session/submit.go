package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MEKXH/familiar/internal/agent"
	"github.com/MEKXH/familiar/internal/claudecli"
	"github.com/cenkalti/backoff/v4"
)

const (
	maxSubmitAttempts = 3
	initialBackoff    = 500 * time.Millisecond
	maxBackoff        = 4 * time.Second
)

// exhaustedError marks a submission that failed on every attempt.
type exhaustedError struct {
	last error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("Claude request failed after multiple attempts: %v", e.last)
}

func (e *exhaustedError) Unwrap() error { return e.last }

func newSubmitBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.Multiplier = 2
	b.MaxInterval = maxBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, maxSubmitAttempts-1), ctx)
}

// submitWithRetry connects if needed and sends prompt, forcing a reconnect
// between failed attempts.
func (s *Session) submitWithRetry(ctx context.Context, q *activeQuery, prompt, sessionID string) (agent.Client, error) {
	var (
		client  agent.Client
		attempt int
	)
	operation := func() error {
		attempt++
		if attempt > 1 {
			s.markRestart()
		}
		if err := s.EnsureConnected(ctx); err != nil {
			if errors.Is(err, ErrNotReady) || errors.Is(err, claudecli.ErrUnavailable) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		c, serial := s.currentClient()
		if c == nil {
			return agent.ErrNotConnected
		}
		// Hooks for this prompt must find the query before it is sent.
		q.serial.Store(serial)
		err := c.Query(ctx, prompt, sessionID)
		s.deps.Metrics.RecordSubmitAttempt(err)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		client = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("claude request failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}

	err := backoff.RetryNotifyWithTimer(operation, newSubmitBackOff(ctx), notify, s.timer)
	if err == nil {
		return client, nil
	}
	if errors.Is(err, ErrNotReady) || errors.Is(err, claudecli.ErrUnavailable) || ctx.Err() != nil {
		return nil, err
	}
	s.markRestart()
	return nil, &exhaustedError{last: err}
}

func submitErrorMessage(err error) string {
	var notReady *NotReadyError
	if errors.As(err, &notReady) {
		return notReady.Message
	}
	var unavailable *claudecli.UnavailableError
	if errors.As(err, &unavailable) {
		return unavailable.Reason
	}
	return err.Error()
}

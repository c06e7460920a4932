// Package backoff holds the single reconnect policy shared by everything in
// the service that redials a lost transport: the AMQP consumer, and clients
// of the socket and notification endpoints.
package backoff

import (
	"context"
	"time"
)

// Policy is a capped exponential backoff with a bounded attempt count.
type Policy struct {
	Initial     time.Duration
	Max         time.Duration
	Factor      int
	MaxAttempts int
}

// Default matches the client-observed reconnection contract: 1s initial,
// doubling, capped at 30s.
func Default() Policy {
	return Policy{
		Initial:     time.Second,
		Max:         30 * time.Second,
		Factor:      2,
		MaxAttempts: 10,
	}
}

// Delay returns the wait before the given zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Initial
	for i := 0; i < attempt; i++ {
		d *= time.Duration(p.Factor)
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Retry runs op until it succeeds, the attempt budget is exhausted, or ctx is
// cancelled. The last error is returned on failure.
func (p Policy) Retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

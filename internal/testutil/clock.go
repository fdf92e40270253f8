// clock.go - Manual clock for backoff tests
package testutil

import (
	"context"
	"sync"
	"time"
)

// ManualClock records every requested sleep and returns immediately.
type ManualClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

// Sleep records d. It still honours an already-cancelled context.
func (c *ManualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	return nil
}

// Sleeps returns a copy of the recorded durations.
func (c *ManualClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

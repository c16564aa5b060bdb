// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces consecutive calls to Wait by a fixed delay. The first
// call never blocks and a zero delay disables throttling. It is safe for
// concurrent use.
type Throttle struct {
	delay   time.Duration
	limiter *rate.Limiter
}

// NewThrottle returns a throttle spacing calls by delay.
func NewThrottle(delay time.Duration) *Throttle {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Throttle{delay: delay, limiter: rate.NewLimiter(limit, 1)}
}

// Delay returns the configured spacing.
func (t *Throttle) Delay() time.Duration { return t.delay }

// Wait blocks until the next slot or until ctx is done. It fails at once
// when the slot lies beyond the context deadline.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"sponsorscope/pkg/logger"
)

// Reserver is the interface workers use to take capacity before a network call
type Reserver interface {
	// Reserve blocks until weight calls may proceed or ctx is cancelled
	Reserve(ctx context.Context, weight int) error
	// Report reconciles the local estimate against upstream response headers
	Report(headers http.Header)
}

// Budget tracks the remaining calls per window for one credentialed client.
// The API token and the authenticated-session scraper are throttled by
// different upstream policies, so each gets its own Budget.
type Budget struct {
	name       string
	capacity   int
	remaining  int
	window     time.Duration
	resetAt    time.Time
	pauseUntil time.Time
	mu         sync.Mutex
	logger     logger.Logger
}

// NewBudget creates a budget of capacity calls per window
func NewBudget(name string, capacity int, window time.Duration, log logger.Logger) *Budget {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Budget{
		name:      name,
		capacity:  capacity,
		remaining: capacity,
		window:    window,
		resetAt:   time.Now().Add(window),
		logger:    log,
	}
}

// Reserve takes weight calls from the budget, blocking until capacity is
// available or the context is cancelled. Waits are bounded by the next
// window reset or the end of a secondary-rate-limit pause, whichever is later.
func (b *Budget) Reserve(ctx context.Context, weight int) error {
	if weight <= 0 {
		weight = 1
	}
	// A window refill restores at most capacity, so a heavier reservation
	// would wait forever.
	if weight > b.capacity {
		return fmt.Errorf("reservation of %d exceeds budget %s capacity %d",
			weight, b.name, b.capacity)
	}

	for {
		b.mu.Lock()
		now := time.Now()
		b.refillLocked(now)

		wakeAt := b.resetAt
		if b.pauseUntil.After(now) {
			wakeAt = b.pauseUntil
		} else if b.remaining >= weight {
			b.remaining -= weight
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()

		b.logger.DebugWithFields("budget exhausted, waiting", map[string]interface{}{
			"budget":  b.name,
			"weight":  weight,
			"wake_at": wakeAt,
		})

		if err := sleepUntil(ctx, wakeAt); err != nil {
			return err
		}
	}
}

// TryReserve attempts to take weight calls without blocking
func (b *Budget) TryReserve(weight int) bool {
	if weight <= 0 {
		weight = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.refillLocked(now)

	if b.pauseUntil.After(now) || b.remaining < weight {
		return false
	}
	b.remaining -= weight
	return true
}

// Report reconciles the local estimate against the upstream's rate-limit
// response headers. A Retry-After header is treated as a secondary rate
// limit and pauses every caller of this budget for the signalled duration.
func (b *Budget) Report(headers http.Header) {
	if headers == nil {
		return
	}

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			b.Backoff(time.Duration(secs) * time.Second)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if rem := headers.Get("X-RateLimit-Remaining"); rem != "" {
		if val, err := strconv.Atoi(rem); err == nil && val < b.remaining {
			// Upstream knows better than our local count; never raise
			// the estimate, only lower it.
			b.remaining = val
		}
	}

	if reset := headers.Get("X-RateLimit-Reset"); reset != "" {
		if unix, err := strconv.ParseInt(reset, 10, 64); err == nil {
			resetAt := time.Unix(unix, 0)
			if resetAt.After(time.Now()) {
				b.resetAt = resetAt
			}
		}
	}
}

// Backoff pauses all callers for the signalled duration. Used when the
// upstream issues an explicit secondary-rate-limit hint.
func (b *Budget) Backoff(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	until := time.Now().Add(d)
	if until.After(b.pauseUntil) {
		b.pauseUntil = until
		b.logger.WarnWithFields("secondary rate limit, pausing budget", map[string]interface{}{
			"budget":   b.name,
			"duration": d,
		})
	}
}

// Remaining returns the current local estimate of available calls
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())
	return b.remaining
}

// refillLocked resets the window once it has elapsed. Callers must hold mu.
func (b *Budget) refillLocked(now time.Time) {
	if !now.Before(b.resetAt) {
		b.remaining = b.capacity
		b.resetAt = now.Add(b.window)
	}
}

// sleepUntil waits until the deadline or context cancellation. A small
// floor prevents busy looping when the deadline is already past.
func sleepUntil(ctx context.Context, deadline time.Time) error {
	d := time.Until(deadline)
	if d < 50*time.Millisecond {
		d = 50 * time.Millisecond
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

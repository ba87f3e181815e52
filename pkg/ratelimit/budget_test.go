package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"sponsorscope/pkg/logger"
)

func TestReserveGrantsUpToCapacity(t *testing.T) {
	b := NewBudget("api", 5, time.Minute, logger.NewNopLogger())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := b.Reserve(ctx, 1); err != nil {
			t.Fatalf("expected grant %d, got %v", i+1, err)
		}
	}

	if b.TryReserve(1) {
		t.Error("expected budget to be exhausted")
	}
}

func TestReserveWaitsUntilWindowReset(t *testing.T) {
	b := NewBudget("api", 2, 300*time.Millisecond, logger.NewNopLogger())

	ctx := context.Background()
	if err := b.Reserve(ctx, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The N+1th reservation must wait for the next window, not fail.
	start := time.Now()
	if err := b.Reserve(ctx, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if waited := time.Since(start); waited < 200*time.Millisecond {
		t.Errorf("expected reservation to wait for window reset, waited %v", waited)
	}
}

func TestReserveRejectsWeightAboveCapacity(t *testing.T) {
	b := NewBudget("api", 5, time.Minute, logger.NewNopLogger())

	// A refill restores at most capacity, so this could never be granted.
	if err := b.Reserve(context.Background(), 6); err == nil {
		t.Fatal("expected error for reservation above capacity")
	}

	// The budget itself stays usable.
	if err := b.Reserve(context.Background(), 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReserveRespectsCancellation(t *testing.T) {
	b := NewBudget("api", 1, time.Hour, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	if err := b.Reserve(ctx, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- b.Reserve(ctx, 1)
	}()

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reservation did not observe cancellation")
	}
}

func TestReportLowersRemaining(t *testing.T) {
	b := NewBudget("api", 100, time.Hour, logger.NewNopLogger())

	headers := http.Header{}
	headers.Set("X-RateLimit-Remaining", "3")
	b.Report(headers)

	if got := b.Remaining(); got != 3 {
		t.Errorf("expected remaining 3 after reconciliation, got %d", got)
	}

	// Reconciliation never raises the local estimate.
	headers.Set("X-RateLimit-Remaining", "50")
	b.Report(headers)
	if got := b.Remaining(); got != 3 {
		t.Errorf("expected remaining to stay at 3, got %d", got)
	}
}

func TestSecondaryRateLimitPausesAllCallers(t *testing.T) {
	b := NewBudget("session", 10, time.Hour, logger.NewNopLogger())

	headers := http.Header{}
	headers.Set("Retry-After", "1")
	b.Report(headers)

	if b.TryReserve(1) {
		t.Error("expected reservation to be denied during backoff pause")
	}

	start := time.Now()
	if err := b.Reserve(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if waited := time.Since(start); waited < 900*time.Millisecond {
		t.Errorf("expected caller to pause for the signalled duration, waited %v", waited)
	}
}

func TestIndependentBudgets(t *testing.T) {
	api := NewBudget("api", 1, time.Hour, logger.NewNopLogger())
	session := NewBudget("session", 1, time.Hour, logger.NewNopLogger())

	if !api.TryReserve(1) {
		t.Fatal("expected api grant")
	}

	// Exhausting one budget must not affect the other.
	if !session.TryReserve(1) {
		t.Error("expected session grant after api exhaustion")
	}
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	errs "sponsorscope/pkg/errors"
	"sponsorscope/pkg/logger"
)

func fastConfig(maxAttempts int) *Config {
	return &Config{
		MaxAttempts: maxAttempts,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
		Logger:      logger.NewNopLogger(),
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return nil
	}, fastConfig(3))

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		if calls < 3 {
			return &errs.Error{Type: errs.ErrorTypeNetwork, Message: "connection reset"}
		}
		return nil
	}, fastConfig(5))

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return &errs.Error{Type: errs.ErrorTypeServerError, Message: "boom", Code: 500}
	}, fastConfig(5))

	assert.Error(t, err)
	assert.Equal(t, 5, calls)
}

func TestDoDoesNotRetryNonRetryable(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return &errs.Error{Type: errs.ErrorTypeNotFound, Message: "gone", Code: 404}
	}, fastConfig(5))

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(0)
	cfg.Context = ctx
	cfg.Backoff = &ConstantBackoff{Delay: time.Hour}

	done := make(chan error, 1)
	go func() {
		done <- Do(func() error {
			return &errs.Error{Type: errs.ErrorTypeNetwork, Message: "down"}
		}, cfg)
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	}, fastConfig(3))

	assert.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestExponentialBackoffCapsDelay(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:  time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2.0,
	}

	assert.Equal(t, time.Second, eb.NextDelay(1))
	assert.Equal(t, 2*time.Second, eb.NextDelay(2))
	assert.Equal(t, 60*time.Second, eb.NextDelay(10))
	assert.Equal(t, time.Duration(0), eb.NextDelay(0))
}

func TestCrawlConfigPolicy(t *testing.T) {
	cfg := CrawlConfig(context.Background(), logger.NewNopLogger())

	assert.Equal(t, 5, cfg.MaxAttempts)
	eb, ok := cfg.Backoff.(*ExponentialBackoff)
	assert.True(t, ok)
	assert.Equal(t, time.Second, eb.BaseDelay)
	assert.Equal(t, 60*time.Second, eb.MaxDelay)
	assert.Equal(t, 2.0, eb.Multiplier)
}

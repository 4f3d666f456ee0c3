package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBusy = errors.New("busy")

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", fastRetry(5), func() error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err = %v after %d calls", err, calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", fastRetry(3), func() error {
		calls++
		return errBusy
	})
	if !errors.Is(err, errBusy) || calls != 3 {
		t.Errorf("err = %v after %d calls", err, calls)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad input")
	cfg := fastRetry(5)
	cfg.Retryable = func(err error) bool { return errors.Is(err, errBusy) }
	calls := 0
	err := Retry(context.Background(), "op", cfg, func() error {
		calls++
		return permanent
	})
	if err != permanent || calls != 1 {
		t.Errorf("err = %v after %d calls, want the permanent error after one call", err, calls)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, "op", fastRetry(5), func() error { return errBusy })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRetryReportsEachBackoff(t *testing.T) {
	cfg := fastRetry(4)
	var attempts []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		if !errors.Is(err, errBusy) || delay <= 0 || delay > cfg.MaxDelay {
			t.Errorf("attempt %d: err %v delay %v", attempt, err, delay)
		}
		attempts = append(attempts, attempt)
	}
	Retry(context.Background(), "op", cfg, func() error { return errBusy })
	if len(attempts) != 3 || attempts[0] != 1 || attempts[2] != 3 {
		t.Errorf("OnRetry attempts = %v, want [1 2 3]", attempts)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2, JitterFraction: 0.1}.withDefaults()
	first := cfg.backoff(1)
	if first < 9*time.Millisecond || first > 11*time.Millisecond {
		t.Errorf("first delay = %v, want about 10ms", first)
	}
	third := cfg.backoff(3)
	if third < 36*time.Millisecond || third > 44*time.Millisecond {
		t.Errorf("third delay = %v, want about 40ms", third)
	}
	if got := cfg.backoff(10); got != cfg.MaxDelay {
		t.Errorf("tenth delay = %v, want cap %v", got, cfg.MaxDelay)
	}
}

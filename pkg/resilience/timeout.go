package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/trieindex/pkg/errors"
)

// WithTimeout runs fn under a deadline of timeout. fn runs on the caller's
// goroutine and must honour ctx. When fn fails after the deadline passed,
// the error wraps apperrors.ErrTimeout as well as fn's own error. A zero
// timeout runs fn unbounded.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	bounded, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(bounded)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(bounded.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s exceeded %v: %w: %w", name, timeout, apperrors.ErrTimeout, err)
	}
	return err
}

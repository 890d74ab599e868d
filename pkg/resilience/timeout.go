package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/errors"
)

// WithTimeout runs fn on the calling goroutine under a deadline of timeout.
// A non-positive timeout means no deadline. fn must honour ctx.
//
// When the deadline fires the error is tagged with errors.ErrTimeout and
// still matches context.DeadlineExceeded. Cancellation of the parent ctx is
// passed through untouched.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(tctx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if errors.Is(tctx.Err(), context.DeadlineExceeded) {
		if !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return fmt.Errorf("%s exceeded %v: %w", name, timeout, apperrors.Wrap(apperrors.ErrTimeout, err))
	}
	return err
}

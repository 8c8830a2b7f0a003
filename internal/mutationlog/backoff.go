package mutationlog

import (
	"context"
	"errors"
	"time"

	"github.com/marcus/ormsync/internal/ormerrors"
)

// retryWithBackoff retries fn while it returns an ormerrors.NetworkError
// (the distinguished retryable failure kind), doubling the delay from a
// 1-second base each attempt, up to maxAttempts. Any other error returns
// immediately -- only connectivity failures are worth retrying blindly;
// a rejected/invalid batch is not.
func retryWithBackoff(ctx context.Context, maxAttempts int, fn func() error) error {
	delay := time.Second
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		var netErr *ormerrors.NetworkError
		if !errors.As(err, &netErr) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

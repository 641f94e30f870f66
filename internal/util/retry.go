package util

import (
	"context"
	"time"
)

// Retry runs fn up to maxAttempts times, doubling the wait between attempts
// from baseDelay. The first nil ends the loop; otherwise the last error is
// returned. Context cancellation aborts a wait, never a running attempt.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}

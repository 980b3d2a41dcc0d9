package helper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

// RetryWithBackoff runs operation up to maxAttempts times, doubling baseDelay
// after every failure. It returns the last error when all attempts fail.
func RetryWithBackoff(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				log.Debug().Int("attempt", attempt).Msg("operation succeeded after retry")
			}
			return nil
		}

		if attempt == maxAttempts {
			break
		}
		log.Debug().Err(lastErr).Int("attempt", attempt).Int("max_attempts", maxAttempts).Msg("operation failed, will retry")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}

	return lastErr
}

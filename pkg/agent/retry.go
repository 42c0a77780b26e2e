package agent

import (
	"context"
	"fmt"
	"time"
)

// completeWithRetry calls the provider with bounded exponential backoff.
// MaxRetries counts retries after the first attempt, so MaxRetries=3 allows
// four calls in total. Permanent errors are returned immediately; the retry
// budget always terminates, so a failing provider ends the run instead of
// spinning.
func (l *Loop) completeWithRetry(ctx context.Context, request Request) (*Response, error) {
	maxRetries := l.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	attempts := maxRetries + 1

	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		response, err := l.provider.Complete(ctx, request)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return nil, err
		}

		if attempt == attempts-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delay := time.Duration(1<<attempt) * time.Second
		l.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying model call after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
}

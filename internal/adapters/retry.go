package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnauthorized marks upstream 401/403 responses. Retrying cannot help;
// the adapter flips itself unhealthy for the remainder of the process.
var ErrUnauthorized = errors.New("upstream rejected credentials")

const (
	retryAttempts  = 3
	retryBaseDelay = time.Second
)

// Retry runs fn up to three times with 1x/2x/3x multiples of the base
// delay between attempts. Auth failures and context cancellation stop the
// loop immediately.
func Retry(ctx context.Context, fn func() error) error {
	var last error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn()
		if last == nil {
			return nil
		}
		if errors.Is(last, ErrUnauthorized) {
			return last
		}
		if attempt == retryAttempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * retryBaseDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("after %d attempts: %w", retryAttempts, last)
}

package infra

import (
	"context"
	"fmt"
	"time"
)

const connectPause = time.Second

// waitReady calls ping until it succeeds, attempts run out or ctx ends.
// Containers in a compose stack routinely start before their database does.
func waitReady(ctx context.Context, attempts int, pause time.Duration, ping func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}

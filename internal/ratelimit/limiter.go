// Package ratelimit implements fixed-window attempt counters in Redis. The
// window opens on the first attempt and closes when the key expires; every
// attempt counts, allowed or not.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithExpire increments the counter and arms the expiry in one atomic
// step. The TTL is also armed when the key exists without one, so a counter
// left behind by a non-atomic writer cannot block a subject forever.
var incrWithExpire = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 or redis.call('PTTL', KEYS[1]) < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// Decision is the outcome of one Check.
type Decision struct {
	Allowed bool
	Count   int64
}

// Limiter counts attempts per subject within a window.
type Limiter struct {
	cache  *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

// New builds a limiter allowing limit attempts per window for keys prefix+subject.
func New(cache *redis.Client, prefix string, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{cache: cache, prefix: prefix, limit: int64(limit), window: window}
}

// NewTransferLimiter returns the limiter guarding transfers: 5 per minute per sender.
func NewTransferLimiter(cache *redis.Client, limit int, window time.Duration) *Limiter {
	return New(cache, "transfer_limit:", limit, window)
}

// Check records one attempt for subject and reports whether it is within the limit.
func (l *Limiter) Check(ctx context.Context, subject string) (Decision, error) {
	key := l.prefix + subject
	count, err := incrWithExpire.Run(ctx, l.cache, []string{key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return Decision{Allowed: count <= l.limit, Count: count}, nil
}

// Limit returns the configured number of attempts per window.
func (l *Limiter) Limit() int64 {
	return l.limit
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

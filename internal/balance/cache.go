package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/ledgerd/internal/ledger"
)

const (
	keyPrefix = "balance:"

	// DefaultTTL bounds how stale a cached balance can be.
	DefaultTTL = 30 * time.Second

	invalidateAttempts = 3
	invalidateBackoff  = 50 * time.Millisecond
)

// WalletFinder is the slice of the relational store the cache reads through to.
type WalletFinder interface {
	FindWallet(ctx context.Context, userID string) (ledger.Wallet, error)
}

// Cache is a cache-aside wrapper for wallet balances. The cache is advisory:
// reads degrade to the store when Redis misbehaves, and writes only ever
// invalidate.
type Cache struct {
	cache  *redis.Client
	store  WalletFinder
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache builds a balance cache. A non-positive ttl selects DefaultTTL.
func NewCache(cache *redis.Client, store WalletFinder, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{cache: cache, store: store, ttl: ttl, logger: logger}
}

// Key returns the cache key holding userID's balance.
func Key(userID string) string {
	return keyPrefix + userID
}

// Read returns the balance for userID and whether it came from the cache.
// ledger.ErrWalletNotFound is returned unchanged when the user has no wallet.
func (c *Cache) Read(ctx context.Context, userID string) (decimal.Decimal, bool, error) {
	key := Key(userID)

	cached, err := c.cache.Get(ctx, key).Result()
	switch {
	case err == nil:
		amount, parseErr := decimal.NewFromString(cached)
		if parseErr == nil {
			return amount, true, nil
		}
		c.logger.Warn("discarding unparsable cached balance", slog.String("key", key), slog.Any("error", parseErr))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("balance cache lookup failed", slog.String("key", key), slog.Any("error", err))
	}

	wallet, err := c.store.FindWallet(ctx, userID)
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	if err := c.cache.Set(ctx, key, wallet.Balance.StringFixed(2), c.ttl).Err(); err != nil {
		c.logger.Warn("balance cache fill failed", slog.String("key", key), slog.Any("error", err))
	}
	return wallet.Balance, false, nil
}

// Invalidate drops the cached balances of the given users, retrying transient
// failures. The returned error means some entry may stay stale until its TTL.
func (c *Cache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, Key(id))
	}

	var err error
	for attempt := 1; attempt <= invalidateAttempts; attempt++ {
		if err = c.cache.Del(ctx, keys...).Err(); err == nil {
			return nil
		}
		c.logger.Warn("balance cache invalidation failed",
			slog.Any("keys", keys),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if attempt == invalidateAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("invalidate %v: %w", keys, ctx.Err())
		case <-time.After(time.Duration(attempt) * invalidateBackoff):
		}
	}
	return fmt.Errorf("invalidate %v: %w", keys, err)
}

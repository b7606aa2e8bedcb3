package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wallet-inspector/internal/types"
)

const summaryKeyPrefix = "summary"

// SummaryCache keeps recently assembled wallet summaries for a short TTL.
// It is a response cache only; nothing is indexed or kept beyond the TTL.
type SummaryCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewSummaryCache creates a new summary cache
func NewSummaryCache(redis *RedisCache, ttl time.Duration) *SummaryCache {
	return &SummaryCache{
		redis: redis,
		ttl:   ttl,
	}
}

// GenerateCacheKey builds the key for one inspection's parameters
// Format: summary:<wallet>:<lookback>:<max_events>
func GenerateCacheKey(wallet string, lookback uint64, maxEvents int) string {
	return strings.Join([]string{
		summaryKeyPrefix,
		strings.ToLower(wallet),
		strconv.FormatUint(lookback, 10),
		strconv.Itoa(maxEvents),
	}, ":")
}

// Get returns the cached summary, or false on a miss
func (c *SummaryCache) Get(ctx context.Context, key string) (*types.WalletSummary, bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		// Key not found is not an error, just a cache miss
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get from cache: %w", err)
	}

	var summary types.WalletSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached summary: %w", err)
	}

	return &summary, true, nil
}

// Set stores a summary with the configured TTL
func (c *SummaryCache) Set(ctx context.Context, key string, summary *types.WalletSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	return c.redis.Set(ctx, key, data, c.ttl)
}

// InvalidateWallet removes every cached summary of a wallet
func (c *SummaryCache) InvalidateWallet(ctx context.Context, wallet string) error {
	pattern := fmt.Sprintf("%s:%s:*", summaryKeyPrefix, strings.ToLower(wallet))
	keys, err := c.redis.Scan(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to find keys matching pattern: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	return c.redis.Del(ctx, keys...)
}

// TTL returns the configured TTL
func (c *SummaryCache) TTL() time.Duration {
	return c.ttl
}

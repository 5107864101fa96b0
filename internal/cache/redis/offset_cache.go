package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentinelfx/sentinel/internal/domain"
)

// offsetTTL bounds how long a cached venue clock offset survives without a
// fresh tick. Venue offsets only move on DST transitions, so a generous TTL
// is safe.
const offsetTTL = 7 * 24 * time.Hour

// ClockOffsetCache implements domain.ClockOffsetCache using plain Redis
// strings. Each account's venue clock offset is stored at
// "clock_offset:{platform}:{accountID}" in seconds.
type ClockOffsetCache struct {
	rdb *redis.Client
}

// NewClockOffsetCache creates a ClockOffsetCache backed by the given Client.
func NewClockOffsetCache(c *Client) *ClockOffsetCache {
	return &ClockOffsetCache{rdb: c.Underlying()}
}

func offsetKey(platform domain.PlatformKind, accountID string) string {
	return "clock_offset:" + string(platform) + ":" + accountID
}

// SetOffset stores the latest observed venue clock offset.
func (oc *ClockOffsetCache) SetOffset(ctx context.Context, platform domain.PlatformKind, accountID string, offset time.Duration) error {
	key := offsetKey(platform, accountID)
	secs := strconv.FormatInt(int64(offset/time.Second), 10)
	if err := oc.rdb.Set(ctx, key, secs, offsetTTL).Err(); err != nil {
		return fmt.Errorf("redis: set clock offset %s: %w", key, err)
	}
	return nil
}

// GetOffset retrieves the cached venue clock offset. It returns
// domain.ErrNotFound when no offset has been observed yet.
func (oc *ClockOffsetCache) GetOffset(ctx context.Context, platform domain.PlatformKind, accountID string) (time.Duration, error) {
	key := offsetKey(platform, accountID)
	val, err := oc.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get clock offset %s: %w", key, err)
	}

	secs, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse clock offset %s: %w", key, err)
	}
	return time.Duration(secs) * time.Second, nil
}

// Compile-time interface check.
var _ domain.ClockOffsetCache = (*ClockOffsetCache)(nil)

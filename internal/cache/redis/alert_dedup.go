package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentinelfx/sentinel/internal/domain"
)

// AlertDeduper implements domain.AlertDeduper using SET NX with a TTL. The
// first caller for a given (account, code, level) within the TTL window wins;
// repeats are suppressed until the key expires.
type AlertDeduper struct {
	rdb *redis.Client
}

// NewAlertDeduper creates an AlertDeduper backed by the given Client.
func NewAlertDeduper(c *Client) *AlertDeduper {
	return &AlertDeduper{rdb: c.Underlying()}
}

func dedupKey(accountLabel, code, level string) string {
	return "alert:" + accountLabel + ":" + code + ":" + level
}

// ShouldAlert reports whether an alert for this breach should be delivered.
func (ad *AlertDeduper) ShouldAlert(ctx context.Context, accountLabel string, code domain.BreachCode, level domain.BreachLevel, ttl time.Duration) (bool, error) {
	key := dedupKey(accountLabel, string(code), string(level))
	ok, err := ad.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: alert dedup %s: %w", key, err)
	}
	return ok, nil
}

// Compile-time interface check.
var _ domain.AlertDeduper = (*AlertDeduper)(nil)

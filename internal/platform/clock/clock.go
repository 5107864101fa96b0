// Package clock resolves a trading venue's own time. Brokers run their
// servers in their own timezone, and the day-start anchor must roll over on
// the venue's midnight, not the monitoring host's.
package clock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelfx/sentinel/internal/domain"
)

// ServerClock derives venue time from observed tick timestamps. The offset
// between venue time and host UTC is rounded to whole hours (broker clocks
// sit on hour boundaries; the sub-hour remainder is network latency).
//
// Resolution order for Now: a live tick-derived offset, then a cached offset
// from a previous run, then bare host UTC. The degraded fallbacks can cause
// a spurious day rollover near midnight under clock skew; that is an
// accepted, bounded inaccuracy rather than a fatal condition.
type ServerClock struct {
	platform  domain.PlatformKind
	accountID string
	cache     domain.ClockOffsetCache // may be nil
	logger    *slog.Logger

	mu     sync.Mutex
	offset time.Duration
	known  bool
	missed bool // cache lookup already failed, stop retrying every call
}

// New creates a ServerClock for one platform account. cache may be nil, in
// which case offsets do not survive restarts.
func New(platform domain.PlatformKind, accountID string, cache domain.ClockOffsetCache, logger *slog.Logger) *ServerClock {
	return &ServerClock{
		platform:  platform,
		accountID: accountID,
		cache:     cache,
		logger:    logger.With(slog.String("component", "server_clock")),
	}
}

// Observe records a venue tick timestamp and refreshes the stored offset.
func (c *ServerClock) Observe(ctx context.Context, tick time.Time) {
	if tick.IsZero() {
		return
	}
	offset := tick.Sub(time.Now().UTC()).Round(time.Hour)

	c.mu.Lock()
	changed := !c.known || offset != c.offset
	c.offset = offset
	c.known = true
	c.mu.Unlock()

	if !changed {
		return
	}
	c.logger.InfoContext(ctx, "venue clock offset detected",
		slog.String("platform", string(c.platform)),
		slog.String("account_id", c.accountID),
		slog.Duration("offset", offset),
	)
	if c.cache != nil {
		if err := c.cache.SetOffset(ctx, c.platform, c.accountID, offset); err != nil {
			c.logger.Warn("offset cache write failed", slog.String("error", err.Error()))
		}
	}
}

// Now returns the best estimate of current venue time.
func (c *ServerClock) Now(ctx context.Context) time.Time {
	now := time.Now().UTC()

	c.mu.Lock()
	if c.known {
		offset := c.offset
		c.mu.Unlock()
		return now.Add(offset)
	}
	tryCache := c.cache != nil && !c.missed
	c.mu.Unlock()

	if tryCache {
		offset, err := c.cache.GetOffset(ctx, c.platform, c.accountID)
		if err == nil {
			c.mu.Lock()
			c.offset = offset
			c.known = true
			c.mu.Unlock()
			return now.Add(offset)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("offset cache read failed", slog.String("error", err.Error()))
		}
		c.mu.Lock()
		c.missed = true
		c.mu.Unlock()
	}

	// Last resort: host UTC.
	return now
}

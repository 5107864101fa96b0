package domain

import (
	"context"
	"time"
)

// ClockOffsetCache remembers the detected venue-clock offset per platform
// account so a restarted process can resolve server time before the first
// tick arrives. Implementations return ErrNotFound on a cache miss.
type ClockOffsetCache interface {
	SetOffset(ctx context.Context, platform PlatformKind, accountID string, offset time.Duration) error
	GetOffset(ctx context.Context, platform PlatformKind, accountID string) (time.Duration, error)
}

// AlertDeduper suppresses repeat notifications for a breach that persists
// across consecutive evaluation cycles. ShouldAlert returns true the first
// time a key is seen within the TTL window.
type AlertDeduper interface {
	ShouldAlert(ctx context.Context, accountLabel string, code BreachCode, level BreachLevel, ttl time.Duration) (bool, error)
}

// LockManager provides distributed locks so two monitor instances do not
// watch (and alert on) the same account at once.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function. It returns ErrLockHeld when another holder owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

package clock

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelfx/sentinel/internal/domain"
)

type fakeOffsetCache struct {
	mu      sync.Mutex
	offsets map[string]time.Duration
}

func (f *fakeOffsetCache) key(p domain.PlatformKind, id string) string { return string(p) + ":" + id }

func (f *fakeOffsetCache) SetOffset(ctx context.Context, p domain.PlatformKind, id string, offset time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offsets == nil {
		f.offsets = make(map[string]time.Duration)
	}
	f.offsets[f.key(p, id)] = offset
	return nil
}

func (f *fakeOffsetCache) GetOffset(ctx context.Context, p domain.PlatformKind, id string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	offset, ok := f.offsets[f.key(p, id)]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return offset, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestObserveRoundsOffsetToHours(t *testing.T) {
	cache := &fakeOffsetCache{}
	c := New(domain.PlatformMT5, "1001", cache, testLogger())

	// A tick two hours ahead of host UTC, plus a little network latency.
	tick := time.Now().UTC().Add(2*time.Hour + 90*time.Millisecond)
	c.Observe(context.Background(), tick)

	got := c.Now(context.Background())
	assert.WithinDuration(t, time.Now().UTC().Add(2*time.Hour), got, time.Second)

	stored, err := cache.GetOffset(context.Background(), domain.PlatformMT5, "1001")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, stored)
}

func TestNowFallsBackToCachedOffset(t *testing.T) {
	cache := &fakeOffsetCache{}
	require.NoError(t, cache.SetOffset(context.Background(), domain.PlatformCTrader, "42", 3*time.Hour))

	// Fresh clock, no tick observed yet: the cached offset from the previous
	// run must apply.
	c := New(domain.PlatformCTrader, "42", cache, testLogger())
	got := c.Now(context.Background())
	assert.WithinDuration(t, time.Now().UTC().Add(3*time.Hour), got, time.Second)
}

func TestNowFallsBackToHostUTC(t *testing.T) {
	c := New(domain.PlatformMT5, "1001", nil, testLogger())
	got := c.Now(context.Background())
	assert.WithinDuration(t, time.Now().UTC(), got, time.Second)
}

func TestZeroTickIsIgnored(t *testing.T) {
	c := New(domain.PlatformMT5, "1001", nil, testLogger())
	c.Observe(context.Background(), time.Time{})
	assert.WithinDuration(t, time.Now().UTC(), c.Now(context.Background()), time.Second)
}

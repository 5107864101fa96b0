package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnchorTrackerFirstUpdateAnchorsDay(t *testing.T) {
	tr := NewAnchorTracker()
	require.False(t, tr.Anchored())
	assert.Zero(t, tr.Anchor())

	tr.Update(time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC), 100_000, 99_500)

	require.True(t, tr.Anchored())
	balance, equity := tr.DayStart()
	assert.Equal(t, 100_000.0, balance)
	assert.Equal(t, 99_500.0, equity)
	assert.Equal(t, 100_000.0, tr.Anchor())
	assert.Equal(t, "2025-03-10", tr.Date())
}

func TestAnchorTrackerIdempotentWithinDay(t *testing.T) {
	tr := NewAnchorTracker()
	tr.Update(time.Date(2025, 3, 10, 0, 0, 5, 0, time.UTC), 100_000, 100_000)

	// Later observations on the same venue date must not move the anchor,
	// no matter how the balance and equity drift during the session.
	tr.Update(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), 97_000, 95_000)
	tr.Update(time.Date(2025, 3, 10, 23, 59, 59, 0, time.UTC), 101_000, 102_000)

	balance, equity := tr.DayStart()
	assert.Equal(t, 100_000.0, balance)
	assert.Equal(t, 100_000.0, equity)
}

func TestAnchorTrackerRollsOverOnNewDate(t *testing.T) {
	tr := NewAnchorTracker()
	tr.Update(time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC), 100_000, 100_000)
	tr.Update(time.Date(2025, 3, 11, 0, 0, 1, 0, time.UTC), 98_200, 98_900)

	balance, equity := tr.DayStart()
	assert.Equal(t, 98_200.0, balance)
	assert.Equal(t, 98_900.0, equity)
	assert.Equal(t, 98_900.0, tr.Anchor())
	assert.Equal(t, "2025-03-11", tr.Date())
}

func TestAnchorTrackerUsesEquityWhenHigher(t *testing.T) {
	tr := NewAnchorTracker()
	tr.Update(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), 100_000, 103_000)
	assert.Equal(t, 103_000.0, tr.Anchor())
}

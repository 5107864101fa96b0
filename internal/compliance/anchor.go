// Package compliance holds the evaluation core of the sentinel: the
// day-start anchor tracker and the pure rule evaluator. Both are free of
// I/O; adapters and the monitor drive them.
package compliance

import "time"

// AnchorTracker freezes the balance and equity observed at the first moment
// of each venue trading day. That frozen pair anchors the daily-drawdown
// computation for the rest of the day.
//
// The tracker is owned exclusively by one account's monitoring loop and
// needs no locking. State lives in process memory only: a restart mid-day
// re-anchors at the then-current balance/equity, which understates the true
// day's drawdown. That behavior matches the legacy monitor and is left
// as-is deliberately.
type AnchorTracker struct {
	currentDate     string // venue-local calendar date, YYYY-MM-DD
	dayStartBalance float64
	dayStartEquity  float64
	set             bool
}

// NewAnchorTracker returns an empty tracker. The first Update call anchors
// the day.
func NewAnchorTracker() *AnchorTracker {
	return &AnchorTracker{}
}

// Update advances the tracker with a fresh observation stamped with the
// venue's own clock. On the first call, or when the venue calendar date has
// changed since the last call, the day-start pair is overwritten with the
// given balance and equity. Further calls on the same date are no-ops, so
// repeated updates within a day leave the anchor untouched.
func (t *AnchorTracker) Update(serverTime time.Time, balance, equity float64) {
	date := serverTime.Format("2006-01-02")
	if t.set && date == t.currentDate {
		return
	}
	t.currentDate = date
	t.dayStartBalance = balance
	t.dayStartEquity = equity
	t.set = true
}

// DayStart returns the frozen day-start balance and equity. Both are zero
// before the first Update.
func (t *AnchorTracker) DayStart() (balance, equity float64) {
	return t.dayStartBalance, t.dayStartEquity
}

// Anchor returns the daily-drawdown reference value, the larger of the
// day-start balance and equity. Zero before the first Update.
func (t *AnchorTracker) Anchor() float64 {
	if !t.set {
		return 0
	}
	return max(t.dayStartBalance, t.dayStartEquity)
}

// Anchored reports whether a day has been anchored yet.
func (t *AnchorTracker) Anchored() bool {
	return t.set
}

// Date returns the venue calendar date the current anchor belongs to, in
// YYYY-MM-DD form. Empty before the first Update.
func (t *AnchorTracker) Date() string {
	return t.currentDate
}

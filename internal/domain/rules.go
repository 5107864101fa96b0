package domain

import "time"

// PropRules is one prop firm program's risk limits. Rule sets are produced
// externally (config file or the scraped rule database) and passed to the
// evaluator whole; nothing in the engine edits them.
type PropRules struct {
	Name      string
	Firm      string
	ProgramID string

	MaxDailyDrawdownPct float64
	MaxTotalDrawdownPct float64
	MaxRiskPerTradePct  float64
	MaxOpenLots         float64
	MaxPositions        int

	// WarnBufferPct scales each hard limit down to its warning threshold.
	// Must lie in (0, 1]; a WARN threshold is always closer to zero-loss
	// than its HARD counterpart.
	WarnBufferPct float64

	TradingDaysOnly bool
	RequireStopLoss bool

	// MaxLeverage is carried for reporting but not evaluated; leverage is
	// enforced by the venue itself.
	MaxLeverage float64

	UpdatedAt time.Time
}

// WarnThreshold returns the warning threshold for the given hard limit using
// this rule set's buffer. A zero or out-of-range buffer falls back to the
// hard limit itself (warnings coincide with breaches).
func (r PropRules) WarnThreshold(hard float64) float64 {
	if r.WarnBufferPct <= 0 || r.WarnBufferPct > 1 {
		return hard
	}
	return hard * r.WarnBufferPct
}

package domain

import "time"

// BreachLevel grades a breach: approaching the limit or past it.
type BreachLevel string

const (
	LevelWarn BreachLevel = "WARN"
	LevelHard BreachLevel = "HARD"
)

// BreachCode identifies which rule was violated.
type BreachCode string

const (
	BreachDailyDD      BreachCode = "DAILY_DD"
	BreachTotalDD      BreachCode = "TOTAL_DD"
	BreachRiskPerTrade BreachCode = "RISK_PER_TRADE"
	BreachMaxLots      BreachCode = "MAX_LOTS"
	BreachMaxPositions BreachCode = "MAX_POSITIONS"
	BreachMarginLevel  BreachCode = "MARGIN_LEVEL"
	BreachMissingSL    BreachCode = "MISSING_SL"
)

// RuleBreach is the single canonical breach representation. Breaches are
// created fresh on every evaluation call and never mutated afterwards.
type RuleBreach struct {
	Level     BreachLevel
	Code      BreachCode
	Message   string
	Value     float64
	Threshold float64
	Timestamp time.Time
}

// IsHard reports whether the breach crossed the hard limit.
func (b RuleBreach) IsHard() bool {
	return b.Level == LevelHard
}

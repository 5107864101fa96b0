// Package domain defines the core value types of the compliance engine:
// account snapshots, prop-firm rule sets, and rule breaches, together with
// the store and platform interfaces implemented by the outer layers.
package domain

import "time"

// PositionSide is the signed direction of an open position.
type PositionSide string

const (
	SideBuy  PositionSide = "buy"
	SideSell PositionSide = "sell"
)

// Position is one open trade inside a snapshot. Positions are created fresh
// on every snapshot fetch and never mutated.
type Position struct {
	ID           string
	Symbol       string
	Side         PositionSide
	Volume       float64 // lots, always a positive magnitude
	EntryPrice   float64
	CurrentPrice float64
	ProfitLoss   float64
	StopLoss     float64 // 0 means no protective order attached
	TakeProfit   float64
	OpenedAt     time.Time
}

// ProfitLossPercent returns the position's P&L relative to its entry price.
// The sign convention follows the position direction: a sell position gains
// when the price falls. Returns 0 when the entry price is not positive.
func (p Position) ProfitLossPercent() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	if p.Side == SideSell {
		return (p.EntryPrice - p.CurrentPrice) / p.EntryPrice * 100
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
}

// HasStopLoss reports whether a protective order is attached.
func (p Position) HasStopLoss() bool {
	return p.StopLoss != 0
}

// AccountSnapshot is an immutable view of one trading account at one point in
// venue time. Adapters populate the day-start fields from the account's
// anchor tracker before handing the snapshot to the evaluator; the evaluator
// never mutates a snapshot.
type AccountSnapshot struct {
	Timestamp       time.Time
	Balance         float64
	Equity          float64
	MarginUsed      float64
	MarginAvailable float64

	// Positions are ordered as reported by the venue. The order is preserved
	// so per-position breaches are reproducible across evaluations.
	Positions []Position

	TotalProfitLoss float64

	// StartingBalance is the account's funded/challenge starting balance.
	// Zero means unknown, which disables the total-drawdown check.
	StartingBalance float64

	// DayStartBalance and DayStartEquity are frozen at the first observation
	// of each venue trading day. Zero means the anchor has not been set yet.
	DayStartBalance float64
	DayStartEquity  float64
}

// DayStartAnchor is the reference value for daily-drawdown math: the larger
// of the day-start balance and day-start equity. Before the first anchor
// update it conservatively falls back to the current balance.
func (s AccountSnapshot) DayStartAnchor() float64 {
	switch {
	case s.DayStartBalance != 0 && s.DayStartEquity != 0:
		return max(s.DayStartBalance, s.DayStartEquity)
	case s.DayStartBalance != 0:
		return s.DayStartBalance
	case s.DayStartEquity != 0:
		return s.DayStartEquity
	default:
		return s.Balance
	}
}

// DailyDrawdownPct is today's loss relative to the day-start anchor, as a
// negative percentage. The loss is measured worst-case between equity and
// balance so that neither an open losing position nor a realized loss can
// hide the other. Returns 0 when the anchor is not positive.
func (s AccountSnapshot) DailyDrawdownPct() float64 {
	anchor := s.DayStartAnchor()
	if anchor <= 0 {
		return 0
	}
	lossUsed := max(anchor-s.Equity, anchor-s.Balance)
	return -100 * lossUsed / anchor
}

// TotalDrawdownPct is the account's balance change relative to its starting
// balance, in percent. Returns 0 when the starting balance is unknown.
func (s AccountSnapshot) TotalDrawdownPct() float64 {
	if s.StartingBalance <= 0 {
		return 0
	}
	return (s.Balance - s.StartingBalance) / s.StartingBalance * 100
}

// TotalOpenLots sums the absolute volumes of all open positions.
func (s AccountSnapshot) TotalOpenLots() float64 {
	var total float64
	for _, p := range s.Positions {
		v := p.Volume
		if v < 0 {
			v = -v
		}
		total += v
	}
	return total
}

// MarginLevelPct is margin_available / margin_used expressed in percent.
// Returns 0 when no margin is in use.
func (s AccountSnapshot) MarginLevelPct() float64 {
	if s.MarginUsed == 0 {
		return 0
	}
	return s.MarginAvailable / s.MarginUsed * 100
}

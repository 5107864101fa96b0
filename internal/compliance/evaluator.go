package compliance

import (
	"fmt"
	"time"

	"github.com/sentinelfx/sentinel/internal/domain"
)

// Fixed margin-level alert thresholds in percent. Unlike every other limit
// these are not configurable per rule set.
const (
	marginLevelHardPct = 50.0
	marginLevelWarnPct = 100.0
)

// Evaluate maps an account snapshot and a rule set to an ordered breach
// list. It is pure: no I/O, no mutation of the snapshot, and no errors for
// degenerate inputs. Checks with a zero denominator or missing reference
// value simply contribute no breach. Within one check a HARD result
// supersedes the corresponding WARN, so a single code never appears at both
// levels for the same position in one call.
func Evaluate(snap domain.AccountSnapshot, rules domain.PropRules) []domain.RuleBreach {
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var breaches []domain.RuleBreach
	if b, ok := checkDailyDrawdown(snap, rules, ts); ok {
		breaches = append(breaches, b)
	}
	if b, ok := checkTotalDrawdown(snap, rules, ts); ok {
		breaches = append(breaches, b)
	}
	breaches = append(breaches, checkRiskPerTrade(snap, rules, ts)...)
	if b, ok := checkOpenLots(snap, rules, ts); ok {
		breaches = append(breaches, b)
	}
	if b, ok := checkPositionCount(snap, rules, ts); ok {
		breaches = append(breaches, b)
	}
	if b, ok := checkMarginLevel(snap, ts); ok {
		breaches = append(breaches, b)
	}
	if rules.RequireStopLoss {
		breaches = append(breaches, checkStopLosses(snap, ts)...)
	}
	return breaches
}

// checkDailyDrawdown measures today's loss against the day-start anchor.
// The loss is the worse of the equity drop and the balance drop, so an open
// losing position cannot hide behind an intact balance and vice versa.
func checkDailyDrawdown(snap domain.AccountSnapshot, rules domain.PropRules, ts time.Time) (domain.RuleBreach, bool) {
	if rules.MaxDailyDrawdownPct <= 0 {
		return domain.RuleBreach{}, false
	}
	anchor := snap.DayStartAnchor()
	if anchor <= 0 {
		return domain.RuleBreach{}, false
	}
	pct := snap.DailyDrawdownPct()

	hard := rules.MaxDailyDrawdownPct
	switch {
	case pct <= -hard:
		return domain.RuleBreach{
			Level:     domain.LevelHard,
			Code:      domain.BreachDailyDD,
			Message:   fmt.Sprintf("daily drawdown %.2f%% exceeds limit of %.2f%%", -pct, hard),
			Value:     -pct,
			Threshold: hard,
			Timestamp: ts,
		}, true
	case pct <= -rules.WarnThreshold(hard):
		return domain.RuleBreach{
			Level:     domain.LevelWarn,
			Code:      domain.BreachDailyDD,
			Message:   fmt.Sprintf("daily drawdown %.2f%% approaching limit of %.2f%%", -pct, hard),
			Value:     -pct,
			Threshold: hard,
			Timestamp: ts,
		}, true
	}
	return domain.RuleBreach{}, false
}

// checkTotalDrawdown measures the balance against the challenge starting
// balance. Profitable accounts never breach, and accounts with an unknown
// starting balance are skipped.
func checkTotalDrawdown(snap domain.AccountSnapshot, rules domain.PropRules, ts time.Time) (domain.RuleBreach, bool) {
	if rules.MaxTotalDrawdownPct <= 0 || snap.StartingBalance <= 0 {
		return domain.RuleBreach{}, false
	}
	tdd := snap.TotalDrawdownPct()
	if tdd >= 0 {
		return domain.RuleBreach{}, false
	}

	hard := rules.MaxTotalDrawdownPct
	switch {
	case tdd <= -hard:
		return domain.RuleBreach{
			Level:     domain.LevelHard,
			Code:      domain.BreachTotalDD,
			Message:   fmt.Sprintf("total drawdown %.2f%% exceeds limit of %.2f%%", -tdd, hard),
			Value:     -tdd,
			Threshold: hard,
			Timestamp: ts,
		}, true
	case tdd <= -rules.WarnThreshold(hard):
		return domain.RuleBreach{
			Level:     domain.LevelWarn,
			Code:      domain.BreachTotalDD,
			Message:   fmt.Sprintf("total drawdown %.2f%% approaching limit of %.2f%%", -tdd, hard),
			Value:     -tdd,
			Threshold: hard,
			Timestamp: ts,
		}, true
	}
	return domain.RuleBreach{}, false
}

// checkRiskPerTrade sizes each position's notional against the account
// balance, emitting one breach per offending position in snapshot order.
func checkRiskPerTrade(snap domain.AccountSnapshot, rules domain.PropRules, ts time.Time) []domain.RuleBreach {
	if rules.MaxRiskPerTradePct <= 0 || snap.Balance <= 0 {
		return nil
	}

	hard := rules.MaxRiskPerTradePct
	warn := rules.WarnThreshold(hard)

	var breaches []domain.RuleBreach
	for _, pos := range snap.Positions {
		notional := pos.Volume * pos.CurrentPrice
		if notional < 0 {
			notional = -notional
		}
		pct := notional / snap.Balance * 100

		switch {
		case pct >= hard:
			breaches = append(breaches, domain.RuleBreach{
				Level:     domain.LevelHard,
				Code:      domain.BreachRiskPerTrade,
				Message:   fmt.Sprintf("position %s (%s) risks %.2f%% of balance, limit %.2f%%", pos.ID, pos.Symbol, pct, hard),
				Value:     pct,
				Threshold: hard,
				Timestamp: ts,
			})
		case pct >= warn:
			breaches = append(breaches, domain.RuleBreach{
				Level:     domain.LevelWarn,
				Code:      domain.BreachRiskPerTrade,
				Message:   fmt.Sprintf("position %s (%s) risks %.2f%% of balance, approaching limit %.2f%%", pos.ID, pos.Symbol, pct, hard),
				Value:     pct,
				Threshold: hard,
				Timestamp: ts,
			})
		}
	}
	return breaches
}

// checkOpenLots compares aggregate open volume to the lot limit.
func checkOpenLots(snap domain.AccountSnapshot, rules domain.PropRules, ts time.Time) (domain.RuleBreach, bool) {
	if rules.MaxOpenLots <= 0 {
		return domain.RuleBreach{}, false
	}
	total := snap.TotalOpenLots()

	hard := rules.MaxOpenLots
	switch {
	case total > hard:
		return domain.RuleBreach{
			Level:     domain.LevelHard,
			Code:      domain.BreachMaxLots,
			Message:   fmt.Sprintf("open volume %.2f lots exceeds limit of %.2f", total, hard),
			Value:     total,
			Threshold: hard,
			Timestamp: ts,
		}, true
	case total > rules.WarnThreshold(hard):
		return domain.RuleBreach{
			Level:     domain.LevelWarn,
			Code:      domain.BreachMaxLots,
			Message:   fmt.Sprintf("open volume %.2f lots approaching limit of %.2f", total, hard),
			Value:     total,
			Threshold: hard,
			Timestamp: ts,
		}, true
	}
	return domain.RuleBreach{}, false
}

// checkPositionCount has no hard tier; exceeding the count only warns.
func checkPositionCount(snap domain.AccountSnapshot, rules domain.PropRules, ts time.Time) (domain.RuleBreach, bool) {
	if rules.MaxPositions <= 0 {
		return domain.RuleBreach{}, false
	}
	count := len(snap.Positions)
	if count <= rules.MaxPositions {
		return domain.RuleBreach{}, false
	}
	return domain.RuleBreach{
		Level:     domain.LevelWarn,
		Code:      domain.BreachMaxPositions,
		Message:   fmt.Sprintf("%d open positions exceeds limit of %d", count, rules.MaxPositions),
		Value:     float64(count),
		Threshold: float64(rules.MaxPositions),
		Timestamp: ts,
	}, true
}

// checkMarginLevel uses the venue-standard 50%/100% stop-out bands. An
// account using no margin carries no margin risk and is skipped.
func checkMarginLevel(snap domain.AccountSnapshot, ts time.Time) (domain.RuleBreach, bool) {
	if snap.MarginUsed == 0 {
		return domain.RuleBreach{}, false
	}
	level := snap.MarginLevelPct()

	switch {
	case level < marginLevelHardPct:
		return domain.RuleBreach{
			Level:     domain.LevelHard,
			Code:      domain.BreachMarginLevel,
			Message:   fmt.Sprintf("margin level %.1f%% below stop-out band of %.0f%%", level, marginLevelHardPct),
			Value:     level,
			Threshold: marginLevelHardPct,
			Timestamp: ts,
		}, true
	case level < marginLevelWarnPct:
		return domain.RuleBreach{
			Level:     domain.LevelWarn,
			Code:      domain.BreachMarginLevel,
			Message:   fmt.Sprintf("margin level %.1f%% below margin-call band of %.0f%%", level, marginLevelWarnPct),
			Value:     level,
			Threshold: marginLevelWarnPct,
			Timestamp: ts,
		}, true
	}
	return domain.RuleBreach{}, false
}

// checkStopLosses warns once per position lacking a protective order.
func checkStopLosses(snap domain.AccountSnapshot, ts time.Time) []domain.RuleBreach {
	var breaches []domain.RuleBreach
	for _, pos := range snap.Positions {
		if pos.HasStopLoss() {
			continue
		}
		breaches = append(breaches, domain.RuleBreach{
			Level:     domain.LevelWarn,
			Code:      domain.BreachMissingSL,
			Message:   fmt.Sprintf("position %s (%s) has no stop loss", pos.ID, pos.Symbol),
			Timestamp: ts,
		})
	}
	return breaches
}

package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelfx/sentinel/internal/domain"
)

// ftmoRules mirrors a typical one-step evaluation rule set.
func ftmoRules() domain.PropRules {
	return domain.PropRules{
		Name:                "FTMO Challenge",
		Firm:                "FTMO",
		MaxDailyDrawdownPct: 5.0,
		MaxTotalDrawdownPct: 10.0,
		MaxRiskPerTradePct:  1.0,
		MaxOpenLots:         10.0,
		MaxPositions:        10,
		WarnBufferPct:       0.8,
	}
}

func flatSnapshot(balance, equity float64) domain.AccountSnapshot {
	return domain.AccountSnapshot{
		Timestamp:       time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC),
		Balance:         balance,
		Equity:          equity,
		DayStartBalance: 100_000,
		DayStartEquity:  100_000,
	}
}

func byCode(breaches []domain.RuleBreach, code domain.BreachCode) []domain.RuleBreach {
	var out []domain.RuleBreach
	for _, b := range breaches {
		if b.Code == code {
			out = append(out, b)
		}
	}
	return out
}

func TestDailyDrawdownInsideWarnBuffer(t *testing.T) {
	snap := flatSnapshot(100_000, 97_000)
	assert.InDelta(t, -3.0, snap.DailyDrawdownPct(), 1e-9)

	breaches := Evaluate(snap, ftmoRules())
	assert.Empty(t, byCode(breaches, domain.BreachDailyDD),
		"drawdown of 3%% is inside the 4%% warn threshold")
}

func TestDailyDrawdownHardSupersedesWarn(t *testing.T) {
	snap := flatSnapshot(100_000, 94_500)

	dd := byCode(Evaluate(snap, ftmoRules()), domain.BreachDailyDD)
	require.Len(t, dd, 1, "exactly one DAILY_DD breach, never WARN and HARD together")
	assert.Equal(t, domain.LevelHard, dd[0].Level)
	assert.InDelta(t, 5.5, dd[0].Value, 1e-9)
	assert.Equal(t, 5.0, dd[0].Threshold)
}

func TestDailyDrawdownWarnTier(t *testing.T) {
	snap := flatSnapshot(100_000, 95_800) // -4.2%, between warn (-4.0) and hard (-5.0)

	dd := byCode(Evaluate(snap, ftmoRules()), domain.BreachDailyDD)
	require.Len(t, dd, 1)
	assert.Equal(t, domain.LevelWarn, dd[0].Level)
	assert.InDelta(t, 4.2, dd[0].Value, 1e-9)
}

func TestDailyDrawdownWorstCaseUsesBalanceDrop(t *testing.T) {
	// Equity recovered but balance shows the realized loss; the worst of the
	// two must drive the number.
	snap := flatSnapshot(94_000, 99_000)

	dd := byCode(Evaluate(snap, ftmoRules()), domain.BreachDailyDD)
	require.Len(t, dd, 1)
	assert.Equal(t, domain.LevelHard, dd[0].Level)
	assert.InDelta(t, 6.0, dd[0].Value, 1e-9)
}

func TestDailyDrawdownZeroAnchorIsGuarded(t *testing.T) {
	snap := domain.AccountSnapshot{Balance: 0, Equity: -500}
	assert.Empty(t, Evaluate(snap, ftmoRules()))
}

func TestTotalDrawdown(t *testing.T) {
	tests := []struct {
		name      string
		balance   float64
		starting  float64
		wantLevel domain.BreachLevel
		wantNone  bool
	}{
		{name: "profitable account never breaches", balance: 112_000, starting: 100_000, wantNone: true},
		{name: "unknown starting balance skips check", balance: 50_000, starting: 0, wantNone: true},
		{name: "inside warn buffer", balance: 93_000, starting: 100_000, wantNone: true},
		{name: "warn tier", balance: 91_500, starting: 100_000, wantLevel: domain.LevelWarn},
		{name: "hard tier", balance: 89_000, starting: 100_000, wantLevel: domain.LevelHard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := flatSnapshot(tt.balance, tt.balance)
			snap.DayStartBalance = tt.balance
			snap.DayStartEquity = tt.balance
			snap.StartingBalance = tt.starting

			tdd := byCode(Evaluate(snap, ftmoRules()), domain.BreachTotalDD)
			if tt.wantNone {
				assert.Empty(t, tdd)
				return
			}
			require.Len(t, tdd, 1)
			assert.Equal(t, tt.wantLevel, tdd[0].Level)
		})
	}
}

func TestRiskPerTradePerPositionInOrder(t *testing.T) {
	snap := flatSnapshot(100_000, 100_000)
	snap.Positions = []domain.Position{
		{ID: "1", Symbol: "EURUSD", Side: domain.SideBuy, Volume: 0.10, CurrentPrice: 1.08},   // tiny
		{ID: "2", Symbol: "XAUUSD", Side: domain.SideBuy, Volume: 0.60, CurrentPrice: 2400.0}, // 1.44% hard
		{ID: "3", Symbol: "US30", Side: domain.SideSell, Volume: 0.02, CurrentPrice: 43000.0}, // 0.86% warn
	}

	risk := byCode(Evaluate(snap, ftmoRules()), domain.BreachRiskPerTrade)
	require.Len(t, risk, 2)
	assert.Equal(t, domain.LevelHard, risk[0].Level)
	assert.Contains(t, risk[0].Message, "XAUUSD")
	assert.Equal(t, domain.LevelWarn, risk[1].Level)
	assert.Contains(t, risk[1].Message, "US30")
}

func TestRiskPerTradeZeroBalanceIsGuarded(t *testing.T) {
	snap := domain.AccountSnapshot{
		Balance:         0,
		Equity:          0,
		DayStartBalance: 1, // keep the drawdown check out of the way
		DayStartEquity:  1,
		Positions: []domain.Position{
			{ID: "1", Symbol: "EURUSD", Volume: 100, CurrentPrice: 1.08, StopLoss: 1.0},
		},
	}
	assert.Empty(t, byCode(Evaluate(snap, ftmoRules()), domain.BreachRiskPerTrade))
}

func TestOpenLotsAggregate(t *testing.T) {
	snap := flatSnapshot(100_000, 100_000)
	for i := 0; i < 10; i++ {
		snap.Positions = append(snap.Positions, domain.Position{
			ID: "p", Symbol: "EURUSD", Side: domain.SideBuy, Volume: 1.1, CurrentPrice: 1.0,
		})
	}

	lots := byCode(Evaluate(snap, ftmoRules()), domain.BreachMaxLots)
	require.Len(t, lots, 1, "aggregate check emits a single breach")
	assert.Equal(t, domain.LevelHard, lots[0].Level)
	assert.InDelta(t, 11.0, lots[0].Value, 1e-9)
	assert.Equal(t, 10.0, lots[0].Threshold)
}

func TestPositionCountWarnOnly(t *testing.T) {
	snap := flatSnapshot(100_000, 100_000)
	for i := 0; i < 11; i++ {
		snap.Positions = append(snap.Positions, domain.Position{
			ID: "p", Symbol: "EURUSD", Volume: 0.01, CurrentPrice: 1.0,
		})
	}

	count := byCode(Evaluate(snap, ftmoRules()), domain.BreachMaxPositions)
	require.Len(t, count, 1)
	assert.Equal(t, domain.LevelWarn, count[0].Level, "position count has no hard tier")
	assert.Equal(t, 11.0, count[0].Value)
}

func TestMarginLevel(t *testing.T) {
	tests := []struct {
		name      string
		used      float64
		available float64
		wantLevel domain.BreachLevel
		wantNone  bool
	}{
		{name: "no margin used skips check", used: 0, available: 0, wantNone: true},
		{name: "healthy margin", used: 1_000, available: 50_000, wantNone: true},
		{name: "margin call band", used: 10_000, available: 8_000, wantLevel: domain.LevelWarn},
		{name: "stop out band", used: 10_000, available: 4_000, wantLevel: domain.LevelHard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := flatSnapshot(100_000, 100_000)
			snap.MarginUsed = tt.used
			snap.MarginAvailable = tt.available

			ml := byCode(Evaluate(snap, ftmoRules()), domain.BreachMarginLevel)
			if tt.wantNone {
				assert.Empty(t, ml)
				return
			}
			require.Len(t, ml, 1)
			assert.Equal(t, tt.wantLevel, ml[0].Level)
		})
	}
}

func TestMissingStopLossOnlyWhenRequired(t *testing.T) {
	snap := flatSnapshot(100_000, 100_000)
	snap.Positions = []domain.Position{
		{ID: "1", Symbol: "EURUSD", Volume: 0.1, CurrentPrice: 1.08, StopLoss: 1.05},
		{ID: "2", Symbol: "GBPUSD", Volume: 0.1, CurrentPrice: 1.27},
	}

	rules := ftmoRules()
	assert.Empty(t, byCode(Evaluate(snap, rules), domain.BreachMissingSL))

	rules.RequireStopLoss = true
	missing := byCode(Evaluate(snap, rules), domain.BreachMissingSL)
	require.Len(t, missing, 1)
	assert.Contains(t, missing[0].Message, "GBPUSD")
}

func TestEvaluateDoesNotMutateSnapshot(t *testing.T) {
	snap := flatSnapshot(100_000, 94_500)
	snap.Positions = []domain.Position{
		{ID: "1", Symbol: "EURUSD", Side: domain.SideBuy, Volume: 5.0, CurrentPrice: 1.08},
	}
	before := snap
	beforePositions := append([]domain.Position(nil), snap.Positions...)

	_ = Evaluate(snap, ftmoRules())

	assert.Equal(t, before.Balance, snap.Balance)
	assert.Equal(t, before.Equity, snap.Equity)
	assert.Equal(t, beforePositions, snap.Positions)
}

func TestWarnBufferPositionsWarnBelowHard(t *testing.T) {
	rules := ftmoRules()
	assert.Less(t, rules.WarnThreshold(rules.MaxDailyDrawdownPct), rules.MaxDailyDrawdownPct)
	assert.Equal(t, 5.0, domain.PropRules{WarnBufferPct: 1.0}.WarnThreshold(5.0))
	// Out-of-range buffers degrade to the hard limit rather than inverting.
	assert.Equal(t, 5.0, domain.PropRules{WarnBufferPct: 0}.WarnThreshold(5.0))
	assert.Equal(t, 5.0, domain.PropRules{WarnBufferPct: 1.5}.WarnThreshold(5.0))
}

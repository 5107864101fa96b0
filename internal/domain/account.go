package domain

import "time"

// PlatformKind names a supported trading platform.
type PlatformKind string

const (
	PlatformMT5     PlatformKind = "mt5"
	PlatformCTrader PlatformKind = "ctrader"
)

// Account is the immutable per-account monitoring configuration. One Account
// plus one Platform adapter forms a registration unit for the monitor; there
// is no process-wide account state.
type Account struct {
	Label           string
	Firm            string
	ProgramID       string
	Platform        PlatformKind
	AccountID       string
	StartingBalance float64
	Rules           PropRules
	CheckInterval   time.Duration
	Enabled         bool
}

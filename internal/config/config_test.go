package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAccount() AccountConfig {
	return AccountConfig{
		Label:           "ftmo-1",
		Firm:            "FTMO",
		Platform:        "mt5",
		Enabled:         true,
		StartingBalance: 100_000,
		Preset:          "ftmo",
		MT5:             MT5Config{BaseURL: "http://127.0.0.1:8787", AccountID: "1001"},
	}
}

func TestDefaultsValidateWithAccount(t *testing.T) {
	cfg := Defaults()
	cfg.Accounts = []AccountConfig{validAccount()}
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMonitorWithoutAccounts(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one [[accounts]] entry")
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Accounts = []AccountConfig{{
		Label:    "bad",
		Platform: "ninjatrader",
		Rules:    RulesConfig{MaxDailyDrawdownPct: 5, WarnBufferPct: 1.5},
	}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "unknown platform")
	assert.Contains(t, err.Error(), "warn_buffer_pct")
}

func TestValidateDuplicateLabels(t *testing.T) {
	cfg := Defaults()
	a := validAccount()
	cfg.Accounts = []AccountConfig{a, a}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate label")
}

func TestValidateCTraderNeedsCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Accounts = []AccountConfig{{
		Label:    "ct-1",
		Platform: "ctrader",
		Preset:   "ftmo",
		CTrader:  CTraderConfig{BaseURL: "https://api.spotware.com"},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ctrader.account_id")
	assert.Contains(t, err.Error(), "access_token or token_encrypted_path")
}

func TestResolveRulesPresetOverlay(t *testing.T) {
	cfg := Defaults()
	acct := validAccount()
	acct.Rules = RulesConfig{MaxDailyDrawdownPct: 4.0, RequireStopLoss: true}

	rules, err := cfg.ResolveRules(acct)
	require.NoError(t, err)

	// Overridden fields win; the rest come from the ftmo preset.
	assert.Equal(t, 4.0, rules.MaxDailyDrawdownPct)
	assert.True(t, rules.RequireStopLoss)
	assert.Equal(t, 10.0, rules.MaxTotalDrawdownPct)
	assert.Equal(t, 0.8, rules.WarnBufferPct)
	assert.Equal(t, "FTMO Challenge", rules.Name)
}

func TestResolveRulesUnknownPreset(t *testing.T) {
	cfg := Defaults()
	acct := validAccount()
	acct.Preset = "nope"
	_, err := cfg.ResolveRules(acct)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown preset")
}

func TestLoadTOMLWithAccountsAndPresets(t *testing.T) {
	content := `
mode = "monitor"
log_level = "debug"

[monitor]
default_check_interval = "10s"

[[presets]]
name = "myfunded"
[presets.rules]
name = "MyFunded 100k"
max_daily_drawdown_pct = 4.0
max_total_drawdown_pct = 8.0
warn_buffer_pct = 0.9

[[accounts]]
label = "mf-1"
firm = "MyFunded"
platform = "ctrader"
enabled = true
starting_balance = 100000
check_interval = "5s"
preset = "myfunded"
[accounts.ctrader]
base_url = "https://api.spotware.com"
account_id = 42
access_token = "tok"
`
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.Monitor.DefaultCheckInterval.Duration)

	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, 5*time.Second, cfg.Accounts[0].CheckInterval.Duration)
	assert.Equal(t, int64(42), cfg.Accounts[0].CTrader.AccountID)

	// The built-in ftmo preset survives alongside the file's own preset.
	_, ok := cfg.Preset("ftmo")
	assert.True(t, ok)
	mf, ok := cfg.Preset("myfunded")
	require.True(t, ok)
	assert.Equal(t, 4.0, mf.Rules.MaxDailyDrawdownPct)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_MODE", "audit")
	t.Setenv("SENTINEL_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("SENTINEL_MONITOR_ALERT_DEDUP_TTL", "1h")
	t.Setenv("SENTINEL_NOTIFY_EVENTS", "breach, error")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "audit", cfg.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Monitor.AlertDedupTTL.Duration)
	assert.Equal(t, []string{"breach", "error"}, cfg.Notify.Events)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	acct := validAccount()
	acct.MT5.APIToken = "secret-token"
	cfg.Accounts = []AccountConfig{acct}
	cfg.Postgres.Password = "pgpass"
	cfg.Notify.TelegramToken = "tg"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Accounts[0].MT5.APIToken)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Original untouched.
	assert.Equal(t, "secret-token", cfg.Accounts[0].MT5.APIToken)
}

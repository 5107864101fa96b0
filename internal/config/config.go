// Package config defines the top-level configuration for the compliance
// monitor and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SENTINEL_* environment variables.
type Config struct {
	Accounts []AccountConfig `toml:"accounts"`
	Presets  []PresetConfig  `toml:"presets"`
	Monitor  MonitorConfig   `toml:"monitor"`
	Postgres PostgresConfig  `toml:"postgres"`
	Redis    RedisConfig     `toml:"redis"`
	S3       S3Config        `toml:"s3"`
	Archive  ArchiveConfig   `toml:"archive"`
	Notify   NotifyConfig    `toml:"notify"`
	Mode     string          `toml:"mode"`
	LogLevel string          `toml:"log_level"`
}

// AccountConfig describes one monitored trading account.
type AccountConfig struct {
	Label     string `toml:"label"`
	Firm      string `toml:"firm"`
	ProgramID string `toml:"program_id"`
	Platform  string `toml:"platform"` // "mt5" or "ctrader"
	Enabled   bool   `toml:"enabled"`

	StartingBalance float64  `toml:"starting_balance"`
	CheckInterval   duration `toml:"check_interval"`

	// Preset names a rule preset to start from. Non-zero fields in Rules
	// override the preset's values.
	Preset string      `toml:"preset"`
	Rules  RulesConfig `toml:"rules"`

	MT5     MT5Config     `toml:"mt5"`
	CTrader CTraderConfig `toml:"ctrader"`
}

// MT5Config holds connection parameters for an MT5 terminal bridge.
type MT5Config struct {
	BaseURL            string `toml:"base_url"`
	AccountID          string `toml:"account_id"`
	APIToken           string `toml:"api_token"`
	TokenEncryptedPath string `toml:"token_encrypted_path"`
	TokenPassword      string `toml:"token_password"`
}

// CTraderConfig holds cTrader Open API parameters.
type CTraderConfig struct {
	BaseURL            string `toml:"base_url"`
	WSHost             string `toml:"ws_host"`
	AccountID          int64  `toml:"account_id"`
	AccessToken        string `toml:"access_token"`
	TokenEncryptedPath string `toml:"token_encrypted_path"`
	TokenPassword      string `toml:"token_password"`
}

// RulesConfig mirrors a prop firm's published risk limits.
type RulesConfig struct {
	Name                string  `toml:"name"`
	MaxDailyDrawdownPct float64 `toml:"max_daily_drawdown_pct"`
	MaxTotalDrawdownPct float64 `toml:"max_total_drawdown_pct"`
	MaxRiskPerTradePct  float64 `toml:"max_risk_per_trade_pct"`
	MaxOpenLots         float64 `toml:"max_open_lots"`
	MaxPositions        int     `toml:"max_positions"`
	WarnBufferPct       float64 `toml:"warn_buffer_pct"`
	TradingDaysOnly     bool    `toml:"trading_days_only"`
	RequireStopLoss     bool    `toml:"require_stop_loss"`
	MaxLeverage         float64 `toml:"max_leverage"`
}

// PresetConfig is a named, reusable rule set that accounts can reference.
type PresetConfig struct {
	Name  string      `toml:"name"`
	Rules RulesConfig `toml:"rules"`
}

// MonitorConfig holds evaluation loop parameters.
type MonitorConfig struct {
	// DefaultCheckInterval applies to accounts without their own interval.
	DefaultCheckInterval duration `toml:"default_check_interval"`
	// AlertDedupTTL suppresses repeat alerts for a persisting breach.
	AlertDedupTTL duration `toml:"alert_dedup_ttl"`
	// DistributedLock takes a Redis lock per account so two monitor
	// instances never alert on the same account twice.
	DistributedLock bool `toml:"distributed_lock"`
	// UseRuleStore loads rule sets from Postgres by (firm, program_id),
	// falling back to the account's configured rules on a miss.
	UseRuleStore bool `toml:"use_rule_store"`
	// PersistBreaches writes every breach to the Postgres breach log.
	PersistBreaches bool `toml:"persist_breaches"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds breach-log archival parameters.
type ArchiveConfig struct {
	// RetentionDays is how long breaches stay in Postgres before they are
	// exported to object storage.
	RetentionDays int `toml:"retention_days"`
	// Prune deletes exported rows from Postgres after a verified upload.
	Prune bool `toml:"prune"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Console           bool     `toml:"console"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. The
// built-in "ftmo" preset carries FTMO's published challenge limits so a
// minimal config file only has to name it.
func Defaults() Config {
	return Config{
		Presets: []PresetConfig{
			{
				Name: "ftmo",
				Rules: RulesConfig{
					Name:                "FTMO Challenge",
					MaxDailyDrawdownPct: 5.0,
					MaxTotalDrawdownPct: 10.0,
					MaxRiskPerTradePct:  1.0,
					MaxOpenLots:         10.0,
					MaxPositions:        10,
					WarnBufferPct:       0.8,
					RequireStopLoss:     false,
					MaxLeverage:         100.0,
				},
			},
		},
		Monitor: MonitorConfig{
			DefaultCheckInterval: duration{30 * time.Second},
			AlertDedupTTL:        duration{15 * time.Minute},
			DistributedLock:      false,
			UseRuleStore:         false,
			PersistBreaches:      true,
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "sentinel",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sentinel-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Prune:         false,
		},
		Notify: NotifyConfig{
			Console: true,
			Events:  []string{"breach", "error"},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"audit":   true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validPlatforms = map[string]bool{
	"mt5":     true,
	"ctrader": true,
}

// Preset returns the named rule preset, or false when it does not exist.
func (c *Config) Preset(name string) (PresetConfig, bool) {
	for _, p := range c.Presets {
		if p.Name == name {
			return p, true
		}
	}
	return PresetConfig{}, false
}

// ResolveRules returns the effective rules for an account: the referenced
// preset (when any) overlaid with the account's own non-zero fields.
func (c *Config) ResolveRules(acct AccountConfig) (RulesConfig, error) {
	rules := acct.Rules
	if acct.Preset == "" {
		return rules, nil
	}

	preset, ok := c.Preset(acct.Preset)
	if !ok {
		return RulesConfig{}, fmt.Errorf("config: account %q references unknown preset %q", acct.Label, acct.Preset)
	}

	merged := preset.Rules
	if rules.Name != "" {
		merged.Name = rules.Name
	}
	if rules.MaxDailyDrawdownPct != 0 {
		merged.MaxDailyDrawdownPct = rules.MaxDailyDrawdownPct
	}
	if rules.MaxTotalDrawdownPct != 0 {
		merged.MaxTotalDrawdownPct = rules.MaxTotalDrawdownPct
	}
	if rules.MaxRiskPerTradePct != 0 {
		merged.MaxRiskPerTradePct = rules.MaxRiskPerTradePct
	}
	if rules.MaxOpenLots != 0 {
		merged.MaxOpenLots = rules.MaxOpenLots
	}
	if rules.MaxPositions != 0 {
		merged.MaxPositions = rules.MaxPositions
	}
	if rules.WarnBufferPct != 0 {
		merged.WarnBufferPct = rules.WarnBufferPct
	}
	if rules.TradingDaysOnly {
		merged.TradingDaysOnly = true
	}
	if rules.RequireStopLoss {
		merged.RequireStopLoss = true
	}
	if rules.MaxLeverage != 0 {
		merged.MaxLeverage = rules.MaxLeverage
	}
	return merged, nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, audit, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Accounts
	needsAccounts := c.Mode == "monitor" || c.Mode == "audit"
	if needsAccounts && len(c.Accounts) == 0 {
		errs = append(errs, "accounts: at least one [[accounts]] entry is required for mode "+c.Mode)
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		prefix := fmt.Sprintf("accounts[%d]", i)
		if a.Label != "" {
			prefix = fmt.Sprintf("account %q", a.Label)
		}

		if a.Label == "" {
			errs = append(errs, prefix+": label must not be empty")
		} else if seen[a.Label] {
			errs = append(errs, prefix+": duplicate label")
		}
		seen[a.Label] = true

		if !validPlatforms[a.Platform] {
			errs = append(errs, fmt.Sprintf("%s: unknown platform %q (valid: mt5, ctrader)", prefix, a.Platform))
		}

		switch a.Platform {
		case "mt5":
			if a.MT5.BaseURL == "" {
				errs = append(errs, prefix+": mt5.base_url must not be empty")
			}
		case "ctrader":
			if a.CTrader.BaseURL == "" {
				errs = append(errs, prefix+": ctrader.base_url must not be empty")
			}
			if a.CTrader.AccountID == 0 {
				errs = append(errs, prefix+": ctrader.account_id must be set")
			}
			if a.CTrader.AccessToken == "" && a.CTrader.TokenEncryptedPath == "" {
				errs = append(errs, prefix+": ctrader.access_token or token_encrypted_path must be set")
			}
		}

		rules, err := c.ResolveRules(a)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if rules.MaxDailyDrawdownPct <= 0 {
			errs = append(errs, prefix+": rules.max_daily_drawdown_pct must be > 0 (set it or reference a preset)")
		}
		if rules.WarnBufferPct <= 0 || rules.WarnBufferPct > 1 {
			errs = append(errs, fmt.Sprintf("%s: rules.warn_buffer_pct must be in (0, 1], got %g", prefix, rules.WarnBufferPct))
		}
		if a.StartingBalance < 0 {
			errs = append(errs, prefix+": starting_balance must not be negative")
		}
	}

	// Presets
	presetNames := make(map[string]bool, len(c.Presets))
	for _, p := range c.Presets {
		if p.Name == "" {
			errs = append(errs, "presets: every preset needs a name")
			continue
		}
		if presetNames[p.Name] {
			errs = append(errs, fmt.Sprintf("presets: duplicate preset %q", p.Name))
		}
		presetNames[p.Name] = true
	}

	// Monitor
	if c.Monitor.DefaultCheckInterval.Duration <= 0 {
		errs = append(errs, "monitor: default_check_interval must be > 0")
	}
	if c.Monitor.AlertDedupTTL.Duration < 0 {
		errs = append(errs, "monitor: alert_dedup_ttl must not be negative")
	}
	if c.Monitor.DistributedLock && !c.Redis.Enabled {
		errs = append(errs, "monitor: distributed_lock requires redis to be enabled")
	}
	if c.Monitor.UseRuleStore && !c.Postgres.Enabled {
		errs = append(errs, "monitor: use_rule_store requires postgres to be enabled")
	}
	if c.Monitor.PersistBreaches && !c.Postgres.Enabled {
		errs = append(errs, "monitor: persist_breaches requires postgres to be enabled")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 and archive mode
	if c.Mode == "archive" {
		if !c.S3.Enabled {
			errs = append(errs, "s3: must be enabled for archive mode")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "postgres: must be enabled for archive mode")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Notify
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

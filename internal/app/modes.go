package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/sentinelfx/sentinel/internal/config"
	"github.com/sentinelfx/sentinel/internal/crypto"
	"github.com/sentinelfx/sentinel/internal/domain"
	"github.com/sentinelfx/sentinel/internal/monitor"
	"github.com/sentinelfx/sentinel/internal/platform/clock"
	"github.com/sentinelfx/sentinel/internal/platform/ctrader"
	"github.com/sentinelfx/sentinel/internal/platform/mt5"
)

// MonitorMode runs the continuous per-account evaluation loops until the
// context is cancelled.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	mon, err := a.buildMonitor(ctx, deps)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	if len(mon.Accounts()) == 0 {
		return fmt.Errorf("monitor mode: no runnable accounts")
	}

	return mon.Run(ctx)
}

// AuditMode runs a single evaluation pass over every account, logs the
// verdicts, and exits.
func (a *App) AuditMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting audit mode")

	mon, err := a.buildMonitor(ctx, deps)
	if err != nil {
		return fmt.Errorf("audit mode: %w", err)
	}

	results, faults := mon.EvaluateOnce(ctx)

	labels := make([]string, 0, len(results))
	for label := range results {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var hard int
	for _, label := range labels {
		breaches := results[label]
		if len(breaches) == 0 {
			a.logger.InfoContext(ctx, "audit: account clean", slog.String("account", label))
			continue
		}
		for _, b := range breaches {
			if b.IsHard() {
				hard++
			}
			a.logger.WarnContext(ctx, "audit: breach",
				slog.String("account", label),
				slog.String("code", string(b.Code)),
				slog.String("level", string(b.Level)),
				slog.String("message", b.Message),
			)
		}
	}
	for label, ferr := range faults {
		a.logger.ErrorContext(ctx, "audit: account unreachable",
			slog.String("account", label),
			slog.String("error", ferr.Error()),
		)
	}

	if deps.BreachStore != nil {
		a.reportBreachHistory(ctx, deps, labels)
	}

	a.logger.InfoContext(ctx, "audit complete",
		slog.Int("accounts", len(results)),
		slog.Int("faults", len(faults)),
		slog.Int("hard_breaches", hard),
	)

	if len(results) == 0 && len(faults) > 0 {
		return fmt.Errorf("audit mode: all %d accounts unreachable", len(faults))
	}
	return nil
}

// reportBreachHistory logs each audited account's most recent persisted
// breaches and the overall size of the breach log, so a one-shot audit also
// shows what the continuous monitor has recorded.
func (a *App) reportBreachHistory(ctx context.Context, deps *Dependencies, labels []string) {
	for _, label := range labels {
		recent, err := deps.BreachStore.ListByAccount(ctx, label, domain.ListOpts{Limit: 5})
		if err != nil {
			a.logger.WarnContext(ctx, "audit: breach history unavailable",
				slog.String("account", label),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, rec := range recent {
			a.logger.InfoContext(ctx, "audit: logged breach",
				slog.String("account", label),
				slog.String("code", string(rec.Code)),
				slog.String("level", string(rec.Level)),
				slog.Time("occurred_at", rec.OccurredAt),
			)
		}
	}

	total, err := deps.BreachStore.Count(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "audit: breach log count unavailable",
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.InfoContext(ctx, "audit: breach log size", slog.Int64("total", total))
}

// ArchiveMode exports aged breach records to object storage and optionally
// prunes them from the primary store.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
		slog.Bool("prune", a.cfg.Archive.Prune),
	)

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver not wired (s3 and postgres must both be enabled)")
	}

	before := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)

	count, err := deps.Archiver.ArchiveBreaches(ctx, before)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive complete",
		slog.Int64("records", count),
		slog.Time("before", before),
	)

	if a.cfg.Archive.Prune && count > 0 {
		deleted, err := deps.Archiver.PruneBreaches(ctx, before)
		if err != nil {
			return fmt.Errorf("archive mode: prune: %w", err)
		}
		a.logger.InfoContext(ctx, "prune complete", slog.Int64("deleted", deleted))
	}

	return nil
}

// buildMonitor converts the configured accounts into registered monitor
// runners. An invalid account is logged and skipped; the rest run.
func (a *App) buildMonitor(ctx context.Context, deps *Dependencies) (*monitor.Monitor, error) {
	mon := monitor.New(monitor.Config{
		DedupTTL: a.cfg.Monitor.AlertDedupTTL.Duration,
	}, deps.Notifier, a.logger)

	if a.cfg.Monitor.PersistBreaches && deps.BreachStore != nil {
		mon.WithBreachStore(deps.BreachStore)
	}
	if deps.AlertDeduper != nil {
		mon.WithAlertDedup(deps.AlertDeduper)
	}
	if deps.LockManager != nil {
		mon.WithLockManager(deps.LockManager)
	}

	for _, acctCfg := range a.cfg.Accounts {
		acct, platform, err := a.buildAccount(ctx, deps, acctCfg)
		if err != nil {
			a.logger.WarnContext(ctx, "account skipped",
				slog.String("account", acctCfg.Label),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := mon.Register(acct, platform); err != nil {
			a.logger.WarnContext(ctx, "account skipped",
				slog.String("account", acctCfg.Label),
				slog.String("error", err.Error()),
			)
		}
	}

	return mon, nil
}

// buildAccount resolves one account's rules and constructs its platform
// adapter.
func (a *App) buildAccount(ctx context.Context, deps *Dependencies, acctCfg config.AccountConfig) (domain.Account, domain.Platform, error) {
	rules, err := a.resolveRules(ctx, deps, acctCfg)
	if err != nil {
		return domain.Account{}, nil, err
	}

	interval := acctCfg.CheckInterval.Duration
	if interval <= 0 {
		interval = a.cfg.Monitor.DefaultCheckInterval.Duration
	}

	acct := domain.Account{
		Label:           acctCfg.Label,
		Firm:            acctCfg.Firm,
		ProgramID:       acctCfg.ProgramID,
		Platform:        domain.PlatformKind(acctCfg.Platform),
		StartingBalance: acctCfg.StartingBalance,
		Rules:           rules,
		CheckInterval:   interval,
		Enabled:         acctCfg.Enabled,
	}

	var platform domain.Platform
	switch acct.Platform {
	case domain.PlatformMT5:
		token, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:           acctCfg.MT5.APIToken,
			EncryptedPath: acctCfg.MT5.TokenEncryptedPath,
			Password:      acctCfg.MT5.TokenPassword,
		})
		if err != nil && acctCfg.MT5.TokenEncryptedPath != "" {
			return domain.Account{}, nil, fmt.Errorf("mt5 token: %w", err)
		}
		acct.AccountID = acctCfg.MT5.AccountID
		sc := clock.New(domain.PlatformMT5, acct.AccountID, deps.ClockOffsetCache, a.logger)
		platform = mt5.New(mt5.Config{
			BaseURL:         acctCfg.MT5.BaseURL,
			APIToken:        token,
			AccountID:       acctCfg.MT5.AccountID,
			StartingBalance: acctCfg.StartingBalance,
		}, sc, a.logger)

	case domain.PlatformCTrader:
		token, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:           acctCfg.CTrader.AccessToken,
			EncryptedPath: acctCfg.CTrader.TokenEncryptedPath,
			Password:      acctCfg.CTrader.TokenPassword,
		})
		if err != nil {
			return domain.Account{}, nil, fmt.Errorf("ctrader token: %w", err)
		}
		acct.AccountID = strconv.FormatInt(acctCfg.CTrader.AccountID, 10)
		sc := clock.New(domain.PlatformCTrader, acct.AccountID, deps.ClockOffsetCache, a.logger)
		platform = ctrader.New(ctrader.Config{
			BaseURL:         acctCfg.CTrader.BaseURL,
			WSHost:          acctCfg.CTrader.WSHost,
			AccessToken:     token,
			AccountID:       acctCfg.CTrader.AccountID,
			StartingBalance: acctCfg.StartingBalance,
		}, sc, a.logger)

	default:
		return domain.Account{}, nil, fmt.Errorf("unknown platform %q", acctCfg.Platform)
	}

	return acct, platform, nil
}

// resolveRules returns the account's effective rule set. With use_rule_store
// enabled, the scraped rule database takes precedence: exact program match
// first, then the firm-wide default, then the configured rules.
func (a *App) resolveRules(ctx context.Context, deps *Dependencies, acctCfg config.AccountConfig) (domain.PropRules, error) {
	if a.cfg.Monitor.UseRuleStore && deps.RuleSetStore != nil && acctCfg.Firm != "" {
		if stored, err := a.lookupStoredRules(ctx, deps.RuleSetStore, acctCfg.Firm, acctCfg.ProgramID); err == nil {
			a.logger.InfoContext(ctx, "rules loaded from store",
				slog.String("account", acctCfg.Label),
				slog.String("firm", stored.Firm),
				slog.String("program_id", stored.ProgramID),
			)
			return stored, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return domain.PropRules{}, fmt.Errorf("rule store: %w", err)
		}
	}

	rc, err := a.cfg.ResolveRules(acctCfg)
	if err != nil {
		return domain.PropRules{}, err
	}
	return domain.PropRules{
		Name:                rc.Name,
		Firm:                acctCfg.Firm,
		ProgramID:           acctCfg.ProgramID,
		MaxDailyDrawdownPct: rc.MaxDailyDrawdownPct,
		MaxTotalDrawdownPct: rc.MaxTotalDrawdownPct,
		MaxRiskPerTradePct:  rc.MaxRiskPerTradePct,
		MaxOpenLots:         rc.MaxOpenLots,
		MaxPositions:        rc.MaxPositions,
		WarnBufferPct:       rc.WarnBufferPct,
		TradingDaysOnly:     rc.TradingDaysOnly,
		RequireStopLoss:     rc.RequireStopLoss,
		MaxLeverage:         rc.MaxLeverage,
	}, nil
}

func (a *App) lookupStoredRules(ctx context.Context, store domain.RuleSetStore, firm, programID string) (domain.PropRules, error) {
	if programID != "" {
		rules, err := store.GetByProgram(ctx, firm, programID)
		if err == nil {
			return rules, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.PropRules{}, err
		}
	}
	return store.GetByFirm(ctx, firm)
}

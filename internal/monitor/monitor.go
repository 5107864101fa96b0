// Package monitor drives the per-account evaluation cycles. Every enabled
// account runs on its own goroutine with its own interval; a fault in one
// account's cycle never delays or terminates another account's loop.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sentinelfx/sentinel/internal/compliance"
	"github.com/sentinelfx/sentinel/internal/domain"
)

const (
	// disconnectTimeout bounds adapter teardown during shutdown.
	disconnectTimeout = 5 * time.Second

	// defaultDedupTTL suppresses repeat alerts for a persisting breach.
	defaultDedupTTL = 15 * time.Minute

	// lockTTL is the distributed per-account lock lifetime; locks are held
	// for the whole run, the TTL only reaps locks of crashed instances.
	lockTTL = 5 * time.Minute
)

// Alerter delivers breach and fault notifications. Satisfied by
// notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// EventBreach and EventError are the notification event types the monitor
// emits; operators filter on them in the notifier configuration.
const (
	EventBreach = "breach"
	EventError  = "error"
)

// Config holds monitor-wide tunables.
type Config struct {
	// DedupTTL is how long a (account, code, level) alert stays suppressed
	// after being sent. Zero selects the default.
	DedupTTL time.Duration
}

// Monitor schedules independent evaluation loops over registered accounts.
type Monitor struct {
	cfg      Config
	alerter  Alerter
	logger   *slog.Logger
	breaches domain.BreachStore
	dedup    domain.AlertDeduper
	locks    domain.LockManager
	runners  []*runner
}

// runner is one account's registration unit: the immutable account config
// plus its platform adapter. The adapter owns the account's anchor tracker.
type runner struct {
	acct     domain.Account
	platform domain.Platform
	logger   *slog.Logger
}

// New creates a Monitor. Accounts are added with Register before Run.
func New(cfg Config, alerter Alerter, logger *slog.Logger) *Monitor {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	return &Monitor{
		cfg:     cfg,
		alerter: alerter,
		logger:  logger.With(slog.String("component", "monitor")),
	}
}

// WithBreachStore enables persistence of every emitted breach.
func (m *Monitor) WithBreachStore(store domain.BreachStore) *Monitor {
	m.breaches = store
	return m
}

// WithAlertDedup enables suppression of repeat alerts for sustained breaches.
func (m *Monitor) WithAlertDedup(d domain.AlertDeduper) *Monitor {
	m.dedup = d
	return m
}

// WithLockManager enables per-account distributed locks so a second monitor
// instance skips accounts already being watched.
func (m *Monitor) WithLockManager(lm domain.LockManager) *Monitor {
	m.locks = lm
	return m
}

// Register adds an account and its platform adapter to the running set.
// Disabled accounts are skipped silently. Invalid registrations fail fast
// with an error wrapping domain.ErrConfiguration; the caller excludes that
// one account and continues with the rest.
func (m *Monitor) Register(acct domain.Account, platform domain.Platform) error {
	if !acct.Enabled {
		m.logger.Info("account disabled, skipping",
			slog.String("account", acct.Label),
		)
		return nil
	}
	if err := validateAccount(acct, platform); err != nil {
		return fmt.Errorf("monitor: register %q: %w", acct.Label, err)
	}

	m.runners = append(m.runners, &runner{
		acct:     acct,
		platform: platform,
		logger:   m.logger.With(slog.String("account", acct.Label)),
	})
	return nil
}

// validateAccount checks the fields the engine cannot run without.
func validateAccount(acct domain.Account, platform domain.Platform) error {
	var problems []string
	if strings.TrimSpace(acct.Label) == "" {
		problems = append(problems, "label must not be empty")
	}
	if platform == nil {
		problems = append(problems, fmt.Sprintf("no adapter for platform %q", acct.Platform))
	}
	if acct.CheckInterval <= 0 {
		problems = append(problems, "check_interval must be positive")
	}
	if acct.Rules.MaxDailyDrawdownPct <= 0 {
		problems = append(problems, "rules.max_daily_drawdown_pct must be positive")
	}
	if acct.Rules.WarnBufferPct <= 0 || acct.Rules.WarnBufferPct > 1 {
		problems = append(problems, "rules.warn_buffer_pct must be in (0, 1]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// Accounts returns the labels of the registered, enabled accounts.
func (m *Monitor) Accounts() []string {
	labels := make([]string, 0, len(m.runners))
	for _, r := range m.runners {
		labels = append(labels, r.acct.Label)
	}
	return labels
}

// Run starts one goroutine per registered account and blocks until the
// context is cancelled. Per-account failures are contained inside that
// account's loop; Run only returns early if the context ends.
func (m *Monitor) Run(ctx context.Context) error {
	if len(m.runners) == 0 {
		m.logger.Warn("no accounts registered, monitor idle")
		<-ctx.Done()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range m.runners {
		r := r
		g.Go(func() error {
			m.runAccount(ctx, r)
			return nil
		})
	}

	m.logger.InfoContext(ctx, "monitor started",
		slog.Int("accounts", len(m.runners)),
	)
	return g.Wait()
}

// runAccount owns one account's whole lifecycle: optional lock, connect,
// poll loop with optional event stream, and guaranteed disconnect.
func (m *Monitor) runAccount(ctx context.Context, r *runner) {
	if m.locks != nil {
		unlock, err := m.locks.Acquire(ctx, "monitor:"+r.acct.Label, lockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				r.logger.Warn("account already monitored by another instance, skipping")
				return
			}
			r.logger.Warn("lock acquisition failed, proceeding unlocked",
				slog.String("error", err.Error()),
			)
		} else {
			defer unlock()
		}
	}

	connected := false
	defer func() {
		if !connected {
			return
		}
		// Disconnect with its own deadline; ctx is usually cancelled here.
		dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if err := r.platform.Disconnect(dctx); err != nil {
			r.logger.Warn("disconnect failed", slog.String("error", err.Error()))
		}
	}()

	if err := r.platform.Connect(ctx); err != nil {
		m.reportFault(ctx, r, fmt.Errorf("connect: %w", err))
	} else {
		connected = true
	}

	var events <-chan domain.AccountEvent
	if es, ok := r.platform.(domain.EventStreamer); ok {
		events = es.Events()
	}

	r.logger.InfoContext(ctx, "account loop started",
		slog.String("platform", string(r.acct.Platform)),
		slog.Duration("interval", r.acct.CheckInterval),
	)

	ticker := time.NewTicker(r.acct.CheckInterval)
	defer ticker.Stop()

	m.safeCycle(ctx, r, &connected)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.safeCycle(ctx, r, &connected)
		case ev, ok := <-events:
			if !ok {
				// Stream ended; fall back to polling only.
				events = nil
				continue
			}
			r.logger.DebugContext(ctx, "account event received",
				slog.String("kind", string(ev.Kind)),
				slog.String("symbol", ev.Symbol),
			)
			m.safeCycle(ctx, r, &connected)
		}
	}
}

// safeCycle runs one evaluation cycle with the per-account fault boundary:
// panics and errors are logged and reported for this account alone, and the
// loop resumes on its normal schedule.
func (m *Monitor) safeCycle(ctx context.Context, r *runner, connected *bool) {
	defer func() {
		if rec := recover(); rec != nil {
			m.reportFault(ctx, r, fmt.Errorf("cycle panic: %v", rec))
		}
	}()

	if err := m.cycle(ctx, r, connected); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.reportFault(ctx, r, err)
	}
}

// cycle is snapshot -> evaluate -> persist -> alert.
func (m *Monitor) cycle(ctx context.Context, r *runner, connected *bool) error {
	if !*connected {
		if err := r.platform.Connect(ctx); err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
		*connected = true
	}

	snap, err := r.platform.AccountSnapshot(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrConnectivity) {
			*connected = false
		}
		return fmt.Errorf("snapshot: %w", err)
	}

	breaches := compliance.Evaluate(snap, r.acct.Rules)

	r.logger.DebugContext(ctx, "cycle complete",
		slog.Float64("balance", snap.Balance),
		slog.Float64("equity", snap.Equity),
		slog.Float64("daily_dd_pct", snap.DailyDrawdownPct()),
		slog.Int("positions", len(snap.Positions)),
		slog.Int("breaches", len(breaches)),
	)

	if len(breaches) == 0 {
		return nil
	}
	return m.handleBreaches(ctx, r, breaches)
}

// handleBreaches persists the full breach list and alerts on the deduped
// subset. The list is either processed in full or the error is surfaced;
// breaches are never silently dropped part way.
func (m *Monitor) handleBreaches(ctx context.Context, r *runner, breaches []domain.RuleBreach) error {
	if m.breaches != nil {
		recs := make([]domain.BreachRecord, 0, len(breaches))
		for _, b := range breaches {
			recs = append(recs, domain.BreachRecord{
				ID:           uuid.New().String(),
				AccountLabel: r.acct.Label,
				Firm:         r.acct.Firm,
				Code:         b.Code,
				Level:        b.Level,
				Message:      b.Message,
				Value:        b.Value,
				Threshold:    b.Threshold,
				OccurredAt:   b.Timestamp,
			})
		}
		var err error
		if len(recs) == 1 {
			err = m.breaches.Insert(ctx, recs[0])
		} else {
			err = m.breaches.InsertBatch(ctx, recs)
		}
		if err != nil {
			return fmt.Errorf("persist breaches: %w", err)
		}
	}

	for _, b := range breaches {
		r.logger.WarnContext(ctx, "rule breach",
			slog.String("code", string(b.Code)),
			slog.String("level", string(b.Level)),
			slog.Float64("value", b.Value),
			slog.Float64("threshold", b.Threshold),
		)

		if m.dedup != nil {
			fresh, err := m.dedup.ShouldAlert(ctx, r.acct.Label, b.Code, b.Level, m.cfg.DedupTTL)
			if err != nil {
				r.logger.Warn("alert dedup unavailable, alerting anyway",
					slog.String("error", err.Error()),
				)
			} else if !fresh {
				continue
			}
		}

		if m.alerter != nil {
			title := fmt.Sprintf("%s %s: %s", b.Level, b.Code, r.acct.Label)
			if err := m.alerter.Notify(ctx, EventBreach, title, b.Message); err != nil {
				r.logger.Warn("breach alert delivery failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}

// reportFault logs an operational error and pushes it through the same
// notification channel as breaches, so operators see faults alongside risk
// alerts.
func (m *Monitor) reportFault(ctx context.Context, r *runner, err error) {
	r.logger.ErrorContext(ctx, "account cycle failed",
		slog.String("error", err.Error()),
	)
	if m.alerter == nil {
		return
	}
	title := fmt.Sprintf("monitor fault: %s", r.acct.Label)
	if nerr := m.alerter.Notify(ctx, EventError, title, err.Error()); nerr != nil {
		r.logger.Warn("fault alert delivery failed",
			slog.String("error", nerr.Error()),
		)
	}
}

// EvaluateOnce runs a single connect -> snapshot -> evaluate pass over every
// registered account and returns the breach lists keyed by account label.
// Used by the one-shot audit mode. Accounts that fail contribute an entry in
// the returned error map instead; healthy accounts are unaffected.
func (m *Monitor) EvaluateOnce(ctx context.Context) (map[string][]domain.RuleBreach, map[string]error) {
	results := make(map[string][]domain.RuleBreach, len(m.runners))
	faults := make(map[string]error)

	for _, r := range m.runners {
		breaches, err := m.evaluateAccountOnce(ctx, r)
		if err != nil {
			faults[r.acct.Label] = err
			continue
		}
		results[r.acct.Label] = breaches
	}
	return results, faults
}

func (m *Monitor) evaluateAccountOnce(ctx context.Context, r *runner) ([]domain.RuleBreach, error) {
	if err := r.platform.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		_ = r.platform.Disconnect(dctx)
	}()

	snap, err := r.platform.AccountSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return compliance.Evaluate(snap, r.acct.Rules), nil
}

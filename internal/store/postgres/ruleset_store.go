package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinelfx/sentinel/internal/domain"
)

// RuleSetStore implements domain.RuleSetStore using PostgreSQL.
type RuleSetStore struct {
	pool *pgxpool.Pool
}

// NewRuleSetStore creates a new RuleSetStore backed by the given connection pool.
func NewRuleSetStore(pool *pgxpool.Pool) *RuleSetStore {
	return &RuleSetStore{pool: pool}
}

const ruleSetColumns = `firm, program_id, name,
	max_daily_drawdown_pct, max_total_drawdown_pct, max_risk_per_trade_pct,
	max_open_lots, max_positions, warn_buffer_pct,
	trading_days_only, require_stop_loss, max_leverage, updated_at`

// GetByProgram returns the rule set for a specific firm program.
func (s *RuleSetStore) GetByProgram(ctx context.Context, firm, programID string) (domain.PropRules, error) {
	query := `SELECT ` + ruleSetColumns + ` FROM rule_sets WHERE firm = $1 AND program_id = $2`
	return s.getOne(ctx, query, firm, programID)
}

// GetByFirm returns the firm-wide default rule set, stored with an empty
// program qualifier.
func (s *RuleSetStore) GetByFirm(ctx context.Context, firm string) (domain.PropRules, error) {
	query := `SELECT ` + ruleSetColumns + ` FROM rule_sets WHERE firm = $1 AND program_id = ''`
	return s.getOne(ctx, query, firm)
}

func (s *RuleSetStore) getOne(ctx context.Context, query string, args ...any) (domain.PropRules, error) {
	var r domain.PropRules
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&r.Firm, &r.ProgramID, &r.Name,
		&r.MaxDailyDrawdownPct, &r.MaxTotalDrawdownPct, &r.MaxRiskPerTradePct,
		&r.MaxOpenLots, &r.MaxPositions, &r.WarnBufferPct,
		&r.TradingDaysOnly, &r.RequireStopLoss, &r.MaxLeverage, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PropRules{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PropRules{}, fmt.Errorf("postgres: get rule set: %w", err)
	}
	return r, nil
}

// Upsert inserts or replaces a rule set keyed by (firm, program_id).
func (s *RuleSetStore) Upsert(ctx context.Context, r domain.PropRules) error {
	const query = `
		INSERT INTO rule_sets (` + ruleSetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (firm, program_id) DO UPDATE SET
			name = EXCLUDED.name,
			max_daily_drawdown_pct = EXCLUDED.max_daily_drawdown_pct,
			max_total_drawdown_pct = EXCLUDED.max_total_drawdown_pct,
			max_risk_per_trade_pct = EXCLUDED.max_risk_per_trade_pct,
			max_open_lots = EXCLUDED.max_open_lots,
			max_positions = EXCLUDED.max_positions,
			warn_buffer_pct = EXCLUDED.warn_buffer_pct,
			trading_days_only = EXCLUDED.trading_days_only,
			require_stop_loss = EXCLUDED.require_stop_loss,
			max_leverage = EXCLUDED.max_leverage,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		r.Firm, r.ProgramID, r.Name,
		r.MaxDailyDrawdownPct, r.MaxTotalDrawdownPct, r.MaxRiskPerTradePct,
		r.MaxOpenLots, r.MaxPositions, r.WarnBufferPct,
		r.TradingDaysOnly, r.RequireStopLoss, r.MaxLeverage,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert rule set %s/%s: %w", r.Firm, r.ProgramID, err)
	}
	return nil
}

var _ domain.RuleSetStore = (*RuleSetStore)(nil)

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinelfx/sentinel/internal/domain"
)

// BreachStore implements domain.BreachStore using PostgreSQL.
type BreachStore struct {
	pool *pgxpool.Pool
}

// NewBreachStore creates a new BreachStore backed by the given connection pool.
func NewBreachStore(pool *pgxpool.Pool) *BreachStore {
	return &BreachStore{pool: pool}
}

const breachColumns = `id, account_label, firm, code, level, message, value, threshold, occurred_at, created_at`

// Insert appends one breach record.
func (s *BreachStore) Insert(ctx context.Context, rec domain.BreachRecord) error {
	const query = `
		INSERT INTO breach_log (id, account_label, firm, code, level, message, value, threshold, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.AccountLabel, rec.Firm, string(rec.Code), string(rec.Level),
		rec.Message, rec.Value, rec.Threshold, rec.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert breach %s: %w", rec.Code, err)
	}
	return nil
}

// InsertBatch appends multiple breach records in a single batch round trip.
func (s *BreachStore) InsertBatch(ctx context.Context, recs []domain.BreachRecord) error {
	if len(recs) == 0 {
		return nil
	}

	const query = `
		INSERT INTO breach_log (id, account_label, firm, code, level, message, value, threshold, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(query,
			rec.ID, rec.AccountLabel, rec.Firm, string(rec.Code), string(rec.Level),
			rec.Message, rec.Value, rec.Threshold, rec.OccurredAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range recs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: insert breach batch: %w", err)
		}
	}
	return nil
}

// ListByAccount returns an account's breach history, newest first.
func (s *BreachStore) ListByAccount(ctx context.Context, label string, opts domain.ListOpts) ([]domain.BreachRecord, error) {
	query, args := buildListByAccountQuery(label, opts)
	return s.list(ctx, query, args...)
}

// buildListByAccountQuery assembles the filtered history query with
// sequentially numbered placeholders matching the returned args.
func buildListByAccountQuery(label string, opts domain.ListOpts) (string, []any) {
	query := `SELECT ` + breachColumns + ` FROM breach_log WHERE account_label = $1`
	args := []any{label}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND occurred_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY occurred_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return query, args
}

// ListBefore returns every breach that occurred strictly before the cutoff,
// oldest first, for archival.
func (s *BreachStore) ListBefore(ctx context.Context, before time.Time) ([]domain.BreachRecord, error) {
	query := `SELECT ` + breachColumns + ` FROM breach_log WHERE occurred_at < $1 ORDER BY occurred_at ASC`
	return s.list(ctx, query, before)
}

// DeleteBefore removes breaches older than the cutoff and reports how many
// rows were deleted.
func (s *BreachStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM breach_log WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete breaches before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of logged breaches.
func (s *BreachStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM breach_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count breaches: %w", err)
	}
	return n, nil
}

func (s *BreachStore) list(ctx context.Context, query string, args ...any) ([]domain.BreachRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list breaches: %w", err)
	}
	defer rows.Close()

	var recs []domain.BreachRecord
	for rows.Next() {
		var rec domain.BreachRecord
		var code, level string
		if err := rows.Scan(
			&rec.ID, &rec.AccountLabel, &rec.Firm, &code, &level,
			&rec.Message, &rec.Value, &rec.Threshold, &rec.OccurredAt, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan breach: %w", err)
		}
		rec.Code = domain.BreachCode(code)
		rec.Level = domain.BreachLevel(level)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list breaches rows: %w", err)
	}
	return recs, nil
}

var _ domain.BreachStore = (*BreachStore)(nil)

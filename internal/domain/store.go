package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RuleSetStore looks up prop-firm rule sets produced by the scraper pipeline.
type RuleSetStore interface {
	// GetByProgram returns the rule set for a specific firm program. It
	// returns ErrNotFound when the program is unknown.
	GetByProgram(ctx context.Context, firm, programID string) (PropRules, error)
	// GetByFirm returns the firm's default rule set (no program qualifier).
	GetByFirm(ctx context.Context, firm string) (PropRules, error)
	// Upsert is the scraper pipeline's write boundary; the monitor itself
	// only reads.
	Upsert(ctx context.Context, rules PropRules) error
}

// BreachRecord is one persisted breach occurrence tied to an account.
type BreachRecord struct {
	ID           string
	AccountLabel string
	Firm         string
	Code         BreachCode
	Level        BreachLevel
	Message      string
	Value        float64
	Threshold    float64
	OccurredAt   time.Time
	CreatedAt    time.Time
}

// BreachStore persists an append-only breach audit log.
type BreachStore interface {
	Insert(ctx context.Context, rec BreachRecord) error
	InsertBatch(ctx context.Context, recs []BreachRecord) error
	ListByAccount(ctx context.Context, label string, opts ListOpts) ([]BreachRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]BreachRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

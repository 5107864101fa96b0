package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelfx/sentinel/internal/domain"
)

func TestBuildListByAccountQuery(t *testing.T) {
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		opts     domain.ListOpts
		wantSQL  []string // fragments that must appear, in order
		wantArgs []any
	}{
		{
			name:     "no filters",
			opts:     domain.ListOpts{},
			wantSQL:  []string{"WHERE account_label = $1", "ORDER BY occurred_at DESC"},
			wantArgs: []any{"ftmo-main"},
		},
		{
			name:     "limit only",
			opts:     domain.ListOpts{Limit: 5},
			wantSQL:  []string{"WHERE account_label = $1", "ORDER BY occurred_at DESC", "LIMIT $2"},
			wantArgs: []any{"ftmo-main", 5},
		},
		{
			name: "time window with pagination",
			opts: domain.ListOpts{Since: &since, Until: &until, Limit: 10, Offset: 20},
			wantSQL: []string{
				"WHERE account_label = $1",
				"AND occurred_at >= $2",
				"AND occurred_at <= $3",
				"ORDER BY occurred_at DESC",
				"LIMIT $4",
				"OFFSET $5",
			},
			wantArgs: []any{"ftmo-main", since, until, 10, 20},
		},
		{
			name:     "offset without limit",
			opts:     domain.ListOpts{Offset: 20},
			wantSQL:  []string{"WHERE account_label = $1", "OFFSET $2"},
			wantArgs: []any{"ftmo-main", 20},
		},
		{
			name:     "until only",
			opts:     domain.ListOpts{Until: &until},
			wantSQL:  []string{"AND occurred_at <= $2"},
			wantArgs: []any{"ftmo-main", until},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildListByAccountQuery("ftmo-main", tt.opts)

			pos := 0
			for _, frag := range tt.wantSQL {
				idx := strings.Index(query[pos:], frag)
				require.GreaterOrEqual(t, idx, 0, "missing %q in %q", frag, query)
				pos += idx + len(frag)
			}
			assert.Equal(t, tt.wantArgs, args, "args must line up with placeholder numbering")
		})
	}
}

func TestBuildListByAccountQuerySelectsAllColumns(t *testing.T) {
	query, _ := buildListByAccountQuery("x", domain.ListOpts{})
	for _, col := range strings.Split(breachColumns, ",") {
		assert.Contains(t, query, strings.TrimSpace(col))
	}
}

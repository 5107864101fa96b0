// Package mt5 adapts an MT5 terminal bridge to the snapshot acquisition
// contract. The MetaTrader terminal itself has no public API; a thin bridge
// process beside the terminal exposes its state over HTTP, and this client
// normalizes that into domain snapshots.
package mt5

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sentinelfx/sentinel/internal/compliance"
	"github.com/sentinelfx/sentinel/internal/domain"
	"github.com/sentinelfx/sentinel/internal/platform/clock"
)

// Config holds connection parameters for one MT5 terminal bridge.
type Config struct {
	// BaseURL is the bridge endpoint, e.g. "http://127.0.0.1:8787".
	BaseURL string
	// APIToken authenticates against the bridge when it requires one.
	APIToken string
	// AccountID is the MT5 login the bridge is attached to.
	AccountID string
	// StartingBalance is the challenge starting balance stamped onto every
	// snapshot. Zero disables the total-drawdown check downstream.
	StartingBalance float64
}

// Client implements domain.Platform against the MT5 bridge. Each Client
// owns its account's anchor tracker and server clock; both are touched only
// from the account's monitoring loop.
type Client struct {
	cfg        Config
	httpClient *http.Client
	clock      *clock.ServerClock
	anchor     *compliance.AnchorTracker
	logger     *slog.Logger
}

// New creates an MT5 adapter for one account.
func New(cfg Config, sc *clock.ServerClock, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		clock:      sc,
		anchor:     compliance.NewAnchorTracker(),
		logger:     logger.With(slog.String("component", "mt5"), slog.String("account_id", cfg.AccountID)),
	}
}

// Connect verifies the bridge is reachable and attached to the expected
// terminal login.
func (c *Client) Connect(ctx context.Context) error {
	var info apiAccountInfo
	if err := c.get(ctx, "/api/account", nil, &info); err != nil {
		return fmt.Errorf("mt5: connect: %w", err)
	}
	if c.cfg.AccountID != "" && formatTicket(info.Login) != c.cfg.AccountID {
		return fmt.Errorf("mt5: connect: %w: bridge serves login %d, expected %s",
			domain.ErrConfiguration, info.Login, c.cfg.AccountID)
	}
	c.logger.InfoContext(ctx, "connected to terminal bridge",
		slog.Int64("login", info.Login),
		slog.String("currency", info.Currency),
	)
	return nil
}

// Disconnect is a no-op; the bridge connection is stateless HTTP.
func (c *Client) Disconnect(ctx context.Context) error {
	return nil
}

// AccountSnapshot fetches the account state, advances the day-start anchor
// with the venue's own clock, and returns a normalized snapshot.
func (c *Client) AccountSnapshot(ctx context.Context) (domain.AccountSnapshot, error) {
	var info apiAccountInfo
	if err := c.get(ctx, "/api/account", nil, &info); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("mt5: account info: %w", err)
	}

	var apiPositions []apiPosition
	if err := c.get(ctx, "/api/positions", nil, &apiPositions); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("mt5: positions: %w", err)
	}

	serverTime := c.serverTime(ctx)
	c.anchor.Update(serverTime, info.Balance, info.Equity)
	dayBalance, dayEquity := c.anchor.DayStart()

	positions := make([]domain.Position, 0, len(apiPositions))
	var unrealized float64
	for _, p := range apiPositions {
		pos := p.toDomain()
		unrealized += pos.ProfitLoss
		positions = append(positions, pos)
	}

	realized, err := c.todayRealized(ctx, serverTime)
	if err != nil {
		// Deal history is supplementary; a missing total P&L must not block
		// the risk evaluation itself.
		c.logger.Warn("deal history unavailable, total P&L excludes realized deals",
			slog.String("error", err.Error()),
		)
	}

	return domain.AccountSnapshot{
		Timestamp:       serverTime,
		Balance:         info.Balance,
		Equity:          info.Equity,
		MarginUsed:      info.Margin,
		MarginAvailable: info.MarginFree,
		Positions:       positions,
		TotalProfitLoss: realized + unrealized,
		StartingBalance: c.cfg.StartingBalance,
		DayStartBalance: dayBalance,
		DayStartEquity:  dayEquity,
	}, nil
}

// serverTime resolves venue time from the latest tick, feeding the clock's
// offset cache, and degrades through the clock's fallback chain when no
// tick is available.
func (c *Client) serverTime(ctx context.Context) time.Time {
	var tick apiTick
	if err := c.get(ctx, "/api/tick", nil, &tick); err == nil {
		if ts := tick.time(); !ts.IsZero() {
			c.clock.Observe(ctx, ts)
			return ts
		}
	}
	return c.clock.Now(ctx)
}

// todayRealized sums the closing deals since the venue's midnight.
func (c *Client) todayRealized(ctx context.Context, serverTime time.Time) (float64, error) {
	midnight := time.Date(serverTime.Year(), serverTime.Month(), serverTime.Day(), 0, 0, 0, 0, serverTime.Location())

	q := url.Values{}
	q.Set("from", strconv.FormatInt(midnight.UnixMilli(), 10))
	q.Set("to", strconv.FormatInt(serverTime.UnixMilli(), 10))

	var deals []apiDeal
	if err := c.get(ctx, "/api/deals", q, &deals); err != nil {
		return 0, err
	}

	var total float64
	for _, d := range deals {
		total += d.realized()
	}
	return total, nil
}

// get performs a bridge GET request and decodes the JSON body into out.
// Transport failures and 5xx responses wrap domain.ErrConnectivity.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: bridge rejected token (status %d)", domain.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: bridge status %d", domain.ErrConnectivity, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("bridge status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func formatTicket(ticket int64) string {
	return strconv.FormatInt(ticket, 10)
}

// Compile-time interface check.
var _ domain.Platform = (*Client)(nil)

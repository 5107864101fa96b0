// Package ctrader adapts the cTrader Open API to the snapshot acquisition
// contract. Snapshots come from the REST surface; a websocket session
// pushes spot and execution events, which the monitor uses to re-evaluate
// between poll ticks.
package ctrader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sentinelfx/sentinel/internal/compliance"
	"github.com/sentinelfx/sentinel/internal/domain"
	"github.com/sentinelfx/sentinel/internal/platform/clock"
)

// Config holds connection parameters for one cTrader account.
type Config struct {
	// BaseURL is the Open API REST root.
	BaseURL string
	// WSHost is the Open API websocket endpoint. Empty disables the event
	// stream; the account then runs on polling alone.
	WSHost string
	// AccessToken is the OAuth access token for the trading account.
	AccessToken string
	// AccountID is the ctidTraderAccountId.
	AccountID int64
	// StartingBalance is the challenge starting balance for total-drawdown
	// math. Zero disables that check downstream.
	StartingBalance float64
}

// Client implements domain.Platform and domain.EventStreamer. The anchor
// tracker and server clock are owned by the account's monitoring loop; the
// websocket read loop only feeds the events channel and the clock.
type Client struct {
	cfg        Config
	httpClient *http.Client
	clock      *clock.ServerClock
	anchor     *compliance.AnchorTracker
	stream     *eventStream
	logger     *slog.Logger
}

// New creates a cTrader adapter for one account.
func New(cfg Config, sc *clock.ServerClock, logger *slog.Logger) *Client {
	l := logger.With(slog.String("component", "ctrader"), slog.Int64("account_id", cfg.AccountID))
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		clock:      sc,
		anchor:     compliance.NewAnchorTracker(),
		logger:     l,
	}
	if cfg.WSHost != "" {
		c.stream = newEventStream(cfg, sc, l)
	}
	return c
}

// Connect verifies the REST credentials and, when a websocket host is
// configured, opens the event stream.
func (c *Client) Connect(ctx context.Context) error {
	var trader apiTrader
	if err := c.get(ctx, fmt.Sprintf("/v2/accounts/%d", c.cfg.AccountID), &trader); err != nil {
		return fmt.Errorf("ctrader: connect: %w", err)
	}

	if c.stream != nil {
		if err := c.stream.open(ctx); err != nil {
			// The poll path still works without the stream; degrade loudly.
			c.logger.WarnContext(ctx, "event stream unavailable, polling only",
				slog.String("error", err.Error()),
			)
		}
	}

	c.logger.InfoContext(ctx, "connected",
		slog.Float64("balance", float64(trader.BalanceCents)/centsPerUnit),
	)
	return nil
}

// Disconnect closes the event stream. REST needs no teardown.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.stream != nil {
		c.stream.close()
	}
	return nil
}

// Events exposes the pushed account events. Nil when no websocket host was
// configured.
func (c *Client) Events() <-chan domain.AccountEvent {
	if c.stream == nil {
		return nil
	}
	return c.stream.events
}

// AccountSnapshot fetches trader and position state, advances the anchor on
// venue time, and returns a normalized snapshot.
func (c *Client) AccountSnapshot(ctx context.Context) (domain.AccountSnapshot, error) {
	var trader apiTrader
	if err := c.get(ctx, fmt.Sprintf("/v2/accounts/%d", c.cfg.AccountID), &trader); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("ctrader: trader state: %w", err)
	}

	var apiPositions []apiCTPosition
	if err := c.get(ctx, fmt.Sprintf("/v2/accounts/%d/positions", c.cfg.AccountID), &apiPositions); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("ctrader: positions: %w", err)
	}

	balance := float64(trader.BalanceCents) / centsPerUnit
	equity := float64(trader.EquityCents) / centsPerUnit

	serverTime := c.clock.Now(ctx)
	c.anchor.Update(serverTime, balance, equity)
	dayBalance, dayEquity := c.anchor.DayStart()

	positions := make([]domain.Position, 0, len(apiPositions))
	var unrealized float64
	for _, p := range apiPositions {
		pos := p.toDomain()
		unrealized += pos.ProfitLoss
		positions = append(positions, pos)
	}

	return domain.AccountSnapshot{
		Timestamp:       serverTime,
		Balance:         balance,
		Equity:          equity,
		MarginUsed:      float64(trader.MarginUsedCents) / centsPerUnit,
		MarginAvailable: float64(trader.FreeMarginCents) / centsPerUnit,
		Positions:       positions,
		TotalProfitLoss: (balance - float64(trader.DepositCents)/centsPerUnit) + unrealized,
		StartingBalance: c.cfg.StartingBalance,
		DayStartBalance: dayBalance,
		DayStartEquity:  dayEquity,
	}, nil
}

// get performs an authenticated REST request. Transport failures and 5xx
// responses wrap domain.ErrConnectivity.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: access token rejected (status %d)", domain.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: api status %d", domain.ErrConnectivity, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.Platform      = (*Client)(nil)
	_ domain.EventStreamer = (*Client)(nil)
)

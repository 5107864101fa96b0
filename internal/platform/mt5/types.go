package mt5

import (
	"time"

	"github.com/sentinelfx/sentinel/internal/domain"
)

// Wire types for the MT5 terminal bridge REST API. The bridge exposes the
// terminal's account, position, tick, and deal-history state as JSON.

type apiAccountInfo struct {
	Login        int64   `json:"login"`
	Balance      float64 `json:"balance"`
	Equity       float64 `json:"equity"`
	Margin       float64 `json:"margin"`
	MarginFree   float64 `json:"margin_free"`
	MarginLevel  float64 `json:"margin_level"`
	Currency     string  `json:"currency"`
	Leverage     int     `json:"leverage"`
	TradeAllowed bool    `json:"trade_allowed"`
}

// MT5 position type constants: 0 = POSITION_TYPE_BUY, 1 = POSITION_TYPE_SELL.
const (
	positionTypeBuy  = 0
	positionTypeSell = 1
)

type apiPosition struct {
	Ticket       int64   `json:"ticket"`
	Symbol       string  `json:"symbol"`
	Type         int     `json:"type"`
	Volume       float64 `json:"volume"`
	PriceOpen    float64 `json:"price_open"`
	PriceCurrent float64 `json:"price_current"`
	Profit       float64 `json:"profit"`
	Swap         float64 `json:"swap"`
	SL           float64 `json:"sl"`
	TP           float64 `json:"tp"`
	TimeMsc      int64   `json:"time_msc"` // open time, Unix milliseconds
}

func (p apiPosition) toDomain() domain.Position {
	side := domain.SideBuy
	if p.Type == positionTypeSell {
		side = domain.SideSell
	}
	return domain.Position{
		ID:           formatTicket(p.Ticket),
		Symbol:       p.Symbol,
		Side:         side,
		Volume:       p.Volume,
		EntryPrice:   p.PriceOpen,
		CurrentPrice: p.PriceCurrent,
		ProfitLoss:   p.Profit + p.Swap,
		StopLoss:     p.SL,
		TakeProfit:   p.TP,
		OpenedAt:     time.UnixMilli(p.TimeMsc).UTC(),
	}
}

type apiTick struct {
	Symbol  string  `json:"symbol"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	TimeMsc int64   `json:"time_msc"` // venue timestamp, Unix milliseconds
}

func (t apiTick) time() time.Time {
	if t.TimeMsc == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.TimeMsc).UTC()
}

// MT5 deal entry constants: 1 = DEAL_ENTRY_OUT (a closing deal that realizes
// profit or loss).
const dealEntryOut = 1

type apiDeal struct {
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol"`
	Entry      int     `json:"entry"`
	Profit     float64 `json:"profit"`
	Commission float64 `json:"commission"`
	Swap       float64 `json:"swap"`
	TimeMsc    int64   `json:"time_msc"`
}

// realized returns the deal's contribution to the day's realized P&L.
// Only closing deals count; entries carry cost fields but no result yet.
func (d apiDeal) realized() float64 {
	if d.Entry != dealEntryOut {
		return 0
	}
	return d.Profit + d.Commission + d.Swap
}

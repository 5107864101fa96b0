package ctrader

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/sentinelfx/sentinel/internal/domain"
)

// Open API payload types carried in the JSON frame envelope.
const (
	payloadAuthReq        = 2100
	payloadAuthRes        = 2101
	payloadSubscribeSpots = 2127
	payloadSpotEvent      = 2126
	payloadExecutionEvent = 2132
	payloadHeartbeat      = 51
	payloadError          = 2142
)

// wsFrame is the outer envelope of every Open API message.
type wsFrame struct {
	PayloadType int             `json:"payloadType"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type authRequest struct {
	AccessToken         string `json:"accessToken"`
	CtidTraderAccountID int64  `json:"ctidTraderAccountId"`
}

type spotEvent struct {
	SymbolName  string `json:"symbolName"`
	Bid         int64  `json:"bid"` // price in 1e-5 units
	Ask         int64  `json:"ask"`
	TimestampMs int64  `json:"timestamp"`
}

func (e spotEvent) time() time.Time {
	if e.TimestampMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.TimestampMs).UTC()
}

type executionEvent struct {
	ExecutionType string `json:"executionType"`
	SymbolName    string `json:"symbolName"`
	TimestampMs   int64  `json:"timestamp"`
}

type wsError struct {
	ErrorCode   string `json:"errorCode"`
	Description string `json:"description"`
}

// REST shapes. Monetary fields arrive in cents (1/100 of the account
// currency); the adapter divides them out so minor units never leak past
// this package.

type apiTrader struct {
	CtidTraderAccountID int64 `json:"ctidTraderAccountId"`
	BalanceCents        int64 `json:"balance"`
	EquityCents         int64 `json:"equity"`
	MarginUsedCents     int64 `json:"usedMargin"`
	FreeMarginCents     int64 `json:"freeMargin"`
	DepositCents        int64 `json:"depositAssetBalance"`
}

const (
	// cTrader encodes money in cents and volume in centilots.
	centsPerUnit     = 100.0
	centilotsPerLot  = 100.0
	pricePointsScale = 100_000.0
)

type apiCTPosition struct {
	PositionID     int64   `json:"positionId"`
	SymbolName     string  `json:"symbolName"`
	TradeSide      string  `json:"tradeSide"` // "BUY" or "SELL"
	VolumeCents    int64   `json:"volume"`    // centilots
	EntryPrice     float64 `json:"entryPrice"`
	CurrentPrice   float64 `json:"currentPrice"`
	ProfitCents    int64   `json:"profit"`
	SwapCents      int64   `json:"swap"`
	CommissionCent int64   `json:"commission"`
	StopLoss       float64 `json:"stopLoss"`
	TakeProfit     float64 `json:"takeProfit"`
	OpenTimeMs     int64   `json:"openTimestamp"`
}

func (p apiCTPosition) toDomain() domain.Position {
	side := domain.SideBuy
	if p.TradeSide == "SELL" {
		side = domain.SideSell
	}
	return domain.Position{
		ID:           strconv.FormatInt(p.PositionID, 10),
		Symbol:       p.SymbolName,
		Side:         side,
		Volume:       float64(p.VolumeCents) / centilotsPerLot,
		EntryPrice:   p.EntryPrice,
		CurrentPrice: p.CurrentPrice,
		ProfitLoss:   float64(p.ProfitCents+p.SwapCents+p.CommissionCent) / centsPerUnit,
		StopLoss:     p.StopLoss,
		TakeProfit:   p.TakeProfit,
		OpenedAt:     time.UnixMilli(p.OpenTimeMs).UTC(),
	}
}

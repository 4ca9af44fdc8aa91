package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument торговые ограничения инструмента в базовых единицах.
type Instrument struct {
	Symbol    string          `json:"symbol"`
	LotSize   decimal.Decimal `json:"lot_size"`
	MinQty    decimal.Decimal `json:"min_qty"`
	MaxQty    decimal.Decimal `json:"max_qty"`
	TickSize  decimal.Decimal `json:"tick_size"`
	LastPrice decimal.Decimal `json:"last_price"`
}

// ExchangePosition позиция как её видит биржа. Qty всегда неотрицательный.
type ExchangePosition struct {
	Symbol     string
	Side       Side
	Qty        decimal.Decimal
	EntryPrice decimal.Decimal
	MarkPrice  decimal.Decimal
}

func (p ExchangePosition) Flat() bool { return !p.Qty.IsPositive() }

// AccountState снимок счёта. Пишет только сверка с биржей.
type AccountState struct {
	Balance       decimal.Decimal
	OpenPositions map[string]string // symbol -> position id
	UpdatedAt     time.Time
}

func (a AccountState) HasOpen(symbol string) bool {
	_, ok := a.OpenPositions[symbol]
	return ok
}

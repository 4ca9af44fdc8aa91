package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProfitSummary итог по закрытой позиции.
type ProfitSummary struct {
	PositionID    string          `json:"position_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	State         PositionState   `json:"state"`
	Outcome       Outcome         `json:"outcome"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	ExitQty       decimal.Decimal `json:"exit_qty"`
	ExitAvgPrice  decimal.Decimal `json:"exit_avg_price"`
	GrossPnL      decimal.Decimal `json:"gross_pnl"`
	Fees          decimal.Decimal `json:"fees"`
	NetPnL        decimal.Decimal `json:"net_pnl"`
	PctOfRisk     decimal.Decimal `json:"pct_of_risk"`
	CapitalAtRisk decimal.Decimal `json:"capital_at_risk"`
	Duration      time.Duration   `json:"duration"`
}

type AuditAction string

const (
	AuditPlace      AuditAction = "place"
	AuditCancel     AuditAction = "cancel"
	AuditTransition AuditAction = "transition"
	AuditReject     AuditAction = "reject"
)

// AuditEvent запись журнала по ордерам и переходам.
type AuditEvent struct {
	PositionID string          `json:"position_id"`
	Symbol     string          `json:"symbol"`
	Action     AuditAction     `json:"action"`
	Role       OrderRole       `json:"role,omitempty"`
	OrderID    string          `json:"order_id,omitempty"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	From       PositionState   `json:"from,omitempty"`
	To         PositionState   `json:"to,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	At         time.Time       `json:"at"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PositionState string

const (
	StatePendingEntry    PositionState = "PENDING_ENTRY"
	StateOpen            PositionState = "OPEN"
	StatePartiallyClosed PositionState = "PARTIALLY_CLOSED"
	StateClosed          PositionState = "CLOSED"
	StateFailed          PositionState = "FAILED"
	StateCanceled        PositionState = "CANCELED"
)

func (s PositionState) Terminal() bool {
	return s == StateClosed || s == StateFailed || s == StateCanceled
}

// Active позиция набрана и защищена ордерами.
func (s PositionState) Active() bool {
	return s == StateOpen || s == StatePartiallyClosed
}

// Outcome чем закончилась позиция.
type Outcome string

const (
	OutcomeNone       Outcome = ""
	OutcomeTakeProfit Outcome = "take_profit"
	OutcomeStopLoss   Outcome = "stop_loss"
	OutcomeExternal   Outcome = "external"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeShutdown   Outcome = "shutdown"
	OutcomeFailed     Outcome = "failed"
	OutcomeCanceled   Outcome = "canceled"
)

// Leg ордер позиции и то, что мы по нему уже учли.
type Leg struct {
	Role          OrderRole       `json:"role"`
	Index         int             `json:"index"`
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	Status        OrderStatus     `json:"status"`
}

func (l Leg) Live() bool { return l.OrderID != "" && l.Status.Live() }

type Fill struct {
	OrderID string          `json:"order_id"`
	Role    OrderRole       `json:"role"`
	Qty     decimal.Decimal `json:"qty"`
	Price   decimal.Decimal `json:"price"`
	Fee     decimal.Decimal `json:"fee"`
	At      time.Time       `json:"at"`
}

// Position живёт у пары Executor/Monitor, снаружи доступны только копии.
type Position struct {
	ID       string        `json:"id"`
	Symbol   string        `json:"symbol"`
	Side     Side          `json:"side"`
	Leverage int           `json:"leverage"`
	State    PositionState `json:"state"`
	Outcome  Outcome       `json:"outcome"`

	RequestedQty  decimal.Decimal `json:"requested_qty"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	RemainingQty  decimal.Decimal `json:"remaining_qty"`
	EntryAvgPrice decimal.Decimal `json:"entry_avg_price"`
	CapitalAtRisk decimal.Decimal `json:"capital_at_risk"`

	Entry       Leg   `json:"entry"`
	Stop        Leg   `json:"stop"`
	TakeProfits []Leg `json:"take_profits"`
	Exits       []Leg `json:"exits"`
	Fills       []Fill `json:"fills"`

	Plan  OrderPlan `json:"plan"`
	Error string    `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ClosedAt  time.Time `json:"closed_at"`
}

// Clone глубокая копия для чтения вне владельца.
func (p Position) Clone() Position {
	c := p
	c.TakeProfits = append([]Leg(nil), p.TakeProfits...)
	c.Exits = append([]Leg(nil), p.Exits...)
	c.Fills = append([]Fill(nil), p.Fills...)
	c.Plan.TakeProfits = append([]OrderSpec(nil), p.Plan.TakeProfits...)
	c.Plan.Allocations = append([]decimal.Decimal(nil), p.Plan.Allocations...)
	return c
}

// LiveLegs все ордера позиции, которые ещё могут исполниться.
func (p Position) LiveLegs() []Leg {
	var out []Leg
	if p.Entry.Live() {
		out = append(out, p.Entry)
	}
	if p.Stop.Live() {
		out = append(out, p.Stop)
	}
	for _, tp := range p.TakeProfits {
		if tp.Live() {
			out = append(out, tp)
		}
	}
	for _, ex := range p.Exits {
		if ex.Live() {
			out = append(out, ex)
		}
	}
	return out
}

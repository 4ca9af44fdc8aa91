package models

import "github.com/shopspring/decimal"

// OrderSpec один ордер из плана.
type OrderSpec struct {
	Role       OrderRole       `json:"role"`
	Side       OrderSide       `json:"side"`
	Type       OrderType       `json:"type"`
	Price      decimal.Decimal `json:"price"`
	StopPrice  decimal.Decimal `json:"stop_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	ReduceOnly bool            `json:"reduce_only"`
}

func (s OrderSpec) Request(symbol, clientID string) OrderRequest {
	return OrderRequest{
		Symbol:        symbol,
		Side:          s.Side,
		Type:          s.Type,
		Price:         s.Price,
		StopPrice:     s.StopPrice,
		Quantity:      s.Quantity,
		ReduceOnly:    s.ReduceOnly,
		ClientOrderID: clientID,
	}
}

// OrderPlan результат риск-движка: размеры, плечо, цены входа/стопа/целей.
type OrderPlan struct {
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`
	Leverage int    `json:"leverage"`

	Quantity       decimal.Decimal `json:"quantity"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	Notional       decimal.Decimal `json:"notional"`
	Margin         decimal.Decimal `json:"margin"`
	CapitalAtRisk  decimal.Decimal `json:"capital_at_risk"`

	Entry       OrderSpec   `json:"entry"`
	StopLoss    OrderSpec   `json:"stop_loss"`
	TakeProfits []OrderSpec `json:"take_profits"`
	// Allocations доли целей в процентах, в том же порядке что TakeProfits.
	Allocations []decimal.Decimal `json:"allocations"`

	Instrument Instrument `json:"instrument"`
}

// TakeProfitTotal сумма количеств по всем целям.
func (p OrderPlan) TakeProfitTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, tp := range p.TakeProfits {
		sum = sum.Add(tp.Quantity)
	}
	return sum
}

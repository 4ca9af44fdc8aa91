package models

import "github.com/shopspring/decimal"

// Side направление позиции из сигнала.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// Sign +1 для лонга, -1 для шорта.
func (s Side) Sign() decimal.Decimal {
	if s == SideShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// EntryOrderSide сторона ордера на вход.
func (s Side) EntryOrderSide() OrderSide {
	if s == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitOrderSide сторона reduce-only ордеров (SL, TP, выход по рынку).
func (s Side) ExitOrderSide() OrderSide {
	if s == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

type TakeProfit struct {
	Price         decimal.Decimal `json:"price"`
	AllocationPct decimal.Decimal `json:"allocation_pct"`
}

// TradeSignal результат разбора сообщения. После создания не меняется.
type TradeSignal struct {
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`
	Leverage int    `json:"leverage"`

	// Market true если вход "по рынку", EntryPrice тогда пустой.
	Market     bool            `json:"market"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	EntryLow   decimal.Decimal `json:"entry_low"`
	EntryHigh  decimal.Decimal `json:"entry_high"`

	StopLoss decimal.Decimal `json:"stop_loss"`
	// AutoStopLoss стоп не был указан в сообщении. Для рыночного входа цена
	// считается риск-движком от референсной цены по AutoStopLossPct.
	AutoStopLoss    bool            `json:"auto_stop_loss"`
	AutoStopLossPct decimal.Decimal `json:"auto_stop_loss_pct"`

	TakeProfits []TakeProfit `json:"take_profits"`
	// DefaultTakeProfitPct цель не указана и вход рыночный: одна цель на этом расстоянии.
	DefaultTakeProfitPct decimal.Decimal `json:"default_take_profit_pct"`

	Layout string `json:"layout"`
	Raw    string `json:"-"`
}

func (s TradeSignal) HasStopLoss() bool { return s.StopLoss.IsPositive() }

// Targets копия списка целей.
func (s TradeSignal) Targets() []TakeProfit {
	out := make([]TakeProfit, len(s.TakeProfits))
	copy(out, s.TakeProfits)
	return out
}

// Package exchangetest in-memory биржа для тестов пайплайна.
package exchangetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"signal_bot/internal/exchange"
	"signal_bot/internal/models"

	"github.com/shopspring/decimal"
)

const (
	OpPlace       = "place"
	OpCancel      = "cancel"
	OpGetOrder    = "get_order"
	OpOpenOrders  = "open_orders"
	OpPosition    = "position"
	OpBalance     = "balance"
	OpInstrument  = "instrument"
	OpSetLeverage = "set_leverage"
)

type Fake struct {
	mu sync.Mutex

	seq         int
	orders      map[string]*models.Order
	byClient    map[string]string
	positions   map[string]models.ExchangePosition
	instruments map[string]models.Instrument
	leverage    map[string]int
	balance     decimal.Decimal

	failures map[string][]error
	calls    map[string]int

	// FillMarket рыночные ордера исполняются сразу по LastPrice инструмента.
	FillMarket bool
	FeeRate    decimal.Decimal
}

func New() *Fake {
	return &Fake{
		orders:      make(map[string]*models.Order),
		byClient:    make(map[string]string),
		positions:   make(map[string]models.ExchangePosition),
		instruments: make(map[string]models.Instrument),
		leverage:    make(map[string]int),
		failures:    make(map[string][]error),
		calls:       make(map[string]int),
		FillMarket:  true,
	}
}

var _ exchange.Exchange = (*Fake)(nil)

func (f *Fake) SetBalance(b decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = b
}

func (f *Fake) SetInstrument(inst models.Instrument) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instruments[inst.Symbol] = inst
}

func (f *Fake) SetPosition(p models.ExchangePosition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[p.Symbol] = p
}

// FailNext следующие вызовы op вернут errs по очереди.
func (f *Fake) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) Leverage(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leverage[symbol]
}

func (f *Fake) call(op string) error {
	f.calls[op]++
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) PlaceOrder(_ context.Context, req models.OrderRequest) (models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpPlace); err != nil {
		return models.Order{}, err
	}
	if id, ok := f.byClient[req.ClientOrderID]; ok && req.ClientOrderID != "" {
		return *f.orders[id], nil
	}
	if !req.Quantity.IsPositive() {
		return models.Order{}, exchange.Permanent("place", "51000", "invalid quantity")
	}
	if req.ReduceOnly && f.positions[req.Symbol].Flat() && req.Type == models.OrderTypeMarket {
		return models.Order{}, exchange.Permanent("place", "51169", "reduce-only order with no position")
	}

	f.seq++
	o := &models.Order{
		ID:            fmt.Sprintf("ord-%d", f.seq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Quantity:      req.Quantity,
		Status:        models.OrderStatusNew,
		ReduceOnly:    req.ReduceOnly,
		UpdatedAt:     time.Now(),
	}
	f.orders[o.ID] = o
	if req.ClientOrderID != "" {
		f.byClient[req.ClientOrderID] = o.ID
	}

	if req.Type == models.OrderTypeMarket && f.FillMarket {
		price := f.instruments[req.Symbol].LastPrice
		if price.IsPositive() {
			f.fill(o, o.Quantity, price)
		}
	}
	return *o, nil
}

func (f *Fake) CancelOrder(_ context.Context, _ string, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpCancel); err != nil {
		return err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return exchange.ErrOrderNotFound
	}
	if o.Status.Live() {
		o.Status = models.OrderStatusCanceled
		o.UpdatedAt = time.Now()
	}
	return nil
}

func (f *Fake) GetOrder(_ context.Context, _ string, orderID string) (models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpGetOrder); err != nil {
		return models.Order{}, err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return models.Order{}, exchange.ErrOrderNotFound
	}
	return *o, nil
}

func (f *Fake) GetOpenOrders(_ context.Context, symbol string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpOpenOrders); err != nil {
		return nil, err
	}
	return f.openOrders(symbol), nil
}

func (f *Fake) GetPosition(_ context.Context, symbol string) (models.ExchangePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpPosition); err != nil {
		return models.ExchangePosition{}, err
	}
	p, ok := f.positions[symbol]
	if !ok {
		return models.ExchangePosition{Symbol: symbol}, nil
	}
	return p, nil
}

func (f *Fake) GetBalance(context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpBalance); err != nil {
		return decimal.Zero, err
	}
	return f.balance, nil
}

func (f *Fake) GetInstrument(_ context.Context, symbol string) (models.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpInstrument); err != nil {
		return models.Instrument{}, err
	}
	inst, ok := f.instruments[symbol]
	if !ok {
		return models.Instrument{}, exchange.Permanent("instrument", "51001", "instrument "+symbol+" does not exist")
	}
	return inst, nil
}

func (f *Fake) SetLeverage(_ context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpSetLeverage); err != nil {
		return err
	}
	f.leverage[symbol] = leverage
	return nil
}

// Fill исполняет qty по ордеру, как будто сработал на бирже.
func (f *Fake) Fill(orderID string, qty, price decimal.Decimal) models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		panic("exchangetest: unknown order " + orderID)
	}
	f.fill(o, qty, price)
	return *o
}

// FillAll исполняет остаток ордера.
func (f *Fake) FillAll(orderID string, price decimal.Decimal) models.Order {
	f.mu.Lock()
	o, ok := f.orders[orderID]
	f.mu.Unlock()
	if !ok {
		panic("exchangetest: unknown order " + orderID)
	}
	return f.Fill(orderID, o.Quantity.Sub(o.FilledQty), price)
}

// CancelExternally отмена ордера вручную с биржи.
func (f *Fake) CancelExternally(orderID string) models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[orderID]
	o.Status = models.OrderStatusCanceled
	o.UpdatedAt = time.Now()
	return *o
}

// CloseExternally позиция закрыта руками, ордера бота остаются висеть.
func (f *Fake) CloseExternally(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.positions[symbol]
	p.Qty = decimal.Zero
	f.positions[symbol] = p
}

func (f *Fake) Order(orderID string) (models.Order, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return models.Order{}, false
	}
	return *o, true
}

// OpenOrders живые ордера по символу в порядке выставления.
func (f *Fake) OpenOrders(symbol string) []models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openOrders(symbol)
}

// OrdersByType все ордера символа заданного типа в порядке выставления.
func (f *Fake) OrdersByType(symbol string, t models.OrderType) []models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.sorted() {
		if o.Symbol == symbol && o.Type == t {
			out = append(out, *o)
		}
	}
	return out
}

func (f *Fake) Position(symbol string) models.ExchangePosition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[symbol]
}

func (f *Fake) openOrders(symbol string) []models.Order {
	var out []models.Order
	for _, o := range f.sorted() {
		if o.Symbol == symbol && o.Status.Live() {
			out = append(out, *o)
		}
	}
	return out
}

func (f *Fake) sorted() []*models.Order {
	out := make([]*models.Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		var a, b int
		_, _ = fmt.Sscanf(out[i].ID, "ord-%d", &a)
		_, _ = fmt.Sscanf(out[j].ID, "ord-%d", &b)
		return a < b
	})
	return out
}

func (f *Fake) fill(o *models.Order, qty, price decimal.Decimal) {
	left := o.Quantity.Sub(o.FilledQty)
	if qty.GreaterThan(left) {
		qty = left
	}
	if !qty.IsPositive() {
		return
	}

	value := o.AvgPrice.Mul(o.FilledQty).Add(price.Mul(qty))
	o.FilledQty = o.FilledQty.Add(qty)
	o.AvgPrice = value.Div(o.FilledQty)
	o.Fee = o.Fee.Add(qty.Mul(price).Mul(f.FeeRate))
	o.UpdatedAt = time.Now()
	if o.FilledQty.Equal(o.Quantity) {
		o.Status = models.OrderStatusFilled
	} else {
		o.Status = models.OrderStatusPartiallyFilled
	}

	p := f.positions[o.Symbol]
	p.Symbol = o.Symbol
	if o.ReduceOnly {
		p.Qty = p.Qty.Sub(qty)
		if p.Qty.IsNegative() {
			p.Qty = decimal.Zero
		}
	} else {
		side := models.SideLong
		if o.Side == models.OrderSideSell {
			side = models.SideShort
		}
		entry := p.EntryPrice.Mul(p.Qty).Add(price.Mul(qty))
		p.Side = side
		p.Qty = p.Qty.Add(qty)
		p.EntryPrice = entry.Div(p.Qty)
	}
	p.MarkPrice = price
	f.positions[o.Symbol] = p
}

package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"signal_bot/internal/exchange"
	"signal_bot/internal/models"

	"github.com/shopspring/decimal"
)

func num(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func millis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

func orderStatus(state string) models.OrderStatus {
	switch state {
	case "partially_filled":
		return models.OrderStatusPartiallyFilled
	case "filled":
		return models.OrderStatusFilled
	case "canceled", "mmp_canceled":
		return models.OrderStatusCanceled
	}
	return models.OrderStatusNew
}

func orderType(ordType string) models.OrderType {
	if ordType == "market" {
		return models.OrderTypeMarket
	}
	return models.OrderTypeLimit
}

func (c *Client) toOrder(ctx context.Context, symbol string, d orderDTO) (models.Order, error) {
	m, err := c.instrumentMeta(ctx, d.InstID)
	if err != nil {
		return models.Order{}, err
	}
	if symbol == "" {
		symbol = Symbol(d.InstID)
	}
	return models.Order{
		ID:            d.OrdID,
		ClientOrderID: d.ClOrdID,
		Symbol:        symbol,
		Side:          models.OrderSide(upper(d.Side)),
		Type:          orderType(d.OrdType),
		Price:         num(d.Px),
		Quantity:      m.base(num(d.Sz)),
		FilledQty:     m.base(num(d.AccFillSz)),
		AvgPrice:      num(d.AvgPx),
		// у OKX комиссия отрицательная, когда списана
		Fee:        num(d.Fee).Neg(),
		Status:     orderStatus(d.State),
		ReduceOnly: d.ReduceOnly == "true",
		UpdatedAt:  millis(d.UTime),
	}, nil
}

func (c *Client) algoToOrder(ctx context.Context, symbol string, d algoDTO) (models.Order, error) {
	m, err := c.instrumentMeta(ctx, d.InstID)
	if err != nil {
		return models.Order{}, err
	}
	if symbol == "" {
		symbol = Symbol(d.InstID)
	}
	o := models.Order{
		ID:            algoPrefix + d.AlgoID,
		ClientOrderID: d.AlgoClOrdID,
		Symbol:        symbol,
		Side:          models.OrderSide(upper(d.Side)),
		Type:          models.OrderTypeStopMarket,
		StopPrice:     num(d.SlTriggerPx),
		Quantity:      m.base(num(d.Sz)),
		ReduceOnly:    true,
		UpdatedAt:     millis(d.UTime),
	}
	if d.TpTriggerPx != "" {
		o.Type = models.OrderTypeTakeProfit
		o.StopPrice = num(d.TpTriggerPx)
	}

	switch d.State {
	case "canceled":
		o.Status = models.OrderStatusCanceled
	case "order_failed":
		o.Status = models.OrderStatusRejected
	case "effective", "partially_effective":
		child := d.OrdID
		if child == "" && len(d.OrdIDList) > 0 {
			child = d.OrdIDList[0]
		}
		if child == "" {
			o.Status = models.OrderStatusFilled
			o.FilledQty = m.base(num(d.ActualSz))
			break
		}
		// исполнение смотрим по порождённому рыночному ордеру
		co, err := c.regularOrder(ctx, symbol, d.InstID, child)
		if err != nil {
			return models.Order{}, err
		}
		o.FilledQty, o.AvgPrice, o.Fee = co.FilledQty, co.AvgPrice, co.Fee
		o.Status = co.Status
		if o.Status == models.OrderStatusNew {
			o.Status = models.OrderStatusPartiallyFilled
		}
	default:
		o.Status = models.OrderStatusNew
	}
	return o, nil
}

func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (models.Order, error) {
	instID := c.InstID(symbol)
	if id, ok := algoID(orderID); ok {
		var r struct {
			Data []algoDTO `json:"data"`
		}
		err := c.do(ctx, "get_algo", http.MethodGet, "/api/v5/trade/order-algo", url.Values{"algoId": {id}}, nil, &r)
		if isCode(err, codesNotFound...) || (err == nil && len(r.Data) == 0) {
			return models.Order{}, fmt.Errorf("%w: %s", exchange.ErrOrderNotFound, orderID)
		}
		if err != nil {
			return models.Order{}, err
		}
		return c.algoToOrder(ctx, symbol, r.Data[0])
	}
	return c.regularOrder(ctx, symbol, instID, orderID)
}

func (c *Client) regularOrder(ctx context.Context, symbol, instID, ordID string) (models.Order, error) {
	var r struct {
		Data []orderDTO `json:"data"`
	}
	q := url.Values{"instId": {instID}, "ordId": {ordID}}
	err := c.do(ctx, "get_order", http.MethodGet, "/api/v5/trade/order", q, nil, &r)
	if isCode(err, codesNotFound...) || (err == nil && len(r.Data) == 0) {
		return models.Order{}, fmt.Errorf("%w: %s", exchange.ErrOrderNotFound, ordID)
	}
	if err != nil {
		return models.Order{}, err
	}
	return c.toOrder(ctx, symbol, r.Data[0])
}

// GetOpenOrders обычные + условные ордера по инструменту.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	instID := c.InstID(symbol)

	var regular struct {
		Data []orderDTO `json:"data"`
	}
	q := url.Values{"instType": {"SWAP"}, "instId": {instID}}
	if err := c.do(ctx, "open_orders", http.MethodGet, "/api/v5/trade/orders-pending", q, nil, &regular); err != nil {
		return nil, err
	}

	var algos struct {
		Data []algoDTO `json:"data"`
	}
	q = url.Values{"instType": {"SWAP"}, "instId": {instID}, "ordType": {"conditional"}}
	err := c.do(ctx, "open_algos", http.MethodGet, "/api/v5/trade/orders-algo-pending", q, nil, &algos)
	if err != nil && !isCode(err, codesNotFound...) {
		return nil, err
	}

	out := make([]models.Order, 0, len(regular.Data)+len(algos.Data))
	for _, d := range regular.Data {
		o, err := c.toOrder(ctx, symbol, d)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	for _, d := range algos.Data {
		o, err := c.algoToOrder(ctx, symbol, d)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

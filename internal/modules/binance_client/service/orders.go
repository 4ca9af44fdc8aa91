package service

import (
	"context"
	"fmt"
	"time"

	"signal_bot/internal/exchange"
	"signal_bot/internal/models"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	const op = "place"
	inst, err := c.instrument(ctx, req.Symbol)
	if err != nil {
		return models.Order{}, err
	}
	qty := req.Quantity
	if inst.LotSize.IsPositive() {
		qty = qty.Div(inst.LotSize).Floor().Mul(inst.LotSize)
	}
	if !qty.IsPositive() {
		return models.Order{}, exchange.Permanent(op, "-4003", fmt.Sprintf("quantity %s is below lot size", req.Quantity))
	}

	svc := c.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideType(req.Side)).
		Quantity(qty.String()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	switch req.Type {
	case models.OrderTypeMarket:
		svc = svc.Type(futures.OrderTypeMarket)
	case models.OrderTypeLimit:
		svc = svc.Type(futures.OrderTypeLimit).TimeInForce(futures.TimeInForceTypeGTC).Price(req.Price.String())
	case models.OrderTypeStopMarket:
		svc = svc.Type(futures.OrderTypeStopMarket).StopPrice(req.StopPrice.String()).WorkingType(futures.WorkingTypeContractPrice)
	case models.OrderTypeTakeProfit:
		svc = svc.Type(futures.OrderTypeTakeProfitMarket).StopPrice(req.StopPrice.String()).WorkingType(futures.WorkingTypeContractPrice)
	default:
		return models.Order{}, exchange.Permanent(op, "type", "unsupported order type "+string(req.Type))
	}

	res, err := svc.Do(ctx)
	if err != nil {
		if apiCode(err) == codeDuplicateClID && req.ClientOrderID != "" {
			// повтор после таймаута: ордер уже на бирже
			o, gerr := c.api.NewGetOrderService().Symbol(req.Symbol).OrigClientOrderID(req.ClientOrderID).Do(ctx)
			if gerr != nil {
				return models.Order{}, wrap("get_order", gerr)
			}
			return fromFutures(o), nil
		}
		return models.Order{}, wrap(op, err)
	}

	c.log.Debug("binance order placed", zap.String("symbol", req.Symbol), zap.Int64("order_id", res.OrderID))
	return models.Order{
		ID:            orderID(res.OrderID),
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Quantity:      num(res.OrigQuantity),
		FilledQty:     num(res.ExecutedQuantity),
		AvgPrice:      num(res.AvgPrice),
		Status:        orderStatus(res.Status),
		ReduceOnly:    req.ReduceOnly,
		UpdatedAt:     millis(res.UpdateTime),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, id string) error {
	const op = "cancel"
	n, err := parseOrderID(op, id)
	if err != nil {
		return err
	}
	_, err = c.api.NewCancelOrderService().Symbol(symbol).OrderID(n).Do(ctx)
	if err == nil {
		return nil
	}
	if code := apiCode(err); code == codeUnknownOrder || code == codeOrderNotExist {
		// Binance отвечает так и на уже исполненный ордер
		o, gerr := c.GetOrder(ctx, symbol, id)
		if gerr != nil {
			return gerr
		}
		if o.Status.Final() {
			return nil
		}
	}
	return wrap(op, err)
}

func (c *Client) GetOrder(ctx context.Context, symbol, id string) (models.Order, error) {
	const op = "get_order"
	n, err := parseOrderID(op, id)
	if err != nil {
		return models.Order{}, err
	}
	res, err := c.api.NewGetOrderService().Symbol(symbol).OrderID(n).Do(ctx)
	if err != nil {
		if code := apiCode(err); code == codeOrderNotExist || code == codeUnknownOrder {
			return models.Order{}, fmt.Errorf("%w: %s", exchange.ErrOrderNotFound, id)
		}
		return models.Order{}, wrap(op, err)
	}
	o := fromFutures(res)
	if o.FilledQty.IsPositive() {
		o.Fee = c.fee(ctx, symbol, res.OrderID, res.Time)
	}
	return o, nil
}

// fee комиссия по сделкам ордера. Ошибку не пробрасываем: исполнение важнее комиссии.
func (c *Client) fee(ctx context.Context, symbol string, id, since int64) decimal.Decimal {
	trades, err := c.api.NewListAccountTradeService().Symbol(symbol).StartTime(since).Limit(1000).Do(ctx)
	if err != nil {
		c.log.Warn("binance trades for fee", zap.String("symbol", symbol), zap.Error(err))
		return decimal.Zero
	}
	total := decimal.Zero
	for _, t := range trades {
		if t.OrderID == id {
			total = total.Add(num(t.Commission))
		}
	}
	return total
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	list, err := c.api.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, wrap("open_orders", err)
	}
	out := make([]models.Order, 0, len(list))
	for _, o := range list {
		out = append(out, fromFutures(o))
	}
	return out, nil
}

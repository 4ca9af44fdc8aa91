package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"signal_bot/internal/exchange"
	"signal_bot/internal/models"

	"go.uber.org/zap"
)

const (
	algoPrefix        = "algo:"
	codeDuplicateClID = "51016"
)

func algoID(orderID string) (string, bool) {
	return strings.CutPrefix(orderID, algoPrefix)
}

// posSide в режиме long/short: закрывающий ордер идёт в ту же сторону позиции.
func posSide(req models.OrderRequest) string {
	if (req.Side == models.OrderSideSell) != req.ReduceOnly {
		return "short"
	}
	return "long"
}

func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	instID := c.InstID(req.Symbol)
	m, err := c.instrumentMeta(ctx, instID)
	if err != nil {
		return models.Order{}, err
	}
	sz := m.contracts(req.Quantity)
	if !sz.IsPositive() {
		return models.Order{}, exchange.Permanent("place", "51008", fmt.Sprintf("quantity %s is below one contract lot", req.Quantity))
	}

	switch req.Type {
	case models.OrderTypeMarket, models.OrderTypeLimit:
		return c.placeRegular(ctx, instID, sz.String(), req)
	case models.OrderTypeStopMarket, models.OrderTypeTakeProfit:
		return c.placeAlgo(ctx, instID, sz.String(), req)
	}
	return models.Order{}, exchange.Permanent("place", "type", "unsupported order type "+string(req.Type))
}

func (c *Client) placeRegular(ctx context.Context, instID, sz string, req models.OrderRequest) (models.Order, error) {
	const op = "place"
	body := map[string]any{
		"instId":  instID,
		"tdMode":  "cross",
		"side":    strings.ToLower(string(req.Side)),
		"posSide": posSide(req),
		"ordType": "market",
		"sz":      sz,
		"clOrdId": req.ClientOrderID,
	}
	if req.Type == models.OrderTypeLimit {
		body["ordType"] = "limit"
		body["px"] = req.Price.String()
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}

	var r struct {
		Data []struct {
			okxItem
			OrdID   string `json:"ordId"`
			ClOrdID string `json:"clOrdId"`
		} `json:"data"`
	}
	err := c.do(ctx, op, http.MethodPost, "/api/v5/trade/order", nil, body, &r)
	items := make([]okxItem, 0, len(r.Data))
	for _, d := range r.Data {
		items = append(items, d.okxItem)
	}
	if err = itemErr(op, items, err); err != nil {
		if isCode(err, codeDuplicateClID) && req.ClientOrderID != "" {
			// повтор после таймаута: ордер уже на бирже
			return c.orderByClientID(ctx, req.Symbol, instID, req.ClientOrderID)
		}
		return models.Order{}, err
	}
	if len(r.Data) == 0 || r.Data[0].OrdID == "" {
		return models.Order{}, exchange.Transient(op, "empty", "no ordId in response")
	}

	c.log.Debug("okx order placed", zap.String("inst_id", instID), zap.String("ord_id", r.Data[0].OrdID))
	return models.Order{
		ID:            r.Data[0].OrdID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        models.OrderStatusNew,
		ReduceOnly:    req.ReduceOnly,
	}, nil
}

// placeAlgo условный ордер (стоп или тейк), исполнение по рынку при срабатывании.
func (c *Client) placeAlgo(ctx context.Context, instID, sz string, req models.OrderRequest) (models.Order, error) {
	const op = "place_algo"
	body := map[string]string{
		"instId":      instID,
		"tdMode":      "cross",
		"side":        strings.ToLower(string(req.Side)),
		"posSide":     posSide(req),
		"ordType":     "conditional",
		"sz":          sz,
		"algoClOrdId": req.ClientOrderID,
	}
	if req.Type == models.OrderTypeTakeProfit {
		body["tpTriggerPx"] = req.StopPrice.String()
		body["tpOrdPx"] = "-1"
		body["tpTriggerPxType"] = "last"
	} else {
		body["slTriggerPx"] = req.StopPrice.String()
		body["slOrdPx"] = "-1"
		body["slTriggerPxType"] = "last"
	}

	var r struct {
		Data []struct {
			okxItem
			AlgoID string `json:"algoId"`
		} `json:"data"`
	}
	err := c.do(ctx, op, http.MethodPost, "/api/v5/trade/order-algo", nil, body, &r)
	items := make([]okxItem, 0, len(r.Data))
	for _, d := range r.Data {
		items = append(items, d.okxItem)
	}
	if err = itemErr(op, items, err); err != nil {
		if isCode(err, codeDuplicateClID) && req.ClientOrderID != "" {
			return c.algoByClientID(ctx, req.Symbol, req.ClientOrderID)
		}
		return models.Order{}, err
	}
	if len(r.Data) == 0 || r.Data[0].AlgoID == "" {
		return models.Order{}, exchange.Transient(op, "empty", "no algoId in response")
	}

	c.log.Debug("okx algo placed", zap.String("inst_id", instID), zap.String("algo_id", r.Data[0].AlgoID))
	return models.Order{
		ID:            algoPrefix + r.Data[0].AlgoID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		StopPrice:     req.StopPrice,
		Quantity:      req.Quantity,
		Status:        models.OrderStatusNew,
		ReduceOnly:    req.ReduceOnly,
	}, nil
}

func (c *Client) orderByClientID(ctx context.Context, symbol, instID, clOrdID string) (models.Order, error) {
	var r struct {
		Data []orderDTO `json:"data"`
	}
	q := url.Values{"instId": {instID}, "clOrdId": {clOrdID}}
	if err := c.do(ctx, "get_order", http.MethodGet, "/api/v5/trade/order", q, nil, &r); err != nil {
		return models.Order{}, err
	}
	if len(r.Data) == 0 {
		return models.Order{}, fmt.Errorf("%w: clOrdId %s", exchange.ErrOrderNotFound, clOrdID)
	}
	return c.toOrder(ctx, symbol, r.Data[0])
}

func (c *Client) algoByClientID(ctx context.Context, symbol, clOrdID string) (models.Order, error) {
	var r struct {
		Data []algoDTO `json:"data"`
	}
	q := url.Values{"algoClOrdId": {clOrdID}}
	if err := c.do(ctx, "get_algo", http.MethodGet, "/api/v5/trade/order-algo", q, nil, &r); err != nil {
		return models.Order{}, err
	}
	if len(r.Data) == 0 {
		return models.Order{}, fmt.Errorf("%w: algoClOrdId %s", exchange.ErrOrderNotFound, clOrdID)
	}
	return c.algoToOrder(ctx, symbol, r.Data[0])
}

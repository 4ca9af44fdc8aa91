package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"signal_bot/internal/exchange"
	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// коды Binance, которые имеет смысл повторить
var transientCodes = map[int64]bool{
	-1000: true, // unknown error
	-1001: true, // disconnected
	-1003: true, // too many requests
	-1007: true, // timeout waiting for backend
	-1008: true, // server overloaded
	-1015: true, // too many new orders
}

const (
	codeUnknownOrder   = -2011
	codeOrderNotExist  = -2013
	codeDuplicateClID  = -4116
	codeNoLeverageNeed = -4028
)

// Client адаптер Binance USDⓈ-M Futures под exchange.Exchange. Позиции one-way.
type Client struct {
	api *futures.Client
	log *zap.Logger

	mu   sync.RWMutex
	info map[string]models.Instrument // шаги без LastPrice
}

func NewClient(cfg config.Binance, log *zap.Logger) *Client {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		api:  binance.NewFuturesClient(cfg.APIKey, cfg.APISecret),
		log:  log,
		info: make(map[string]models.Instrument),
	}
}

// WithBaseURL для тестового сервера.
func (c *Client) WithBaseURL(url string) *Client {
	c.api.BaseURL = url
	return c
}

var _ exchange.Exchange = (*Client)(nil)

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		code := strconv.FormatInt(apiErr.Code, 10)
		if transientCodes[apiErr.Code] {
			return exchange.Transient(op, code, apiErr.Message)
		}
		return exchange.Permanent(op, code, apiErr.Message)
	}
	return err
}

func apiCode(err error) int64 {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

func num(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func orderID(id int64) string { return strconv.FormatInt(id, 10) }

func parseOrderID(op, id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, exchange.Permanent(op, "id", fmt.Sprintf("bad order id %q", id))
	}
	return n, nil
}

func orderStatus(s futures.OrderStatusType) models.OrderStatus {
	switch s {
	case futures.OrderStatusTypePartiallyFilled:
		return models.OrderStatusPartiallyFilled
	case futures.OrderStatusTypeFilled:
		return models.OrderStatusFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return models.OrderStatusCanceled
	case futures.OrderStatusTypeRejected:
		return models.OrderStatusRejected
	}
	return models.OrderStatusNew
}

func orderType(t futures.OrderType) models.OrderType {
	switch t {
	case futures.OrderTypeMarket:
		return models.OrderTypeMarket
	case futures.OrderTypeStopMarket:
		return models.OrderTypeStopMarket
	case futures.OrderTypeTakeProfitMarket:
		return models.OrderTypeTakeProfit
	}
	return models.OrderTypeLimit
}

func sideType(s models.OrderSide) futures.SideType {
	if s == models.OrderSideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func fromFutures(o *futures.Order) models.Order {
	return models.Order{
		ID:            orderID(o.OrderID),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          models.OrderSide(strings.ToUpper(string(o.Side))),
		Type:          orderType(o.Type),
		Price:         num(o.Price),
		StopPrice:     num(o.StopPrice),
		Quantity:      num(o.OrigQuantity),
		FilledQty:     num(o.ExecutedQuantity),
		AvgPrice:      num(o.AvgPrice),
		Status:        orderStatus(o.Status),
		ReduceOnly:    o.ReduceOnly,
		UpdatedAt:     millis(o.UpdateTime),
	}
}

func (c *Client) instrument(ctx context.Context, symbol string) (models.Instrument, error) {
	const op = "instrument"
	c.mu.RLock()
	inst, ok := c.info[symbol]
	c.mu.RUnlock()
	if ok {
		return inst, nil
	}

	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return models.Instrument{}, wrap(op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		if s.ContractType != futures.ContractTypePerpetual || s.Status != "TRADING" {
			continue
		}
		i := models.Instrument{Symbol: s.Symbol}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "PRICE_FILTER":
				i.TickSize = num(fmt.Sprint(f["tickSize"]))
			case "LOT_SIZE":
				i.LotSize = num(fmt.Sprint(f["stepSize"]))
				i.MinQty = num(fmt.Sprint(f["minQty"]))
				i.MaxQty = num(fmt.Sprint(f["maxQty"]))
			}
		}
		c.info[s.Symbol] = i
	}
	inst, ok = c.info[symbol]
	if !ok {
		return models.Instrument{}, exchange.Permanent(op, "-1121", "instrument "+symbol+" does not exist")
	}
	return inst, nil
}

func (c *Client) GetInstrument(ctx context.Context, symbol string) (models.Instrument, error) {
	inst, err := c.instrument(ctx, symbol)
	if err != nil {
		return models.Instrument{}, err
	}
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return models.Instrument{}, wrap("ticker", err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			inst.LastPrice = num(p.Price)
		}
	}
	if !inst.LastPrice.IsPositive() {
		return models.Instrument{}, exchange.Transient("ticker", "empty", "no price for "+symbol)
	}
	return inst, nil
}

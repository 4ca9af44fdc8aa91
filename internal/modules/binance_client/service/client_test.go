package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"signal_bot/internal/exchange"
	"signal_bot/internal/models"
	"signal_bot/internal/modules/config"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const exchangeInfo = `{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","contractType":"PERPETUAL","filters":[
{"filterType":"PRICE_FILTER","tickSize":"0.10","minPrice":"0.1","maxPrice":"1000000"},
{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001","maxQty":"1000"}]}]}`

// fapiMock отвечает по суффиксу пути и методу.
type fapiMock struct {
	mu     sync.Mutex
	routes map[string]func(r *http.Request, form url.Values) (int, string)
	forms  map[string]url.Values
}

func newMock(t *testing.T) (*fapiMock, *Client) {
	m := &fapiMock{
		routes: map[string]func(*http.Request, url.Values) (int, string){
			"GET /exchangeInfo": func(*http.Request, url.Values) (int, string) { return 200, exchangeInfo },
			"GET /ticker/price": func(*http.Request, url.Values) (int, string) {
				return 200, `{"symbol":"BTCUSDT","price":"50000.0","time":1}`
			},
		},
		forms: make(map[string]url.Values),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(raw))
		for k, v := range r.URL.Query() {
			form[k] = v
		}
		key := r.Method + " " + r.URL.Path[strings.LastIndex(r.URL.Path, "/"):]
		if strings.HasSuffix(r.URL.Path, "/ticker/price") {
			key = r.Method + " /ticker/price"
		}
		m.mu.Lock()
		m.forms[key] = form
		h, ok := m.routes[key]
		m.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code":-1,"msg":"no route `+key+`"}`)
			return
		}
		status, body := h(r, form)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return m, NewClient(config.Binance{APIKey: "k", APISecret: "s"}, nil).WithBaseURL(srv.URL)
}

func (m *fapiMock) route(key string, h func(*http.Request, url.Values) (int, string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[key] = h
}

func (m *fapiMock) form(key string) url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forms[key]
}

func TestWrapClassification(t *testing.T) {
	err := wrap("place", &common.APIError{Code: -1003, Message: "Too many requests"})
	assert.True(t, exchange.IsTransient(err))

	err = wrap("place", &common.APIError{Code: -2019, Message: "Margin is insufficient"})
	require.Error(t, err)
	assert.False(t, exchange.IsTransient(err))
	assert.Contains(t, err.Error(), "-2019")

	assert.NoError(t, wrap("place", nil))
}

func TestFromFutures(t *testing.T) {
	o := fromFutures(&futures.Order{
		Symbol:           "BTCUSDT",
		OrderID:          42,
		ClientOrderID:    "tp1",
		Side:             futures.SideTypeSell,
		Type:             futures.OrderTypeTakeProfitMarket,
		StopPrice:        "52000",
		OrigQuantity:     "0.010",
		ExecutedQuantity: "0.004",
		AvgPrice:         "52001.5",
		Status:           futures.OrderStatusTypePartiallyFilled,
		ReduceOnly:       true,
	})
	assert.Equal(t, "42", o.ID)
	assert.Equal(t, models.OrderSideSell, o.Side)
	assert.Equal(t, models.OrderTypeTakeProfit, o.Type)
	assert.Equal(t, models.OrderStatusPartiallyFilled, o.Status)
	assert.True(t, o.FilledQty.Equal(d("0.004")))
	assert.True(t, o.ReduceOnly)
}

func TestGetInstrument(t *testing.T) {
	_, c := newMock(t)
	inst, err := c.GetInstrument(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, inst.LotSize.Equal(d("0.001")))
	assert.True(t, inst.TickSize.Equal(d("0.1")))
	assert.True(t, inst.MaxQty.Equal(d("1000")))
	assert.True(t, inst.LastPrice.Equal(d("50000")))

	_, err = c.GetInstrument(context.Background(), "NOPEUSDT")
	require.Error(t, err)
	assert.False(t, exchange.IsTransient(err))
}

func TestPlaceOrderRoundsToStep(t *testing.T) {
	m, c := newMock(t)
	m.route("POST /order", func(_ *http.Request, f url.Values) (int, string) {
		return 200, `{"orderId":7,"symbol":"BTCUSDT","status":"NEW","clientOrderId":"` + f.Get("newClientOrderId") +
			`","origQty":"` + f.Get("quantity") + `","executedQty":"0","avgPrice":"0","updateTime":1700000000000}`
	})

	o, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.OrderSideSell, Type: models.OrderTypeStopMarket,
		StopPrice: d("48000"), Quantity: d("0.0375"), ReduceOnly: true, ClientOrderID: "sl1",
	})
	require.NoError(t, err)
	assert.Equal(t, "7", o.ID)
	assert.True(t, o.Quantity.Equal(d("0.037")))

	f := m.form("POST /order")
	assert.Equal(t, "STOP_MARKET", f.Get("type"))
	assert.Equal(t, "SELL", f.Get("side"))
	assert.Equal(t, "48000", f.Get("stopPrice"))
	assert.Equal(t, "true", f.Get("reduceOnly"))
	assert.Equal(t, "sl1", f.Get("newClientOrderId"))
}

func TestPlaceDuplicateReturnsExisting(t *testing.T) {
	m, c := newMock(t)
	m.route("POST /order", func(*http.Request, url.Values) (int, string) {
		return 400, `{"code":-4116,"msg":"ClientOrderId is duplicated."}`
	})
	m.route("GET /order", func(_ *http.Request, f url.Values) (int, string) {
		return 200, `{"orderId":7,"symbol":"BTCUSDT","status":"FILLED","clientOrderId":"` + f.Get("origClientOrderId") +
			`","side":"BUY","type":"MARKET","origQty":"0.010","executedQty":"0.010","avgPrice":"50010"}`
	})

	o, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.OrderSideBuy, Type: models.OrderTypeMarket,
		Quantity: d("0.01"), ClientOrderID: "e1",
	})
	require.NoError(t, err)
	assert.Equal(t, "7", o.ID)
	assert.Equal(t, "e1", o.ClientOrderID)
	assert.Equal(t, models.OrderStatusFilled, o.Status)
}

func TestCancelFilledOrderIsNotAnError(t *testing.T) {
	m, c := newMock(t)
	m.route("DELETE /order", func(*http.Request, url.Values) (int, string) {
		return 400, `{"code":-2011,"msg":"Unknown order sent."}`
	})
	m.route("GET /order", func(*http.Request, url.Values) (int, string) {
		return 200, `{"orderId":7,"symbol":"BTCUSDT","status":"FILLED","origQty":"0.010","executedQty":"0.010","avgPrice":"50010","time":1}`
	})
	m.route("GET /userTrades", func(*http.Request, url.Values) (int, string) {
		return 200, `[{"orderId":7,"commission":"0.2"},{"orderId":8,"commission":"9"}]`
	})
	require.NoError(t, c.CancelOrder(context.Background(), "BTCUSDT", "7"))

	o, err := c.GetOrder(context.Background(), "BTCUSDT", "7")
	require.NoError(t, err)
	assert.True(t, o.Fee.Equal(d("0.2")))
}

func TestStreamAccumulatesFee(t *testing.T) {
	s := NewStream(NewClient(config.Binance{}, nil))
	updates, unsubscribe := s.Subscribe("BTCUSDT")
	defer unsubscribe()

	ev := func(status futures.OrderStatusType, acc, fee string) *futures.WsUserDataEvent {
		return &futures.WsUserDataEvent{
			Event: futures.UserDataEventTypeOrderTradeUpdate,
			WsUserDataOrderTradeUpdate: futures.WsUserDataOrderTradeUpdate{
				OrderTradeUpdate: futures.WsOrderTradeUpdate{
					Symbol:               "BTCUSDT",
					ID:                   9,
					Side:                 futures.SideTypeBuy,
					Type:                 futures.OrderTypeMarket,
					OriginalType:         futures.OrderTypeMarket,
					OriginalQty:          "0.010",
					AccumulatedFilledQty: acc,
					AveragePrice:         "50000",
					Commission:           fee,
					Status:               status,
				},
			},
		}
	}
	s.handle(ev(futures.OrderStatusTypePartiallyFilled, "0.004", "0.08"))
	s.handle(ev(futures.OrderStatusTypeFilled, "0.010", "0.12"))
	s.handle(&futures.WsUserDataEvent{Event: futures.UserDataEventTypeAccountUpdate})

	first := <-updates
	assert.Equal(t, models.OrderStatusPartiallyFilled, first.Order.Status)
	assert.True(t, first.Order.Fee.Equal(d("0.08")))

	second := <-updates
	assert.Equal(t, models.OrderStatusFilled, second.Order.Status)
	assert.True(t, second.Order.FilledQty.Equal(d("0.01")))
	assert.True(t, second.Order.Fee.Equal(d("0.2")))
	assert.Empty(t, updates)
	assert.Empty(t, s.fees)
}

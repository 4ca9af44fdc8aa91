package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"signal_bot/internal/exchange"
	"signal_bot/internal/models"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	keepaliveEvery = 30 * time.Minute
	redialDelay    = time.Second
	subBuffer      = 64
)

// Stream user data stream Binance Futures: ORDER_TRADE_UPDATE раздаётся подписчикам по символу.
type Stream struct {
	c *Client

	connected atomic.Bool

	mu   sync.Mutex
	subs map[string]map[chan exchange.OrderUpdate]struct{}
	fees map[int64]decimal.Decimal // накопленная комиссия по живым ордерам
}

func NewStream(c *Client) *Stream {
	return &Stream{
		c:    c,
		subs: make(map[string]map[chan exchange.OrderUpdate]struct{}),
		fees: make(map[int64]decimal.Decimal),
	}
}

var _ exchange.OrderStream = (*Stream)(nil)

func (s *Stream) Connected() bool { return s.connected.Load() }

func (s *Stream) Subscribe(symbol string) (<-chan exchange.OrderUpdate, func()) {
	ch := make(chan exchange.OrderUpdate, subBuffer)
	s.mu.Lock()
	if s.subs[symbol] == nil {
		s.subs[symbol] = make(map[chan exchange.OrderUpdate]struct{})
	}
	s.subs[symbol][ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[symbol], ch)
			if len(s.subs[symbol]) == 0 {
				delete(s.subs, symbol)
			}
			close(ch)
		})
	}
}

// Run держит listenKey и соединение до отмены ctx.
func (s *Stream) Run(ctx context.Context) {
	log := s.c.log
	for {
		if err := s.session(ctx); err != nil && ctx.Err() == nil {
			log.Warn("binance user stream ended", zap.Error(err))
		}
		s.connected.Store(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(redialDelay):
		}
	}
}

func (s *Stream) session(ctx context.Context) error {
	key, err := s.c.api.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return wrap("listen_key", err)
	}

	errC := make(chan error, 1)
	doneC, stopC, err := futures.WsUserDataServe(key, s.handle, func(err error) {
		select {
		case errC <- err:
		default:
		}
	})
	if err != nil {
		return err
	}
	s.connected.Store(true)
	s.c.log.Info("binance user stream connected")

	t := time.NewTicker(keepaliveEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return nil
		case <-doneC:
			select {
			case err := <-errC:
				return err
			default:
				return nil
			}
		case <-t.C:
			if err := s.c.api.NewKeepaliveUserStreamService().ListenKey(key).Do(ctx); err != nil {
				s.c.log.Warn("binance listen key keepalive", zap.Error(err))
			}
		}
	}
}

func (s *Stream) handle(ev *futures.WsUserDataEvent) {
	if ev.Event != futures.UserDataEventTypeOrderTradeUpdate {
		return
	}
	u := ev.OrderTradeUpdate

	s.mu.Lock()
	defer s.mu.Unlock()

	fee := s.fees[u.ID].Add(num(u.Commission))
	o := models.Order{
		ID:            orderID(u.ID),
		ClientOrderID: u.ClientOrderID,
		Symbol:        u.Symbol,
		Side:          models.OrderSide(strings.ToUpper(string(u.Side))),
		Type:          orderType(u.OriginalType),
		Price:         num(u.OriginalPrice),
		StopPrice:     num(u.StopPrice),
		Quantity:      num(u.OriginalQty),
		FilledQty:     num(u.AccumulatedFilledQty),
		AvgPrice:      num(u.AveragePrice),
		Fee:           fee,
		Status:        orderStatus(u.Status),
		ReduceOnly:    u.IsReduceOnly,
		UpdatedAt:     millis(u.TradeTime),
	}
	if o.Status.Final() {
		delete(s.fees, u.ID)
	} else {
		s.fees[u.ID] = fee
	}

	for ch := range s.subs[o.Symbol] {
		select {
		case ch <- exchange.OrderUpdate{Order: o}:
		default:
			s.c.log.Warn("binance stream subscriber is slow, update dropped",
				zap.String("symbol", o.Symbol), zap.String("order_id", o.ID))
		}
	}
}

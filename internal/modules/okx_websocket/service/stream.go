package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"signal_bot/internal/exchange"
	"signal_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingEvery   = 20 * time.Second
	redialDelay = time.Second
	subBuffer   = 64
)

// Decoder разбор кадров и подпись логина, реализует REST-клиент OKX.
type Decoder interface {
	DecodePush(ctx context.Context, channel string, data []byte) ([]models.Order, error)
	LoginArgs(ts string) map[string]string
}

// Stream приватный websocket OKX: orders + orders-algo по SWAP,
// раздаёт обновления подписчикам по символу.
type Stream struct {
	url    string
	dec    Decoder
	dialer *websocket.Dialer
	log    *zap.Logger

	connected atomic.Bool

	mu   sync.Mutex
	subs map[string]map[chan exchange.OrderUpdate]struct{}
}

func NewStream(url string, dec Decoder, log *zap.Logger) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stream{
		url:    url,
		dec:    dec,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log,
		subs:   make(map[string]map[chan exchange.OrderUpdate]struct{}),
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

// Run держит соединение до отмены ctx, переподключаясь после обрывов.
func (s *Stream) Run(ctx context.Context) {
	for {
		if err := s.session(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("okx ws session ended", zap.Error(err))
		}
		s.connected.Store(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(redialDelay):
		}
	}
}

type frame struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

func (s *Stream) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, http.Header{})
	if err != nil {
		return err
	}
	defer conn.Close()

	// закрываем соединение при остановке, чтобы разблокировать ReadMessage
	stop := make(chan struct{})
	defer close(stop)
	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteJSON(v)
	}
	go func() {
		t := time.NewTicker(pingEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-stop:
				return
			case <-t.C:
				// OKX рвёт соединение через 30s тишины
				wmu.Lock()
				_ = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				wmu.Unlock()
			}
		}
	}()

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	if err := write(map[string]any{"op": "login", "args": []map[string]string{s.dec.LoginArgs(ts)}}); err != nil {
		return err
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if string(msg) == "pong" {
			continue
		}

		var f frame
		if err := sonic.Unmarshal(msg, &f); err != nil {
			s.log.Debug("okx ws bad frame", zap.ByteString("frame", msg))
			continue
		}

		switch f.Event {
		case "login":
			if f.Code != "0" {
				return exchange.Permanent("ws_login", f.Code, f.Msg)
			}
			sub := map[string]any{"op": "subscribe", "args": []map[string]string{
				{"channel": "orders", "instType": "SWAP"},
				{"channel": "orders-algo", "instType": "SWAP"},
			}}
			if err := write(sub); err != nil {
				return err
			}
			continue
		case "subscribe":
			s.connected.Store(true)
			s.log.Info("okx ws subscribed", zap.String("channel", f.Arg.Channel))
			continue
		case "error":
			return exchange.Permanent("ws", f.Code, f.Msg)
		}

		if len(f.Data) == 0 {
			continue
		}
		orders, err := s.dec.DecodePush(ctx, f.Arg.Channel, f.Data)
		if err != nil {
			s.log.Warn("okx ws decode", zap.String("channel", f.Arg.Channel), zap.Error(err))
			continue
		}
		for _, o := range orders {
			s.publish(o)
		}
	}
}

// publish неблокирующая раздача: монитор всё равно сверяется опросом.
func (s *Stream) publish(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs[o.Symbol] {
		select {
		case ch <- exchange.OrderUpdate{Order: o}:
		default:
			s.log.Warn("okx ws subscriber is slow, update dropped",
				zap.String("symbol", o.Symbol), zap.String("order_id", o.ID))
		}
	}
}

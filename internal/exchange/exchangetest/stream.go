package exchangetest

import (
	"sync"

	"signal_bot/internal/exchange"
	"signal_bot/internal/models"
)

// Stream ручной push-канал: тест сам решает, какие обновления и когда доставить.
type Stream struct {
	mu   sync.Mutex
	subs map[string][]chan exchange.OrderUpdate
}

func NewStream() *Stream {
	return &Stream{subs: make(map[string][]chan exchange.OrderUpdate)}
}

var _ exchange.OrderStream = (*Stream)(nil)

func (s *Stream) Subscribe(symbol string) (<-chan exchange.OrderUpdate, func()) {
	ch := make(chan exchange.OrderUpdate, 64)
	s.mu.Lock()
	s.subs[symbol] = append(s.subs[symbol], ch)
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			list := s.subs[symbol]
			for i, c := range list {
				if c == ch {
					s.subs[symbol] = append(list[:i], list[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
}

func (s *Stream) Connected() bool { return true }

// Push доставляет обновление всем подписчикам символа.
func (s *Stream) Push(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[o.Symbol] {
		ch <- exchange.OrderUpdate{Order: o}
	}
}

func (s *Stream) Subscribers(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[symbol])
}

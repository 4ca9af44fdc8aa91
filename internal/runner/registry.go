package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"signal_bot/internal/models"
)

var ErrSymbolBusy = errors.New("symbol already has an active position")

type tracked interface {
	Position() models.Position
}

// Registry один активный набор ордеров на символ + живые позиции по id.
type Registry struct {
	mu        sync.Mutex
	slots     map[string]chan struct{}
	positions map[string]tracked
}

func NewRegistry() *Registry {
	return &Registry{
		slots:     make(map[string]chan struct{}),
		positions: make(map[string]tracked),
	}
}

func (r *Registry) slot(symbol string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[symbol]
	if !ok {
		s = make(chan struct{}, 1)
		r.slots[symbol] = s
	}
	return s
}

// TryAcquire политика reject: занято - сразу ошибка.
func (r *Registry) TryAcquire(symbol string) error {
	select {
	case r.slot(symbol) <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("%s: %w", symbol, ErrSymbolBusy)
	}
}

// Acquire политика queue: ждём освобождения символа.
func (r *Registry) Acquire(ctx context.Context, symbol string) error {
	select {
	case r.slot(symbol) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) Release(symbol string) {
	select {
	case <-r.slot(symbol):
	default:
	}
}

func (r *Registry) Track(id string, p tracked) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[id] = p
}

func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.positions, id)
}

// Snapshot живые позиции, старые первыми.
func (r *Registry) Snapshot() []models.Position {
	r.mu.Lock()
	list := make([]tracked, 0, len(r.positions))
	for _, p := range r.positions {
		list = append(list, p)
	}
	r.mu.Unlock()

	out := make([]models.Position, 0, len(list))
	for _, p := range list {
		out = append(out, p.Position())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Open symbol -> position id для AccountState.
func (r *Registry) Open() map[string]string {
	out := make(map[string]string)
	for _, p := range r.Snapshot() {
		if !p.State.Terminal() {
			out[p.Symbol] = p.ID
		}
	}
	return out
}

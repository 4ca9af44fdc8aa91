package exchange

import (
	"context"

	"signal_bot/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Limited общий бюджет запросов для всех позиций. Превышение ждёт, а не падает.
type Limited struct {
	next    Exchange
	limiter *rate.Limiter
}

func NewLimited(next Exchange, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (l *Limited) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return models.Order{}, err
	}
	return l.next.PlaceOrder(ctx, req)
}

func (l *Limited) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.next.CancelOrder(ctx, symbol, orderID)
}

func (l *Limited) GetOrder(ctx context.Context, symbol, orderID string) (models.Order, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return models.Order{}, err
	}
	return l.next.GetOrder(ctx, symbol, orderID)
}

func (l *Limited) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.GetOpenOrders(ctx, symbol)
}

func (l *Limited) GetPosition(ctx context.Context, symbol string) (models.ExchangePosition, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return models.ExchangePosition{}, err
	}
	return l.next.GetPosition(ctx, symbol)
}

func (l *Limited) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}
	return l.next.GetBalance(ctx)
}

func (l *Limited) GetInstrument(ctx context.Context, symbol string) (models.Instrument, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return models.Instrument{}, err
	}
	return l.next.GetInstrument(ctx, symbol)
}

func (l *Limited) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.next.SetLeverage(ctx, symbol, leverage)
}

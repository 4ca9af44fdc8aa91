package exchange

import (
	"context"

	"signal_bot/internal/models"

	"github.com/shopspring/decimal"
)

// Exchange то, что пайплайну нужно от биржи. Количества в базовых единицах,
// символы в виде BTCUSDT: перевод в формат биржи делает адаптер.
//
// Повтор любого вызова с тем же ClientOrderID безопасен.
type Exchange interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	// CancelOrder отмена уже исполненного/отменённого ордера не ошибка.
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrder(ctx context.Context, symbol, orderID string) (models.Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	GetPosition(ctx context.Context, symbol string) (models.ExchangePosition, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetInstrument(ctx context.Context, symbol string) (models.Instrument, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// OrderUpdate push-обновление ордера. FilledQty накопленный.
type OrderUpdate struct {
	Order models.Order
}

// OrderStream push-канал ордеров. Необязателен: без него монитор только опрашивает.
type OrderStream interface {
	// Subscribe отдаёт обновления по символу. Вызов unsubscribe закрывает канал.
	Subscribe(symbol string) (updates <-chan OrderUpdate, unsubscribe func())
	Connected() bool
}

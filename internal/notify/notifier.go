package notify

import (
	"context"
	"time"

	"signal_bot/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sender канал доставки уведомлений (Telegram, stdout).
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Stdout пишет уведомления в лог. Используется, когда Telegram не настроен.
type Stdout struct {
	log *zap.Logger
}

func NewStdout(log *zap.Logger) *Stdout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stdout{log: log}
}

func (s *Stdout) Send(_ context.Context, text string) error {
	s.log.Info("notification", zap.String("text", text))
	return nil
}

// Toggles ENABLE_*_NOTIFICATIONS.
type Toggles struct {
	Signals  bool
	Entries  bool
	Fills    bool
	Failures bool
	Rejects  bool
	Profit   bool
}

// Gate решает, что из событий пайплайна уходит в канал.
type Gate struct {
	sender  Sender
	toggles Toggles
	timeout time.Duration
	log     *zap.Logger
}

func NewGate(sender Sender, t Toggles, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{sender: sender, toggles: t, timeout: 10 * time.Second, log: log}
}

func (g *Gate) send(ctx context.Context, category, text string) {
	if g.sender == nil || text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()
	if err := g.sender.Send(ctx, text); err != nil {
		g.log.Warn("notification not delivered", zap.String("category", category), zap.Error(err))
	}
}

// Signal пересылка принятого сигнала.
func (g *Gate) Signal(ctx context.Context, sig models.TradeSignal) {
	if g.toggles.Signals {
		g.send(ctx, "signal", FormatSignal(sig))
	}
}

// Rejected сигнал отброшен парсером, риск-движком или занятым символом.
func (g *Gate) Rejected(ctx context.Context, symbol string, reason error) {
	if g.toggles.Rejects {
		g.send(ctx, "reject", FormatRejected(symbol, reason))
	}
}

func (g *Gate) EntryFilled(ctx context.Context, pos models.Position) {
	if g.toggles.Entries {
		g.send(ctx, "entry", FormatEntry(pos))
	}
}

func (g *Gate) LegFilled(ctx context.Context, pos models.Position, role models.OrderRole, qty, price decimal.Decimal) {
	if g.toggles.Fills {
		g.send(ctx, "fill", FormatFill(pos, role, qty, price))
	}
}

func (g *Gate) PositionFailed(ctx context.Context, pos models.Position, err error) {
	if g.toggles.Failures {
		g.send(ctx, "failure", FormatFailure(pos, err))
	}
}

// ForcedExit таймаут и остановка процесса идут по категории сбоев.
func (g *Gate) ForcedExit(ctx context.Context, pos models.Position) {
	if g.toggles.Failures {
		g.send(ctx, "forced_exit", FormatForcedExit(pos))
	}
}

// Profit фильтрация по ENABLE_PROFIT_NOTIFICATIONS/SEND_PROFIT_ONLY_FOR_MANUAL_EXITS
// делается в profit.Reporter.
func (g *Gate) Profit(ctx context.Context, s models.ProfitSummary) {
	g.send(ctx, "profit", FormatProfit(s))
}

// Text произвольный ответ (команды бота).
func (g *Gate) Text(ctx context.Context, text string) {
	g.send(ctx, "text", text)
}

package profit

import (
	"context"

	"signal_bot/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// Compute реализованный результат по исполнениям позиции:
// сумма qty*(exit-entry)*sign по выходам минус все известные комиссии.
func Compute(pos models.Position) models.ProfitSummary {
	s := models.ProfitSummary{
		PositionID:    pos.ID,
		Symbol:        pos.Symbol,
		Side:          pos.Side,
		State:         pos.State,
		Outcome:       pos.Outcome,
		EntryPrice:    pos.EntryAvgPrice,
		CapitalAtRisk: pos.CapitalAtRisk,
	}
	if !pos.ClosedAt.IsZero() {
		s.Duration = pos.ClosedAt.Sub(pos.CreatedAt)
	}

	sign := pos.Side.Sign()
	exitValue := decimal.Zero
	for _, f := range pos.Fills {
		s.Fees = s.Fees.Add(f.Fee)
		if f.Role == models.RoleEntry {
			continue
		}
		s.ExitQty = s.ExitQty.Add(f.Qty)
		exitValue = exitValue.Add(f.Qty.Mul(f.Price))
		s.GrossPnL = s.GrossPnL.Add(f.Qty.Mul(f.Price.Sub(pos.EntryAvgPrice)).Mul(sign))
	}
	if s.ExitQty.IsPositive() {
		s.ExitAvgPrice = exitValue.Div(s.ExitQty)
	}
	s.NetPnL = s.GrossPnL.Sub(s.Fees)
	if pos.CapitalAtRisk.IsPositive() {
		s.PctOfRisk = s.NetPnL.Div(pos.CapitalAtRisk).Mul(hundred).Round(2)
	}
	return s
}

type Toggles struct {
	Enabled bool
	// ManualOnly отчёт только по позициям, закрытым вне бота.
	ManualOnly bool
}

// Sender куда уходит готовый отчёт.
type Sender interface {
	Profit(ctx context.Context, s models.ProfitSummary)
}

type Reporter struct {
	toggles Toggles
	sender  Sender
	log     *zap.Logger
}

func NewReporter(t Toggles, sender Sender, log *zap.Logger) *Reporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{toggles: t, sender: sender, log: log}
}

// Report считает итог и, если настройки позволяют, отправляет уведомление.
// Отчёт по позиции без единого исполнения не отправляется.
func (r *Reporter) Report(ctx context.Context, pos models.Position) models.ProfitSummary {
	s := Compute(pos)
	r.log.Info("position result",
		zap.String("position_id", s.PositionID),
		zap.String("symbol", s.Symbol),
		zap.String("outcome", string(s.Outcome)),
		zap.String("net_pnl", s.NetPnL.StringFixed(4)),
		zap.String("pct_of_risk", s.PctOfRisk.String()))

	if r.shouldNotify(pos) {
		r.sender.Profit(ctx, s)
	}
	return s
}

func (r *Reporter) shouldNotify(pos models.Position) bool {
	if !r.toggles.Enabled || r.sender == nil {
		return false
	}
	if !pos.FilledQty.IsPositive() {
		return false
	}
	switch pos.State {
	case models.StateClosed, models.StateFailed, models.StateCanceled:
	default:
		return false
	}
	if r.toggles.ManualOnly {
		return pos.Outcome == models.OutcomeExternal
	}
	return true
}

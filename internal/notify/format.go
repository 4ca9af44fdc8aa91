package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"signal_bot/internal/models"
	"signal_bot/internal/risk"
	"signal_bot/internal/signal"

	"github.com/shopspring/decimal"
)

func sideBadge(s models.Side) string {
	if s == models.SideShort {
		return "🔴 SHORT"
	}
	return "🟢 LONG"
}

func FormatSignal(sig models.TradeSignal) string {
	var b strings.Builder
	b.WriteString("📊 SIGNAL\n\n")
	fmt.Fprintf(&b, "Pair: %s\n", sig.Symbol)
	fmt.Fprintf(&b, "Position: %s\n", sideBadge(sig.Side))
	fmt.Fprintf(&b, "Leverage: %dx\n", sig.Leverage)
	if sig.Market {
		b.WriteString("Entry: market\n")
	} else {
		fmt.Fprintf(&b, "Entry: %s\n", sig.EntryPrice)
	}
	switch {
	case sig.HasStopLoss():
		fmt.Fprintf(&b, "Stop Loss: %s\n", sig.StopLoss)
	case sig.AutoStopLoss:
		fmt.Fprintf(&b, "Stop Loss: auto %s%%\n", sig.AutoStopLossPct)
	}

	targets := sig.Targets()
	if len(targets) > 0 {
		b.WriteString("\nTake Profit Targets:\n")
		total := decimal.Zero
		for i, tp := range targets {
			fmt.Fprintf(&b, "TP%d: %s (%s%%)\n", i+1, tp.Price, tp.AllocationPct)
			total = total.Add(tp.AllocationPct)
		}
		fmt.Fprintf(&b, "\nTotal: %s%%\n", total)
	} else if sig.DefaultTakeProfitPct.IsPositive() {
		fmt.Fprintf(&b, "\nTake Profit: +%s%%\n", sig.DefaultTakeProfitPct)
	}
	fmt.Fprintf(&b, "\n#%s", strings.ReplaceAll(sig.Symbol, "/", ""))
	return b.String()
}

func FormatRejected(symbol string, reason error) string {
	what := "Сигнал отклонён"
	var pe *signal.ParseError
	var re *risk.RiskError
	switch {
	case errors.As(reason, &pe):
		what = "Не удалось разобрать сигнал"
	case errors.As(reason, &re):
		what = "Сигнал не проходит по риску"
	}
	if symbol == "" {
		return fmt.Sprintf("⚠️ %s\n%v", what, reason)
	}
	return fmt.Sprintf("⚠️ %s: %s\n%v", what, symbol, reason)
}

func FormatEntry(pos models.Position) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Вход исполнен: %s %s x%d\n", pos.Symbol, sideBadge(pos.Side), pos.Leverage)
	fmt.Fprintf(&b, "Объём: %s @ %s\n", pos.FilledQty, pos.EntryAvgPrice)
	if pos.Stop.OrderID != "" {
		fmt.Fprintf(&b, "SL: %s\n", pos.Stop.Price)
	}
	for i, tp := range pos.TakeProfits {
		fmt.Fprintf(&b, "TP%d: %s (%s)\n", i+1, tp.Price, tp.Quantity)
	}
	fmt.Fprintf(&b, "Риск: %s", pos.CapitalAtRisk.StringFixed(2))
	return b.String()
}

func FormatFill(pos models.Position, role models.OrderRole, qty, price decimal.Decimal) string {
	label := "Исполнение"
	switch role {
	case models.RoleTakeProfit:
		label = "🎯 Тейк-профит"
	case models.RoleStopLoss:
		label = "🛑 Стоп-лосс"
	case models.RoleExit:
		label = "↩️ Выход"
	}
	return fmt.Sprintf("%s %s: %s @ %s\nОсталось: %s", label, pos.Symbol, qty, price, pos.RemainingQty)
}

func FormatFailure(pos models.Position, err error) string {
	return fmt.Sprintf("❌ Позиция %s %s не исполнена (%s)\n%v", pos.Symbol, sideBadge(pos.Side), pos.State, err)
}

func FormatForcedExit(pos models.Position) string {
	reason := "принудительное закрытие"
	switch pos.Outcome {
	case models.OutcomeTimeout:
		reason = "⏳ таймаут позиции"
	case models.OutcomeShutdown:
		reason = "⛔️ остановка бота"
	}
	return fmt.Sprintf("%s: %s %s\nСостояние: %s", reason, pos.Symbol, sideBadge(pos.Side), pos.State)
}

func FormatProfit(s models.ProfitSummary) string {
	emoji := "💰"
	if s.NetPnL.IsNegative() {
		emoji = "📉"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s Итог %s %s (%s)\n", emoji, s.Symbol, sideBadge(s.Side), outcomeText(s.Outcome))
	fmt.Fprintf(&b, "Вход: %s, выход: %s\n", s.EntryPrice, s.ExitAvgPrice.Round(8))
	fmt.Fprintf(&b, "PnL: %s USDT (комиссии %s)\n", s.NetPnL.StringFixed(4), s.Fees.StringFixed(4))
	fmt.Fprintf(&b, "От риска: %s%%\n", s.PctOfRisk.StringFixed(2))
	fmt.Fprintf(&b, "Длительность: %s", s.Duration.Truncate(time.Second))
	return b.String()
}

func outcomeText(o models.Outcome) string {
	switch o {
	case models.OutcomeTakeProfit:
		return "тейк"
	case models.OutcomeStopLoss:
		return "стоп"
	case models.OutcomeExternal:
		return "закрыта вручную"
	case models.OutcomeTimeout:
		return "таймаут"
	case models.OutcomeShutdown:
		return "остановка"
	case models.OutcomeFailed:
		return "ошибка"
	case models.OutcomeCanceled:
		return "отменена"
	}
	return string(o)
}

// FormatPositions ответ на /positions.
func FormatPositions(list []models.Position) string {
	if len(list) == 0 {
		return "📭 Открытых позиций нет"
	}
	var b strings.Builder
	b.WriteString("📊 Открытые позиции:\n")
	for _, p := range list {
		fmt.Fprintf(&b, "- %s [%s] %s qty=%s/%s @ %s x%d\n",
			p.Symbol, p.Side, p.State, p.RemainingQty, p.RequestedQty, p.EntryAvgPrice, p.Leverage)
	}
	return b.String()
}

// FormatHistory ответ на /history, последние закрытые сверху.
func FormatHistory(list []models.ProfitSummary) string {
	if len(list) == 0 {
		return "🗂 Закрытых позиций пока нет"
	}
	var b strings.Builder
	b.WriteString("🗂 Последние сделки:\n")
	total := decimal.Zero
	for _, s := range list {
		fmt.Fprintf(&b, "- %s %s %s: %s USDT\n", s.Symbol, sideBadge(s.Side), outcomeText(s.Outcome), s.NetPnL.StringFixed(2))
		total = total.Add(s.NetPnL)
	}
	fmt.Fprintf(&b, "Итого: %s USDT", total.StringFixed(2))
	return b.String()
}

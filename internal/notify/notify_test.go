package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"signal_bot/internal/models"
	"signal_bot/internal/risk"
	"signal_bot/internal/signal"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recorder struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (r *recorder) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return r.err
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func sampleSignal() models.TradeSignal {
	return models.TradeSignal{
		Symbol:     "BTCUSDT",
		Side:       models.SideLong,
		Leverage:   10,
		EntryPrice: d("50000"),
		StopLoss:   d("48000"),
		TakeProfits: []models.TakeProfit{
			{Price: d("51000"), AllocationPct: d("60")},
			{Price: d("52000"), AllocationPct: d("40")},
		},
	}
}

func TestFormatSignal(t *testing.T) {
	text := FormatSignal(sampleSignal())

	assert.Contains(t, text, "📊 SIGNAL")
	assert.Contains(t, text, "Pair: BTCUSDT")
	assert.Contains(t, text, "Position: 🟢 LONG")
	assert.Contains(t, text, "Leverage: 10x")
	assert.Contains(t, text, "Entry: 50000")
	assert.Contains(t, text, "TP1: 51000 (60%)")
	assert.Contains(t, text, "TP2: 52000 (40%)")
	assert.Contains(t, text, "Total: 100%")
	assert.Contains(t, text, "#BTCUSDT")
}

func TestFormatSignalMarket(t *testing.T) {
	sig := models.TradeSignal{
		Symbol:               "ETHUSDT",
		Side:                 models.SideShort,
		Leverage:             5,
		Market:               true,
		AutoStopLoss:         true,
		AutoStopLossPct:      d("2"),
		DefaultTakeProfitPct: d("3"),
	}
	text := FormatSignal(sig)
	assert.Contains(t, text, "🔴 SHORT")
	assert.Contains(t, text, "Entry: market")
	assert.Contains(t, text, "Stop Loss: auto 2%")
	assert.Contains(t, text, "Take Profit: +3%")
}

func TestFormatRejected(t *testing.T) {
	parseErr := &signal.ParseError{Kind: signal.ErrMissingLeverage, Field: "leverage"}
	assert.Contains(t, FormatRejected("", parseErr), "Не удалось разобрать сигнал")

	riskErr := &risk.RiskError{Kind: risk.ErrInsufficientMargin}
	text := FormatRejected("BTCUSDT", riskErr)
	assert.Contains(t, text, "по риску: BTCUSDT")
	assert.Contains(t, text, "notional exceeds")

	assert.Contains(t, FormatRejected("BTCUSDT", errors.New("busy")), "Сигнал отклонён")
}

func TestGateToggles(t *testing.T) {
	pos := models.Position{Symbol: "BTCUSDT", Side: models.SideLong, State: models.StateOpen}
	ctx := context.Background()

	rec := &recorder{}
	g := NewGate(rec, Toggles{Entries: true}, nil)
	g.Signal(ctx, sampleSignal())
	g.EntryFilled(ctx, pos)
	g.LegFilled(ctx, pos, models.RoleTakeProfit, d("1"), d("2"))
	g.PositionFailed(ctx, pos, errors.New("x"))
	g.ForcedExit(ctx, pos)
	g.Rejected(ctx, "BTCUSDT", errors.New("x"))

	sent := rec.all()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "Вход исполнен")

	rec = &recorder{}
	g = NewGate(rec, Toggles{Signals: true, Entries: true, Fills: true, Failures: true, Rejects: true}, nil)
	g.Signal(ctx, sampleSignal())
	g.EntryFilled(ctx, pos)
	g.LegFilled(ctx, pos, models.RoleTakeProfit, d("1"), d("2"))
	g.PositionFailed(ctx, pos, errors.New("x"))
	g.ForcedExit(ctx, pos)
	g.Rejected(ctx, "BTCUSDT", errors.New("x"))
	assert.Len(t, rec.all(), 6)
}

func TestGateSurvivesSenderErrors(t *testing.T) {
	rec := &recorder{err: errors.New("telegram down")}
	g := NewGate(rec, Toggles{Signals: true}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g.Signal(ctx, sampleSignal())
	assert.Len(t, rec.all(), 1)
}

func TestNilSender(t *testing.T) {
	g := NewGate(nil, Toggles{Signals: true}, nil)
	assert.NotPanics(t, func() { g.Signal(context.Background(), sampleSignal()) })
}

func TestFormatProfit(t *testing.T) {
	text := FormatProfit(models.ProfitSummary{
		Symbol:       "BTCUSDT",
		Side:         models.SideLong,
		Outcome:      models.OutcomeExternal,
		EntryPrice:   d("50000"),
		ExitAvgPrice: d("50800"),
		NetPnL:       d("7.7"),
		Fees:         d("0.3"),
		PctOfRisk:    d("38.5"),
	})
	assert.Contains(t, text, "💰")
	assert.Contains(t, text, "закрыта вручную")
	assert.Contains(t, text, "PnL: 7.7000 USDT")
	assert.Contains(t, text, "От риска: 38.50%")

	loss := FormatProfit(models.ProfitSummary{NetPnL: d("-1")})
	assert.Contains(t, loss, "📉")
}

func TestFormatPositions(t *testing.T) {
	assert.Contains(t, FormatPositions(nil), "нет")
	text := FormatPositions([]models.Position{{Symbol: "BTCUSDT", Side: models.SideLong, State: models.StateOpen, Leverage: 10}})
	assert.Contains(t, text, "BTCUSDT [LONG] OPEN")
}

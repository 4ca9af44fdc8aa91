package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signal_bot/internal/exchange"
	"signal_bot/internal/exchange/exchangetest"
	"signal_bot/internal/executor"
	"signal_bot/internal/models"
	"signal_bot/internal/monitor"
	"signal_bot/internal/profit"
	"signal_bot/internal/risk"
	"signal_bot/internal/signal"
	"signal_bot/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const btcSignal = `BTCUSDT Long 10x
Entry price - 50000
SL - 48000
TP1 - 51000 (20%)
TP2 - 52000 (30%)
TP3 - 53000 (30%)
TP4 - 54000 (20%)`

var fast = exchange.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

type recorder struct {
	mu       sync.Mutex
	signals  []models.TradeSignal
	rejected []error
	entries  int
	profits  []models.ProfitSummary
}

func (r *recorder) Signal(_ context.Context, sig models.TradeSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
}

func (r *recorder) Rejected(_ context.Context, _ string, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, reason)
}

func (r *recorder) EntryFilled(context.Context, models.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries++
}

func (r *recorder) LegFilled(context.Context, models.Position, models.OrderRole, decimal.Decimal, decimal.Decimal) {
}
func (r *recorder) PositionFailed(context.Context, models.Position, error) {}
func (r *recorder) ForcedExit(context.Context, models.Position)            {}

func (r *recorder) Profit(_ context.Context, s models.ProfitSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profits = append(r.profits, s)
}

func (r *recorder) rejects() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.rejected...)
}

type fixture struct {
	fake     *exchangetest.Fake
	rec      *recorder
	archive  *store.Memory
	pipeline *Pipeline
	cancel   context.CancelFunc
	ctx      context.Context
}

func setup(t *testing.T, policy string) *fixture {
	t.Helper()
	fake := exchangetest.New()
	fake.SetBalance(d("1000"))
	fake.SetInstrument(models.Instrument{
		Symbol:    "BTCUSDT",
		LotSize:   d("0.001"),
		MinQty:    d("0.001"),
		TickSize:  d("0.1"),
		LastPrice: d("49000"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	archive := store.NewMemory()
	account := NewAccountCache(fake, time.Hour, fast, nil)
	go account.Run(ctx)

	p := NewPipeline(Deps{
		Parser:   signal.NewParser(signal.Config{QuoteAsset: "USDT"}, nil),
		Engine:   risk.NewEngine(risk.Config{RiskPercent: d("2"), MaxLeverage: 20, MarketTolerancePct: d("0.3")}),
		Exchange: fake,
		Account:  account,
		Notifier: rec,
		Reporter: profit.NewReporter(profit.Toggles{Enabled: true}, rec, nil),
		Archive:  archive,
	}, Config{
		DuplicatePolicy: policy,
		Executor:        executor.Config{Retry: fast},
		Monitor:         monitor.Config{PollInterval: 5 * time.Millisecond, Retry: fast},
	})

	f := &fixture{fake: fake, rec: rec, archive: archive, pipeline: p, ctx: ctx, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		_ = p.Wait(context.Background())
	})
	return f
}

func (f *fixture) only(t *testing.T) models.Position {
	t.Helper()
	list := f.pipeline.Positions()
	require.Len(t, list, 1)
	return list[0]
}

// fillLadder исполняет вход и всю лестницу тейков.
func (f *fixture) fillLadder(t *testing.T) {
	t.Helper()
	pos := f.only(t)
	f.fake.FillAll(pos.Entry.OrderID, d("50000"))
	require.Eventually(t, func() bool {
		return len(f.fake.OrdersByType("BTCUSDT", models.OrderTypeTakeProfit)) >= 4
	}, 2*time.Second, time.Millisecond)
	for _, o := range f.fake.OrdersByType("BTCUSDT", models.OrderTypeTakeProfit) {
		f.fake.FillAll(o.ID, o.StopPrice)
	}
}

func (f *fixture) finish(t *testing.T) {
	t.Helper()
	f.fillLadder(t)
	require.Eventually(t, func() bool { return len(f.pipeline.Positions()) == 0 }, 2*time.Second, time.Millisecond)
}

func TestSignalToClosedPosition(t *testing.T) {
	f := setup(t, PolicyReject)

	require.NoError(t, f.pipeline.OnMessage(f.ctx, btcSignal))
	pos := f.only(t)
	assert.Equal(t, models.StatePendingEntry, pos.State)
	assert.True(t, pos.RequestedQty.Equal(d("0.01")))
	assert.Equal(t, 10, f.fake.Leverage("BTCUSDT"))

	f.finish(t)

	recent, err := f.archive.RecentPositions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, models.StateClosed, recent[0].Position.State)
	assert.Equal(t, models.OutcomeTakeProfit, recent[0].Position.Outcome)
	assert.True(t, recent[0].Summary.GrossPnL.IsPositive())

	trail, err := f.archive.AuditTrail(context.Background(), recent[0].Position.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, trail)

	f.rec.mu.Lock()
	assert.Len(t, f.rec.signals, 1)
	assert.Equal(t, 1, f.rec.entries)
	assert.Len(t, f.rec.profits, 1)
	f.rec.mu.Unlock()
	assert.Empty(t, f.rec.rejects())
	assert.Empty(t, f.fake.OpenOrders("BTCUSDT"))
}

func TestDuplicateSymbolRejected(t *testing.T) {
	f := setup(t, PolicyReject)

	require.NoError(t, f.pipeline.OnMessage(f.ctx, btcSignal))
	err := f.pipeline.OnMessage(f.ctx, btcSignal)
	require.ErrorIs(t, err, ErrSymbolBusy)
	require.Len(t, f.rec.rejects(), 1)
	assert.Len(t, f.pipeline.Positions(), 1)
	assert.Len(t, f.fake.OrdersByType("BTCUSDT", models.OrderTypeLimit), 1)

	f.finish(t)
	// символ освобождён
	require.NoError(t, f.pipeline.OnMessage(f.ctx, btcSignal))
}

func TestDuplicateSymbolQueued(t *testing.T) {
	f := setup(t, PolicyQueue)

	require.NoError(t, f.pipeline.OnMessage(f.ctx, btcSignal))
	first := f.only(t)
	require.NoError(t, f.pipeline.OnMessage(f.ctx, btcSignal))
	assert.Len(t, f.pipeline.Positions(), 1)
	assert.Len(t, f.fake.OrdersByType("BTCUSDT", models.OrderTypeLimit), 1)

	f.fillLadder(t)
	require.Eventually(t, func() bool {
		list := f.pipeline.Positions()
		return len(list) == 1 && list[0].ID != first.ID
	}, 2*time.Second, time.Millisecond)
	assert.Len(t, f.fake.OrdersByType("BTCUSDT", models.OrderTypeLimit), 2)
	assert.Empty(t, f.rec.rejects())
}

func TestParseErrorNotifiedNotExecuted(t *testing.T) {
	f := setup(t, PolicyReject)

	err := f.pipeline.OnMessage(f.ctx, "BTCUSDT Long\nEntry - 50000\nSL - 48000\nTP1 - 51000")
	var pe *signal.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Len(t, f.rec.rejects(), 1)
	assert.Zero(t, f.fake.Calls(exchangetest.OpPlace))
}

func TestChatterIgnoredSilently(t *testing.T) {
	f := setup(t, PolicyReject)

	err := f.pipeline.OnMessage(f.ctx, "good morning traders")
	require.Error(t, err)
	assert.True(t, signal.IsChatter(err))
	assert.Empty(t, f.rec.rejects())
	assert.Zero(t, f.fake.Calls(exchangetest.OpPlace))
}

func TestRiskRejectReleasesSymbol(t *testing.T) {
	f := setup(t, PolicyReject)
	f.fake.SetBalance(d("0.0001"))

	err := f.pipeline.OnMessage(f.ctx, btcSignal)
	var re *risk.RiskError
	require.True(t, errors.As(err, &re))
	assert.Len(t, f.rec.rejects(), 1)
	assert.Zero(t, f.fake.Calls(exchangetest.OpPlace))
	assert.NoError(t, f.pipeline.Registry.TryAcquire("BTCUSDT"))
}

func TestUnknownInstrumentRejected(t *testing.T) {
	f := setup(t, PolicyReject)

	err := f.pipeline.OnMessage(f.ctx, "ETHUSDT Short 5x\nEntry - 3000\nSL - 3100\nTP1 - 2900")
	require.Error(t, err)
	assert.Len(t, f.rec.rejects(), 1)
	assert.Empty(t, f.pipeline.Positions())
}

func TestShutdownClosesOpenPositions(t *testing.T) {
	f := setup(t, PolicyReject)
	require.NoError(t, f.pipeline.OnMessage(f.ctx, btcSignal))
	pos := f.only(t)
	f.fake.FillAll(pos.Entry.OrderID, d("50000"))
	require.Eventually(t, func() bool {
		return f.only(t).State == models.StateOpen
	}, 2*time.Second, time.Millisecond)

	f.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.pipeline.Wait(ctx))

	assert.True(t, f.fake.Position("BTCUSDT").Flat())
	assert.Empty(t, f.fake.OpenOrders("BTCUSDT"))
	recent, err := f.archive.RecentPositions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, models.OutcomeShutdown, recent[0].Position.Outcome)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.TryAcquire("BTCUSDT"))
	require.ErrorIs(t, r.TryAcquire("BTCUSDT"), ErrSymbolBusy)
	require.NoError(t, r.TryAcquire("ETHUSDT"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.Acquire(ctx, "BTCUSDT"), context.DeadlineExceeded)

	got := make(chan error, 1)
	go func() { got <- r.Acquire(context.Background(), "BTCUSDT") }()
	r.Release("BTCUSDT")
	require.NoError(t, <-got)

	// лишний Release не ломает слот
	r.Release("ETHUSDT")
	r.Release("ETHUSDT")
	require.NoError(t, r.TryAcquire("ETHUSDT"))
}

type static models.Position

func (s static) Position() models.Position { return models.Position(s) }

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Track("b", static{ID: "b", Symbol: "ETHUSDT", State: models.StateOpen, CreatedAt: now})
	r.Track("a", static{ID: "a", Symbol: "BTCUSDT", State: models.StateClosed, CreatedAt: now.Add(-time.Minute)})

	list := r.Snapshot()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, map[string]string{"ETHUSDT": "b"}, r.Open())

	r.Forget("b")
	assert.Len(t, r.Snapshot(), 1)
}

func TestAccountCache(t *testing.T) {
	fake := exchangetest.New()
	fake.SetBalance(d("250"))
	c := NewAccountCache(fake, time.Hour, fast, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.NoError(t, c.Sync(ctx))
	assert.True(t, c.State().Balance.Equal(d("250")))
	assert.False(t, c.LastRefresh().IsZero())

	fake.SetBalance(d("300"))
	c.RequestRefresh()
	c.RequestRefresh()
	require.Eventually(t, func() bool { return c.State().Balance.Equal(d("300")) }, time.Second, time.Millisecond)

	fake.FailNext(exchangetest.OpBalance, exchange.Permanent("balance", "50000", "denied"))
	require.Error(t, c.Sync(ctx))
	assert.True(t, c.State().Balance.Equal(d("300")))
}

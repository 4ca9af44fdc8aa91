package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"signal_bot/internal/exchange"
	"signal_bot/internal/exchange/exchangetest"
	"signal_bot/internal/executor"
	"signal_bot/internal/helper"
	"signal_bot/internal/models"
	"signal_bot/internal/risk"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var fast = exchange.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

// counting считает вызовы, которые монитор делает в исполнителя.
type counting struct {
	*executor.Executor
	handled atomic.Int32
	forced  atomic.Int32
}

func (c *counting) Handle(ctx context.Context, ev executor.Event) error {
	c.handled.Add(1)
	return c.Executor.Handle(ctx, ev)
}

func (c *counting) ForceClose(ctx context.Context, outcome models.Outcome) error {
	c.forced.Add(1)
	return c.Executor.ForceClose(ctx, outcome)
}

func setup(t *testing.T) (*exchangetest.Fake, *counting) {
	t.Helper()
	inst := models.Instrument{
		Symbol:    "BTCUSDT",
		LotSize:   d("0.001"),
		MinQty:    d("0.001"),
		TickSize:  d("0.1"),
		LastPrice: d("49000"),
	}
	fake := exchangetest.New()
	fake.SetInstrument(inst)

	plan, err := risk.NewEngine(risk.Config{RiskPercent: d("2"), MaxLeverage: 20}).Plan(models.TradeSignal{
		Symbol:     "BTCUSDT",
		Side:       models.SideLong,
		Leverage:   10,
		EntryPrice: d("50000"),
		StopLoss:   d("48000"),
		TakeProfits: []models.TakeProfit{
			{Price: d("51000"), AllocationPct: d("50")},
			{Price: d("52000"), AllocationPct: d("50")},
		},
	}, models.AccountState{Balance: d("1000")}, inst)
	require.NoError(t, err)

	exec := executor.New("9c1d2e3f-0000-4000-8000-000000000001", plan, executor.Deps{Exchange: fake}, executor.Config{Retry: fast})
	require.NoError(t, exec.Start(context.Background()))
	return fake, &counting{Executor: exec}
}

func open(t *testing.T, fake *exchangetest.Fake, c *counting) models.Position {
	t.Helper()
	pos := c.Position()
	o := fake.FillAll(pos.Entry.OrderID, d("50000"))
	require.NoError(t, c.Executor.Handle(context.Background(), executor.OrderEvent(o)))
	pos = c.Position()
	require.Equal(t, models.StateOpen, pos.State)
	return pos
}

func cfg() Config {
	return Config{PollInterval: 5 * time.Millisecond, FlatConfirmations: 2, Retry: fast}
}

func run(ctx context.Context, m *Monitor, s Supervised) <-chan models.Position {
	out := make(chan models.Position, 1)
	go func() { out <- m.Run(ctx, s) }()
	return out
}

func wait(t *testing.T, ch <-chan models.Position) models.Position {
	t.Helper()
	select {
	case pos := <-ch:
		return pos
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not finish")
	}
	return models.Position{}
}

func TestPollDrivesToClose(t *testing.T) {
	fake, exec := setup(t)
	pos := open(t, fake, exec)
	fake.Fill(pos.Stop.OrderID, d("0.01"), d("48000"))

	m := New(fake, nil, nil, cfg(), nil)
	final := wait(t, run(context.Background(), m, exec))

	assert.Equal(t, models.StateClosed, final.State)
	assert.Equal(t, models.OutcomeStopLoss, final.Outcome)
	assert.Empty(t, fake.OpenOrders("BTCUSDT"))
}

func TestPushUpdatesAreDeduplicated(t *testing.T) {
	fake, exec := setup(t)
	pos := open(t, fake, exec)
	stream := exchangetest.NewStream()

	c := cfg()
	c.PollInterval = time.Hour
	m := New(fake, stream, nil, c, nil)
	done := run(context.Background(), m, exec)

	require.Eventually(t, func() bool { return stream.Subscribers("BTCUSDT") == 1 }, time.Second, time.Millisecond)

	tp := fake.Fill(pos.TakeProfits[0].OrderID, d("0.005"), d("51000"))
	for i := 0; i < 3; i++ {
		stream.Push(tp)
	}
	require.Eventually(t, func() bool {
		return exec.Position().State == models.StatePartiallyClosed
	}, time.Second, time.Millisecond)
	assert.True(t, exec.Position().RemainingQty.Equal(d("0.005")))

	tp2 := fake.Fill(pos.TakeProfits[1].OrderID, d("0.005"), d("52000"))
	stream.Push(tp2)
	stream.Push(tp2)

	final := wait(t, done)
	assert.Equal(t, models.StateClosed, final.State)
	assert.Equal(t, models.OutcomeTakeProfit, final.Outcome)
	assert.Equal(t, int32(2), exec.handled.Load())
	assert.Equal(t, 0, stream.Subscribers("BTCUSDT"))
}

func TestTimeoutForcesExitExactlyOnce(t *testing.T) {
	fake, exec := setup(t)
	open(t, fake, exec)

	c := cfg()
	c.Timeout = 30 * time.Millisecond
	m := New(fake, nil, nil, c, nil)
	final := wait(t, run(context.Background(), m, exec))

	assert.Equal(t, models.StateClosed, final.State)
	assert.Equal(t, models.OutcomeTimeout, final.Outcome)
	assert.Equal(t, int32(1), exec.forced.Load())
	assert.Len(t, fake.OrdersByType("BTCUSDT", models.OrderTypeMarket), 1)
	assert.True(t, fake.Position("BTCUSDT").Flat())
}

func TestEntryTimeoutCancels(t *testing.T) {
	fake, exec := setup(t)

	c := cfg()
	c.EntryTimeout = 20 * time.Millisecond
	m := New(fake, nil, nil, c, nil)
	final := wait(t, run(context.Background(), m, exec))

	assert.Equal(t, models.StateCanceled, final.State)
	assert.Equal(t, models.OutcomeCanceled, final.Outcome)
	assert.Empty(t, fake.OpenOrders("BTCUSDT"))
}

func TestExternalCloseDetected(t *testing.T) {
	fake, exec := setup(t)
	open(t, fake, exec)
	fake.CloseExternally("BTCUSDT")

	m := New(fake, nil, nil, cfg(), nil)
	final := wait(t, run(context.Background(), m, exec))

	assert.Equal(t, models.StateClosed, final.State)
	assert.Equal(t, models.OutcomeExternal, final.Outcome)
	assert.Empty(t, fake.OpenOrders("BTCUSDT"))
}

// blinking биржа через раз показывает пустую позицию.
type blinking struct {
	*exchangetest.Fake
	mu sync.Mutex
	n  int
}

func (b *blinking) GetPosition(ctx context.Context, symbol string) (models.ExchangePosition, error) {
	p, err := b.Fake.GetPosition(ctx, symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	if b.n%2 == 1 {
		p.Qty = decimal.Zero
	}
	return p, err
}

func TestSingleFlatReadIsNotAnExternalClose(t *testing.T) {
	fake, exec := setup(t)
	open(t, fake, exec)
	ex := &blinking{Fake: fake}

	ctx, cancel := context.WithCancel(context.Background())
	m := New(ex, nil, nil, cfg(), nil)
	done := run(ctx, m, exec)

	require.Eventually(t, func() bool {
		ex.mu.Lock()
		defer ex.mu.Unlock()
		return ex.n >= 6
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, models.StateOpen, exec.Position().State)

	cancel()
	final := wait(t, done)
	assert.Equal(t, models.OutcomeShutdown, final.Outcome)
}

func TestShutdownClosesPosition(t *testing.T) {
	fake, exec := setup(t)
	open(t, fake, exec)

	ctx, cancel := context.WithCancel(context.Background())
	c := cfg()
	c.PollInterval = time.Hour
	m := New(fake, nil, nil, c, nil)
	done := run(ctx, m, exec)
	cancel()

	final := wait(t, done)
	assert.Equal(t, models.StateClosed, final.State)
	assert.Equal(t, models.OutcomeShutdown, final.Outcome)
	assert.True(t, fake.Position("BTCUSDT").Flat())
	assert.Empty(t, fake.OpenOrders("BTCUSDT"))
}

func TestCloseAfterTradeFlattensResidual(t *testing.T) {
	fake, exec := setup(t)
	pos := open(t, fake, exec)
	fake.Fill(pos.Stop.OrderID, d("0.01"), d("48000"))
	fake.SetPosition(models.ExchangePosition{Symbol: "BTCUSDT", Side: models.SideLong, Qty: d("0.003"), MarkPrice: d("48000")})

	c := cfg()
	c.CloseAfterTrade = true
	m := New(fake, nil, nil, c, nil)
	final := wait(t, run(context.Background(), m, exec))

	assert.Equal(t, models.StateClosed, final.State)
	assert.True(t, fake.Position("BTCUSDT").Flat())
	exits := fake.OrdersByType("BTCUSDT", models.OrderTypeMarket)
	require.Len(t, exits, 1)
	assert.True(t, exits[0].ReduceOnly)
	assert.Equal(t, models.OrderSideSell, exits[0].Side)
}

type auditLog struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (a *auditLog) RecordAudit(_ context.Context, ev models.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *auditLog) orderIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []string
	for _, ev := range a.events {
		ids = append(ids, ev.OrderID)
	}
	return ids
}

// orphan ордер позиции, о котором исполнитель не знает.
func orphan(t *testing.T, fake *exchangetest.Fake, pos models.Position) models.Order {
	t.Helper()
	o, err := fake.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:        pos.Symbol,
		Side:          models.OrderSideSell,
		Type:          models.OrderTypeLimit,
		Quantity:      d("0.001"),
		Price:         d("60000"),
		ReduceOnly:    true,
		ClientOrderID: helper.ClientOrderID(pos.ID, "take_profit", 7, 0),
	})
	require.NoError(t, err)
	return o
}

func TestCleanupRetriesCancelAllWithinShutdownWindow(t *testing.T) {
	fake, exec := setup(t)
	pos := open(t, fake, exec)
	stray := orphan(t, fake, pos)

	// больше, чем одна попытка CancelAll переживает со своим Retry
	errs := make([]error, 7)
	for i := range errs {
		errs[i] = exchange.Transient("open_orders", "50011", "rate limit")
	}
	fake.FailNext(exchangetest.OpOpenOrders, errs...)

	ctx, cancel := context.WithCancel(context.Background())
	c := cfg()
	c.PollInterval = time.Hour
	c.ShutdownTimeout = 2 * time.Second
	audit := &auditLog{}
	done := run(ctx, New(fake, nil, audit, c, nil), exec)
	cancel()

	final := wait(t, done)
	assert.Equal(t, models.StateClosed, final.State)
	assert.Empty(t, fake.OpenOrders("BTCUSDT"))
	assert.GreaterOrEqual(t, fake.Calls(exchangetest.OpOpenOrders), 8)
	assert.NotContains(t, audit.orderIDs(), stray.ID)
}

func TestCleanupRecordsLeftoverOrders(t *testing.T) {
	fake, exec := setup(t)
	pos := open(t, fake, exec)
	stray := orphan(t, fake, pos)

	errs := make([]error, 10000)
	for i := range errs {
		errs[i] = exchange.Permanent("cancel", "51400", "cancellation failed")
	}
	fake.FailNext(exchangetest.OpCancel, errs...)

	ctx, cancel := context.WithCancel(context.Background())
	c := cfg()
	c.PollInterval = time.Hour
	c.ShutdownTimeout = 50 * time.Millisecond
	audit := &auditLog{}
	done := run(ctx, New(fake, nil, audit, c, nil), exec)
	cancel()

	wait(t, done)
	ids := audit.orderIDs()
	assert.Contains(t, ids, stray.ID)
	assert.Contains(t, ids, pos.Stop.OrderID)
	for _, ev := range audit.events {
		assert.Equal(t, models.AuditCancel, ev.Action)
		assert.Equal(t, pos.ID, ev.PositionID)
		assert.Contains(t, ev.Detail, "leftover")
	}
}

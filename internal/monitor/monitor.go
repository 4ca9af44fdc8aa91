package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"signal_bot/internal/exchange"
	"signal_bot/internal/executor"
	"signal_bot/internal/helper"
	"signal_bot/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const auditTimeout = 5 * time.Second

type Config struct {
	PollInterval time.Duration
	// Timeout сколько позиция может жить до принудительного выхода (POSITION_MONITOR_TIMEOUT).
	Timeout      time.Duration
	EntryTimeout time.Duration
	// CloseAfterTrade после завершения закрыть остаток позиции на бирже.
	CloseAfterTrade bool
	ShutdownTimeout time.Duration
	// FlatConfirmations сколько опросов подряд биржа должна показать пустую позицию.
	FlatConfirmations int
	Retry             exchange.Policy
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.FlatConfirmations < 1 {
		c.FlatConfirmations = 2
	}
	return c
}

// Supervised то, чем монитор управляет. Реализует *executor.Executor.
type Supervised interface {
	Position() models.Position
	Done() <-chan struct{}
	Handle(ctx context.Context, ev executor.Event) error
	ForceClose(ctx context.Context, outcome models.Outcome) error
	CancelAll(ctx context.Context) error
}

type Monitor struct {
	ex     exchange.Exchange
	stream exchange.OrderStream
	audit  executor.Auditor
	cfg    Config
	log    *zap.Logger
}

// New stream может быть nil, тогда только опрос. audit может быть nil.
func New(ex exchange.Exchange, stream exchange.OrderStream, audit executor.Auditor, cfg Config, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if audit == nil {
		audit = nopAuditor{}
	}
	return &Monitor{ex: ex, stream: stream, audit: audit, cfg: cfg.withDefaults(), log: log}
}

type nopAuditor struct{}

func (nopAuditor) RecordAudit(context.Context, models.AuditEvent) error { return nil }

// watch состояние одного цикла наблюдения.
type watch struct {
	exec      Supervised
	log       *zap.Logger
	seen      map[string]struct{}
	flat      int
	lastPrice decimal.Decimal
}

// Run наблюдает за позицией до терминального состояния, затем убирает за ней.
// Отмена ctx = остановка процесса: позиция закрывается принудительно.
func (m *Monitor) Run(ctx context.Context, exec Supervised) models.Position {
	pos := exec.Position()
	w := &watch{
		exec: exec,
		log:  m.log.With(zap.String("position_id", pos.ID), zap.String("symbol", pos.Symbol)),
		seen: make(map[string]struct{}),
	}
	w.log.Info("monitor started", zap.String("state", string(pos.State)))

	var updates <-chan exchange.OrderUpdate
	if m.stream != nil {
		ch, unsubscribe := m.stream.Subscribe(pos.Symbol)
		defer unsubscribe()
		updates = ch
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	timeoutC, stopTimeout := after(pos.CreatedAt, m.cfg.Timeout)
	defer stopTimeout()
	entryC, stopEntry := after(pos.CreatedAt, m.cfg.EntryTimeout)
	defer stopEntry()

	for {
		select {
		case <-exec.Done():
			return m.finish(ctx, w)

		case <-ctx.Done():
			return m.shutdown(ctx, w)

		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			m.deliver(ctx, w, u.Order)

		case <-ticker.C:
			m.poll(ctx, w)

		case <-entryC:
			entryC = nil
			if exec.Position().State == models.StatePendingEntry {
				if err := exec.Handle(ctx, executor.Event{Kind: executor.EventEntryExpired}); err != nil {
					w.log.Error("entry expiry", zap.Error(err))
				}
			}

		case <-timeoutC:
			timeoutC = nil
			w.log.Warn("position monitor timeout", zap.Duration("timeout", m.cfg.Timeout))
			if err := exec.ForceClose(ctx, models.OutcomeTimeout); err != nil {
				w.log.Error("force close on timeout", zap.Error(err))
			}
		}
	}
}

// after таймер от момента start. Нулевая длительность = никогда.
func after(start time.Time, d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	wait := time.Until(start.Add(d))
	if wait < 0 {
		wait = 0
	}
	t := time.NewTimer(wait)
	return t.C, func() { t.Stop() }
}

func dedupeKey(o models.Order) string {
	return o.ID + "|" + string(o.Status) + "|" + o.FilledQty.String()
}

func (m *Monitor) deliver(ctx context.Context, w *watch, o models.Order) {
	key := dedupeKey(o)
	if _, ok := w.seen[key]; ok {
		return
	}
	w.seen[key] = struct{}{}
	if err := w.exec.Handle(ctx, executor.OrderEvent(o)); err != nil {
		w.log.Error("apply order update", zap.String("order_id", o.ID), zap.Error(err))
	}
}

// poll сначала ордера, потом позиция: исполнение, закрывшее позицию, должно прийти раньше,
// чем мы решим, что её закрыли руками.
func (m *Monitor) poll(ctx context.Context, w *watch) {
	pos := w.exec.Position()
	for _, leg := range pos.LiveLegs() {
		o, err := m.ex.GetOrder(ctx, pos.Symbol, leg.OrderID)
		if err != nil {
			w.log.Warn("poll order", zap.String("order_id", leg.OrderID), zap.Error(err))
			continue
		}
		m.deliver(ctx, w, o)
	}

	pos = w.exec.Position()
	if !pos.State.Active() {
		w.flat = 0
		return
	}
	p, err := m.ex.GetPosition(ctx, pos.Symbol)
	if err != nil {
		w.log.Warn("poll position", zap.Error(err))
		return
	}
	if p.MarkPrice.IsPositive() {
		w.lastPrice = p.MarkPrice
	}
	if !p.Flat() {
		w.flat = 0
		return
	}

	w.flat++
	if w.flat < m.cfg.FlatConfirmations {
		return
	}
	ev := executor.Event{Kind: executor.EventPositionFlat, Price: w.lastPrice}
	if err := w.exec.Handle(ctx, ev); err != nil {
		w.log.Error("apply external close", zap.Error(err))
	}
}

func (m *Monitor) shutdown(ctx context.Context, w *watch) models.Position {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()

	if !w.exec.Position().State.Terminal() {
		w.log.Warn("shutdown, closing position")
		if err := w.exec.ForceClose(dctx, models.OutcomeShutdown); err != nil {
			w.log.Error("force close on shutdown", zap.Error(err))
		}
	}
	return m.cleanup(dctx, w)
}

func (m *Monitor) finish(ctx context.Context, w *watch) models.Position {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()
	return m.cleanup(dctx, w)
}

// cleanup на бирже не должно остаться ордеров позиции; при CloseAfterTrade и остатка позиции.
// Снять ордера пытаемся до конца ctx, что не снялось, пишем в журнал.
func (m *Monitor) cleanup(ctx context.Context, w *watch) models.Position {
	if err := m.cancelAll(ctx, w); err != nil {
		m.recordLeftovers(ctx, w, err)
	}

	pos := w.exec.Position()
	if m.cfg.CloseAfterTrade {
		m.flattenResidual(ctx, w, pos)
	}
	w.log.Info("monitor finished",
		zap.String("state", string(pos.State)),
		zap.String("outcome", string(pos.Outcome)))
	return pos
}

func (m *Monitor) cancelAll(ctx context.Context, w *watch) error {
	b := backoff.NewExponentialBackOff()
	if m.cfg.Retry.BaseDelay > 0 {
		b.InitialInterval = m.cfg.Retry.BaseDelay
	}
	if m.cfg.Retry.MaxDelay > 0 {
		b.MaxInterval = m.cfg.Retry.MaxDelay
	}
	b.MaxElapsedTime = 0
	b.Reset()

	var last error
	err := backoff.RetryNotify(func() error {
		last = w.exec.CancelAll(ctx)
		return last
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		w.log.Warn("cancel leftover orders", zap.Duration("retry_in", next), zap.Error(err))
	})
	if err != nil && last != nil {
		return last
	}
	return err
}

// recordLeftovers ордера, которые так и не удалось снять.
func (m *Monitor) recordLeftovers(ctx context.Context, w *watch, cause error) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	pos := w.exec.Position()
	ids := make(map[string]models.Leg)
	var order []string
	for _, l := range pos.LiveLegs() {
		ids[l.OrderID] = l
		order = append(order, l.OrderID)
	}
	if open, err := m.ex.GetOpenOrders(actx, pos.Symbol); err == nil {
		prefix := helper.ClientOrderPrefix(pos.ID)
		for _, o := range open {
			if _, ok := ids[o.ID]; ok || !strings.HasPrefix(o.ClientOrderID, prefix) {
				continue
			}
			ids[o.ID] = models.Leg{OrderID: o.ID, Quantity: o.Quantity, Price: o.Price}
			order = append(order, o.ID)
		}
	}
	w.log.Error("leftover orders on exchange", zap.Strings("order_ids", order), zap.Error(cause))

	detail := fmt.Sprintf("leftover after cleanup: %v", cause)
	if len(order) == 0 {
		order = []string{""}
	}
	for _, id := range order {
		l := ids[id]
		ev := models.AuditEvent{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Action:     models.AuditCancel,
			Role:       l.Role,
			OrderID:    id,
			Qty:        l.Quantity,
			Price:      l.Price,
			Detail:     detail,
			At:         time.Now(),
		}
		if err := m.audit.RecordAudit(actx, ev); err != nil {
			w.log.Warn("audit", zap.String("order_id", id), zap.Error(err))
		}
	}
}

func (m *Monitor) flattenResidual(ctx context.Context, w *watch, pos models.Position) {
	var p models.ExchangePosition
	err := exchange.Retry(ctx, m.cfg.Retry, func(ctx context.Context) error {
		var err error
		p, err = m.ex.GetPosition(ctx, pos.Symbol)
		return err
	})
	if err != nil {
		w.log.Error("residual position", zap.Error(err))
		return
	}
	if p.Flat() {
		return
	}

	req := models.OrderRequest{
		Symbol:        pos.Symbol,
		Side:          p.Side.ExitOrderSide(),
		Type:          models.OrderTypeMarket,
		Quantity:      p.Qty,
		ReduceOnly:    true,
		ClientOrderID: helper.ClientOrderID(pos.ID, "residual", 0, 0),
	}
	err = exchange.Retry(ctx, m.cfg.Retry, func(ctx context.Context) error {
		_, err := m.ex.PlaceOrder(ctx, req)
		return err
	})
	if err != nil {
		w.log.Error("flatten residual", zap.String("qty", p.Qty.String()), zap.Error(err))
		return
	}
	w.log.Info("residual position closed", zap.String("qty", p.Qty.String()), zap.String("side", string(p.Side)))
}

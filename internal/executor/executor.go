package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"signal_bot/internal/exchange"
	"signal_bot/internal/helper"
	"signal_bot/internal/models"
	"signal_bot/pkg/tracing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	Retry exchange.Policy
}

type Deps struct {
	Exchange exchange.Exchange
	Auditor  Auditor
	Notifier Notifier
	Logger   *zap.Logger
}

// applied что уже учтено по ордеру (накопленные значения биржи).
type applied struct {
	qty, value, fee decimal.Decimal
}

// Executor автомат одной позиции. Все методы потокобезопасны,
// события применяются строго по одному.
type Executor struct {
	mu     sync.Mutex
	ex     exchange.Exchange
	audit  Auditor
	notify Notifier
	log    *zap.Logger
	cfg    Config
	now    func() time.Time

	pos     models.Position
	applied map[string]applied
	retired map[string]*models.Leg
	gen     map[models.OrderRole]int
	pending models.Outcome
	done    chan struct{}
}

func New(id string, plan models.OrderPlan, deps Deps, cfg Config) *Executor {
	if deps.Auditor == nil {
		deps.Auditor = nopAuditor{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	now := time.Now()
	return &Executor{
		ex:     deps.Exchange,
		audit:  deps.Auditor,
		notify: deps.Notifier,
		log:    deps.Logger.With(zap.String("position_id", id), zap.String("symbol", plan.Symbol)),
		cfg:    cfg,
		now:    time.Now,
		pos: models.Position{
			ID:            id,
			Symbol:        plan.Symbol,
			Side:          plan.Side,
			Leverage:      plan.Leverage,
			State:         models.StatePendingEntry,
			RequestedQty:  plan.Quantity,
			CapitalAtRisk: plan.CapitalAtRisk,
			Plan:          plan,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		applied: make(map[string]applied),
		retired: make(map[string]*models.Leg),
		gen:     make(map[models.OrderRole]int),
		done:    make(chan struct{}),
	}
}

// Position копия текущего состояния.
func (e *Executor) Position() models.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos.Clone()
}

// Done закрывается при переходе в терминальное состояние.
func (e *Executor) Done() <-chan struct{} { return e.done }

// Start ставит плечо и выставляет вход.
func (e *Executor) Start(ctx context.Context) error {
	span, ctx := tracing.Start(ctx, "executor.Start", tracing.Position(e.pos.ID, e.pos.Symbol))
	defer span.Finish()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pos.State != models.StatePendingEntry || e.pos.Entry.OrderID != "" {
		return fmt.Errorf("executor %s: already started", e.pos.ID)
	}

	err := e.retry(ctx, func(ctx context.Context) error {
		return e.ex.SetLeverage(ctx, e.pos.Symbol, e.pos.Leverage)
	})
	if err != nil {
		err = fmt.Errorf("set leverage %d: %w", e.pos.Leverage, err)
		tracing.Fail(span, err)
		e.fail(ctx, err, false)
		return err
	}

	spec := e.pos.Plan.Entry
	o, err := e.place(ctx, spec, 0)
	if err != nil {
		tracing.Fail(span, err)
		e.fail(ctx, err, false)
		return err
	}
	e.pos.Entry = newLeg(o, spec, 0)
	return e.apply(ctx, o)
}

// Handle применяет событие биржи. На терминальной позиции ничего не делает.
func (e *Executor) Handle(ctx context.Context, ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pos.State.Terminal() {
		return nil
	}
	switch ev.Kind {
	case EventOrder:
		return e.apply(ctx, ev.Order)
	case EventPositionFlat:
		return e.onFlat(ctx, ev.Price)
	case EventEntryExpired:
		return e.onEntryExpired(ctx)
	}
	return fmt.Errorf("executor: unknown event %d", ev.Kind)
}

// ForceClose снимает все ордера и закрывает остаток по рынку.
func (e *Executor) ForceClose(ctx context.Context, outcome models.Outcome) error {
	span, ctx := tracing.Start(ctx, "executor.ForceClose", tracing.Position(e.pos.ID, e.pos.Symbol))
	defer span.Finish()
	span.SetTag("outcome", string(outcome))

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pos.State.Terminal() {
		return nil
	}
	e.log.Warn("force close", zap.String("outcome", string(outcome)), zap.String("state", string(e.pos.State)))
	e.pending = outcome

	if err := e.cancelLive(ctx); err != nil {
		e.log.Warn("cancel before force close", zap.Error(err))
	}

	if e.pos.RemainingQty.IsPositive() {
		if err := e.marketExit(ctx); err != nil {
			tracing.Fail(span, err)
			e.fail(ctx, fmt.Errorf("force close: %w", err), false)
			return err
		}
	}

	var err error
	if !e.pos.RemainingQty.IsPositive() {
		err = e.closeOut(ctx, outcome)
	}
	// выход может ещё не исполниться, а причина нужна уже в уведомлении
	e.pos.Outcome = outcome
	e.notify.ForcedExit(ctx, e.pos.Clone())
	return err
}

// CancelAll снимает с биржи все ордера позиции, включая те, что мы не отслеживаем.
// Состояние позиции не меняет.
func (e *Executor) CancelAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var open []models.Order
	err := e.retry(ctx, func(ctx context.Context) error {
		var err error
		open, err = e.ex.GetOpenOrders(ctx, e.pos.Symbol)
		return err
	})
	if err != nil {
		return fmt.Errorf("open orders: %w", err)
	}

	prefix := helper.ClientOrderPrefix(e.pos.ID)
	tracked := make(map[string]bool)
	for _, l := range e.pos.LiveLegs() {
		tracked[l.OrderID] = true
	}

	var errs []error
	for _, o := range open {
		if !tracked[o.ID] && !strings.HasPrefix(o.ClientOrderID, prefix) {
			continue
		}
		err := e.retry(ctx, func(ctx context.Context) error {
			return e.ex.CancelOrder(ctx, e.pos.Symbol, o.ID)
		})
		if err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
			errs = append(errs, fmt.Errorf("cancel %s: %w", o.ID, err))
			continue
		}
		e.log.Info("orphan order canceled", zap.String("order_id", o.ID), zap.String("client_order_id", o.ClientOrderID))
		e.record(ctx, models.AuditEvent{Action: models.AuditCancel, OrderID: o.ID, Qty: o.Quantity, Price: o.Price, Detail: "cleanup"})
	}
	return errors.Join(errs...)
}

func (e *Executor) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	return exchange.Retry(ctx, e.cfg.Retry, fn)
}

func (e *Executor) place(ctx context.Context, spec models.OrderSpec, index int) (models.Order, error) {
	clientID := helper.ClientOrderID(e.pos.ID, string(spec.Role), index, e.gen[spec.Role])
	e.gen[spec.Role]++
	req := spec.Request(e.pos.Symbol, clientID)

	var o models.Order
	err := e.retry(ctx, func(ctx context.Context) error {
		var err error
		o, err = e.ex.PlaceOrder(ctx, req)
		return err
	})
	price := spec.Price
	if price.IsZero() {
		price = spec.StopPrice
	}
	if err != nil {
		e.log.Error("place order",
			zap.String("role", string(spec.Role)),
			zap.String("qty", spec.Quantity.String()),
			zap.String("price", price.String()),
			zap.Error(err))
		e.record(ctx, models.AuditEvent{Action: models.AuditReject, Role: spec.Role, Qty: spec.Quantity, Price: price, Detail: err.Error()})
		return o, fmt.Errorf("place %s: %w", spec.Role, err)
	}

	e.log.Info("order placed",
		zap.String("role", string(spec.Role)),
		zap.String("order_id", o.ID),
		zap.String("type", string(spec.Type)),
		zap.String("qty", spec.Quantity.String()),
		zap.String("price", price.String()))
	e.record(ctx, models.AuditEvent{Action: models.AuditPlace, Role: spec.Role, OrderID: o.ID, Qty: spec.Quantity, Price: price})
	return o, nil
}

// cancelLeg снимает ордер и досчитывает исполнения, которые успели пройти до отмены.
func (e *Executor) cancelLeg(ctx context.Context, leg *models.Leg) error {
	if !leg.Live() {
		return nil
	}
	err := e.retry(ctx, func(ctx context.Context) error {
		return e.ex.CancelOrder(ctx, e.pos.Symbol, leg.OrderID)
	})
	if err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
		e.log.Error("cancel order", zap.String("role", string(leg.Role)), zap.String("order_id", leg.OrderID), zap.Error(err))
		return fmt.Errorf("cancel %s %s: %w", leg.Role, leg.OrderID, err)
	}
	e.log.Info("order canceled", zap.String("role", string(leg.Role)), zap.String("order_id", leg.OrderID))
	e.record(ctx, models.AuditEvent{Action: models.AuditCancel, Role: leg.Role, OrderID: leg.OrderID, Qty: leg.Quantity, Price: leg.Price})

	var o models.Order
	err = e.retry(ctx, func(ctx context.Context) error {
		var err error
		o, err = e.ex.GetOrder(ctx, e.pos.Symbol, leg.OrderID)
		return err
	})
	if err == nil {
		e.account(o)
	}
	if leg.Status.Live() {
		leg.Status = models.OrderStatusCanceled
	}
	return nil
}

func (e *Executor) cancelLive(ctx context.Context) error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	add(e.cancelLeg(ctx, &e.pos.Entry))
	add(e.cancelLeg(ctx, &e.pos.Stop))
	for i := range e.pos.TakeProfits {
		add(e.cancelLeg(ctx, &e.pos.TakeProfits[i]))
	}
	for i := range e.pos.Exits {
		add(e.cancelLeg(ctx, &e.pos.Exits[i]))
	}
	return errors.Join(errs...)
}

func (e *Executor) cancelTakeProfits(ctx context.Context) error {
	var errs []error
	for i := range e.pos.TakeProfits {
		if err := e.cancelLeg(ctx, &e.pos.TakeProfits[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) transition(ctx context.Context, to models.PositionState, detail string) error {
	from := e.pos.State
	if err := checkTransition(from, to); err != nil {
		e.log.Error("transition rejected", zap.String("from", string(from)), zap.String("to", string(to)), zap.Error(err))
		return err
	}
	e.pos.UpdatedAt = e.now()
	if from == to {
		return nil
	}
	e.pos.State = to
	e.log.Info("state changed", zap.String("from", string(from)), zap.String("to", string(to)), zap.String("detail", detail))
	e.record(ctx, models.AuditEvent{Action: models.AuditTransition, From: from, To: to, Qty: e.pos.RemainingQty, Detail: detail})

	if to.Terminal() {
		e.pos.ClosedAt = e.pos.UpdatedAt
		close(e.done)
	}
	return nil
}

func (e *Executor) record(ctx context.Context, ev models.AuditEvent) {
	ev.PositionID = e.pos.ID
	ev.Symbol = e.pos.Symbol
	ev.At = e.now()
	if err := e.audit.RecordAudit(ctx, ev); err != nil {
		e.log.Warn("audit", zap.String("action", string(ev.Action)), zap.Error(err))
	}
}

func newLeg(o models.Order, spec models.OrderSpec, index int) models.Leg {
	price := spec.Price
	if price.IsZero() {
		price = spec.StopPrice
	}
	status := o.Status
	if status == "" {
		status = models.OrderStatusNew
	}
	return models.Leg{
		Role:          spec.Role,
		Index:         index,
		OrderID:       o.ID,
		ClientOrderID: o.ClientOrderID,
		Price:         price,
		Quantity:      spec.Quantity,
		Status:        status,
	}
}

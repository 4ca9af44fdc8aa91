package executor

import (
	"context"
	"fmt"

	"signal_bot/internal/models"
	"signal_bot/internal/risk"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func statusRank(s models.OrderStatus) int {
	switch s {
	case models.OrderStatusNew:
		return 0
	case models.OrderStatusPartiallyFilled:
		return 1
	}
	return 2
}

func (e *Executor) legByOrder(orderID string) (*models.Leg, bool) {
	if orderID == "" {
		return nil, false
	}
	if e.pos.Entry.OrderID == orderID {
		return &e.pos.Entry, false
	}
	if e.pos.Stop.OrderID == orderID {
		return &e.pos.Stop, false
	}
	for i := range e.pos.TakeProfits {
		if e.pos.TakeProfits[i].OrderID == orderID {
			return &e.pos.TakeProfits[i], false
		}
	}
	for i := range e.pos.Exits {
		if e.pos.Exits[i].OrderID == orderID {
			return &e.pos.Exits[i], false
		}
	}
	if l, ok := e.retired[orderID]; ok {
		return l, true
	}
	return nil, false
}

// account учитывает снимок ордера: прирост накопленного исполнения и статус.
// Повтор того же снимка или устаревший снимок ничего не меняют.
func (e *Executor) account(o models.Order) (*models.Leg, decimal.Decimal, decimal.Decimal) {
	leg, _ := e.legByOrder(o.ID)
	if leg == nil {
		return nil, decimal.Zero, decimal.Zero
	}

	prev := e.applied[o.ID]
	delta := o.FilledQty.Sub(prev.qty)
	price := decimal.Zero
	if delta.IsPositive() {
		value := o.AvgPrice.Mul(o.FilledQty)
		price = value.Sub(prev.value).Div(delta)
		if !price.IsPositive() {
			price = leg.Price
			value = prev.value.Add(price.Mul(delta))
		}
		fee := o.Fee.Sub(prev.fee)
		if fee.IsNegative() {
			fee = decimal.Zero
		}
		e.applied[o.ID] = applied{qty: o.FilledQty, value: value, fee: decimal.Max(o.Fee, prev.fee)}

		leg.FilledQty = o.FilledQty
		e.pos.Fills = append(e.pos.Fills, models.Fill{
			OrderID: o.ID,
			Role:    leg.Role,
			Qty:     delta,
			Price:   price,
			Fee:     fee,
			At:      e.now(),
		})

		if leg.Role == models.RoleEntry {
			total := e.pos.FilledQty.Add(delta)
			e.pos.EntryAvgPrice = e.pos.EntryAvgPrice.Mul(e.pos.FilledQty).Add(price.Mul(delta)).Div(total)
			e.pos.FilledQty = total
			e.pos.RemainingQty = e.pos.RemainingQty.Add(delta)
		} else {
			e.pos.RemainingQty = e.pos.RemainingQty.Sub(delta)
			if e.pos.RemainingQty.IsNegative() {
				e.log.Warn("exit fills exceed position", zap.String("order_id", o.ID), zap.String("delta", delta.String()))
				e.pos.RemainingQty = decimal.Zero
			}
		}
		e.log.Info("fill",
			zap.String("role", string(leg.Role)),
			zap.String("order_id", o.ID),
			zap.String("qty", delta.String()),
			zap.String("price", price.String()),
			zap.String("remaining", e.pos.RemainingQty.String()))
	} else {
		delta = decimal.Zero
	}

	if o.Status != "" && !leg.Status.Final() && statusRank(o.Status) >= statusRank(leg.Status) {
		leg.Status = o.Status
	}
	e.pos.UpdatedAt = e.now()
	return leg, delta, price
}

func (e *Executor) apply(ctx context.Context, o models.Order) error {
	_, retired := e.legByOrder(o.ID)
	leg, delta, price := e.account(o)
	if leg == nil {
		return nil
	}
	if retired {
		return e.onRetired(ctx, *leg, delta)
	}

	switch leg.Role {
	case models.RoleEntry:
		return e.onEntry(ctx, delta)
	case models.RoleTakeProfit:
		return e.onTakeProfit(ctx, *leg, delta, price)
	case models.RoleStopLoss:
		return e.onStop(ctx, *leg, delta, price)
	case models.RoleExit:
		return e.onExit(ctx)
	}
	return nil
}

func (e *Executor) onEntry(ctx context.Context, delta decimal.Decimal) error {
	if e.pos.State.Active() {
		// позднее исполнение входа после его отмены: стоп должен покрыть всё
		if delta.IsPositive() {
			return e.resizeStop(ctx)
		}
		return nil
	}
	if e.pos.State != models.StatePendingEntry {
		return nil
	}

	switch e.pos.Entry.Status {
	case models.OrderStatusFilled:
		return e.arm(ctx)
	case models.OrderStatusCanceled, models.OrderStatusRejected:
		if e.pos.FilledQty.IsPositive() {
			return e.arm(ctx)
		}
		if e.pos.Entry.Status == models.OrderStatusRejected {
			e.fail(ctx, fmt.Errorf("entry order %s rejected", e.pos.Entry.OrderID), false)
			return nil
		}
		return e.closeOut(ctx, models.OutcomeCanceled)
	}
	return nil
}

func (e *Executor) onTakeProfit(ctx context.Context, leg models.Leg, delta, price decimal.Decimal) error {
	if !e.pos.State.Active() {
		return nil
	}
	if !delta.IsPositive() {
		if leg.Status == models.OrderStatusCanceled || leg.Status == models.OrderStatusRejected {
			e.log.Warn("take-profit leg lost", zap.Int("leg", leg.Index), zap.String("status", string(leg.Status)))
		}
		return nil
	}

	e.notify.LegFilled(ctx, e.pos.Clone(), leg.Role, delta, price)
	if !e.pos.RemainingQty.IsPositive() {
		return e.closeOut(ctx, models.OutcomeTakeProfit)
	}
	if err := e.transition(ctx, models.StatePartiallyClosed, fmt.Sprintf("tp%d", leg.Index+1)); err != nil {
		return err
	}
	return e.resizeStop(ctx)
}

func (e *Executor) onStop(ctx context.Context, leg models.Leg, delta, price decimal.Decimal) error {
	if !e.pos.State.Active() {
		return nil
	}
	if delta.IsPositive() {
		e.notify.LegFilled(ctx, e.pos.Clone(), leg.Role, delta, price)
		if !e.pos.RemainingQty.IsPositive() {
			return e.closeOut(ctx, models.OutcomeStopLoss)
		}
		// частичный стоп: цели больше не нужны, стоп дорабатывает остаток
		if err := e.cancelTakeProfits(ctx); err != nil {
			e.fail(ctx, err, true)
			return err
		}
		return e.transition(ctx, models.StatePartiallyClosed, "partial stop-loss")
	}

	if (leg.Status == models.OrderStatusCanceled || leg.Status == models.OrderStatusRejected) &&
		e.pos.RemainingQty.IsPositive() {
		e.log.Warn("stop-loss gone, re-arming", zap.String("order_id", leg.OrderID), zap.String("status", string(leg.Status)))
		e.retire(&e.pos.Stop)
		if err := e.armStop(ctx); err != nil {
			e.fail(ctx, err, true)
			return err
		}
	}
	return nil
}

func (e *Executor) onExit(ctx context.Context) error {
	if e.pos.RemainingQty.IsPositive() {
		return nil
	}
	outcome := e.pending
	if outcome == models.OutcomeNone {
		outcome = models.OutcomeExternal
	}
	return e.closeOut(ctx, outcome)
}

// onRetired исполнение по ордеру, который мы уже заменили.
func (e *Executor) onRetired(ctx context.Context, leg models.Leg, delta decimal.Decimal) error {
	if !delta.IsPositive() || !e.pos.State.Active() {
		return nil
	}
	if !e.pos.RemainingQty.IsPositive() {
		outcome := models.OutcomeStopLoss
		if leg.Role == models.RoleTakeProfit {
			outcome = models.OutcomeTakeProfit
		}
		return e.closeOut(ctx, outcome)
	}
	return e.resizeStop(ctx)
}

func (e *Executor) onFlat(ctx context.Context, price decimal.Decimal) error {
	if e.pos.State == models.StatePendingEntry && !e.pos.FilledQty.IsPositive() {
		return nil
	}
	if e.pos.RemainingQty.IsPositive() && price.IsPositive() {
		e.pos.Fills = append(e.pos.Fills, models.Fill{
			OrderID: "external",
			Role:    models.RoleExit,
			Qty:     e.pos.RemainingQty,
			Price:   price,
			At:      e.now(),
		})
	}
	e.log.Warn("position closed outside the bot", zap.String("remaining", e.pos.RemainingQty.String()))
	e.pos.RemainingQty = decimal.Zero

	outcome := e.pending
	if outcome == models.OutcomeNone {
		outcome = models.OutcomeExternal
	}
	return e.closeOut(ctx, outcome)
}

func (e *Executor) onEntryExpired(ctx context.Context) error {
	if e.pos.State != models.StatePendingEntry {
		return nil
	}
	e.log.Info("entry window expired", zap.String("filled", e.pos.FilledQty.String()))
	if err := e.cancelLeg(ctx, &e.pos.Entry); err != nil {
		e.fail(ctx, err, true)
		return err
	}
	if e.pos.Entry.Status == models.OrderStatusFilled || e.pos.FilledQty.IsPositive() {
		return e.arm(ctx)
	}
	return e.closeOut(ctx, models.OutcomeCanceled)
}

// arm вход набран: ставим стоп на весь объём и лестницу целей.
func (e *Executor) arm(ctx context.Context) error {
	if err := e.armStop(ctx); err != nil {
		e.fail(ctx, err, true)
		return err
	}

	for i, spec := range e.ladder() {
		o, err := e.place(ctx, spec, i)
		if err != nil {
			e.fail(ctx, err, true)
			return err
		}
		e.pos.TakeProfits = append(e.pos.TakeProfits, newLeg(o, spec, i))
	}

	if err := e.transition(ctx, models.StateOpen, "entry filled"); err != nil {
		return err
	}
	e.notify.EntryFilled(ctx, e.pos.Clone())
	return nil
}

// ladder цели под фактически набранный объём.
func (e *Executor) ladder() []models.OrderSpec {
	plan := e.pos.Plan
	qty := e.pos.FilledQty
	if qty.Equal(plan.Quantity) {
		return plan.TakeProfits
	}

	inst := plan.Instrument
	legs, err := risk.SplitQuantity(qty, plan.Allocations, inst.LotSize, inst.MinQty)
	if err != nil {
		e.log.Warn("take-profit ladder does not fit partial entry, stop-loss only",
			zap.String("filled", qty.String()), zap.Error(err))
		return nil
	}
	out := make([]models.OrderSpec, 0, len(legs))
	for i, spec := range plan.TakeProfits {
		if i >= len(legs) || legs[i].IsZero() {
			continue
		}
		spec.Quantity = legs[i]
		out = append(out, spec)
	}
	return out
}

func (e *Executor) armStop(ctx context.Context) error {
	spec := e.pos.Plan.StopLoss
	spec.Quantity = e.pos.RemainingQty
	o, err := e.place(ctx, spec, 0)
	if err != nil {
		return err
	}
	e.pos.Stop = newLeg(o, spec, 0)
	e.account(o)
	return nil
}

// resizeStop cancel+replace стопа под текущий остаток.
func (e *Executor) resizeStop(ctx context.Context) error {
	if e.pos.Stop.Live() && e.pos.Stop.Quantity.Sub(e.pos.Stop.FilledQty).Equal(e.pos.RemainingQty) {
		return nil
	}
	if err := e.cancelLeg(ctx, &e.pos.Stop); err != nil {
		e.fail(ctx, err, true)
		return err
	}
	if !e.pos.RemainingQty.IsPositive() {
		return e.closeOut(ctx, models.OutcomeStopLoss)
	}
	e.retire(&e.pos.Stop)
	if err := e.armStop(ctx); err != nil {
		e.fail(ctx, err, true)
		return err
	}
	return nil
}

func (e *Executor) retire(leg *models.Leg) {
	if leg.OrderID == "" {
		return
	}
	l := *leg
	e.retired[l.OrderID] = &l
	*leg = models.Leg{}
}

// marketExit reduce-only выход остатка по рынку.
func (e *Executor) marketExit(ctx context.Context) error {
	spec := models.OrderSpec{
		Role:       models.RoleExit,
		Side:       e.pos.Side.ExitOrderSide(),
		Type:       models.OrderTypeMarket,
		Quantity:   e.pos.RemainingQty,
		ReduceOnly: true,
	}
	idx := len(e.pos.Exits)
	o, err := e.place(ctx, spec, idx)
	if err != nil {
		return err
	}
	e.pos.Exits = append(e.pos.Exits, newLeg(o, spec, idx))
	e.account(o)

	if e.pos.Exits[idx].Live() {
		var fresh models.Order
		err := e.retry(ctx, func(ctx context.Context) error {
			var err error
			fresh, err = e.ex.GetOrder(ctx, e.pos.Symbol, o.ID)
			return err
		})
		if err == nil {
			e.account(fresh)
		}
	}
	return nil
}

// closeOut снимает оставшиеся ордера и завершает позицию.
func (e *Executor) closeOut(ctx context.Context, outcome models.Outcome) error {
	if err := e.cancelLive(ctx); err != nil {
		e.log.Warn("cancel on close", zap.Error(err))
	}
	to := models.StateClosed
	if e.pos.State == models.StatePendingEntry {
		to = models.StateCanceled
	}
	e.pos.Outcome = outcome
	return e.transition(ctx, to, string(outcome))
}

// fail переводит позицию в FAILED. flatten: закрыть набранный объём по рынку.
func (e *Executor) fail(ctx context.Context, cause error, flatten bool) {
	if e.pos.State.Terminal() {
		return
	}
	e.log.Error("position failed", zap.Error(cause))
	e.pos.Error = cause.Error()

	if err := e.cancelLive(ctx); err != nil {
		e.log.Error("cancel on failure", zap.Error(err))
	}
	if flatten && e.pos.RemainingQty.IsPositive() {
		if err := e.marketExit(ctx); err != nil {
			e.log.Error("flatten on failure", zap.Error(err))
		}
	}

	e.pos.Outcome = models.OutcomeFailed
	if err := e.transition(ctx, models.StateFailed, cause.Error()); err != nil {
		return
	}
	e.notify.PositionFailed(ctx, e.pos.Clone(), cause)
}

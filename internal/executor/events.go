package executor

import (
	"context"

	"signal_bot/internal/models"

	"github.com/shopspring/decimal"
)

type EventKind int

const (
	// EventOrder снимок ордера с биржи (опрос или push).
	EventOrder EventKind = iota
	// EventPositionFlat биржа подтвердила, что позиции нет, а мы не видели закрывающего исполнения.
	EventPositionFlat
	// EventEntryExpired вход не исполнился за отведённое окно.
	EventEntryExpired
)

func (k EventKind) String() string {
	switch k {
	case EventOrder:
		return "order"
	case EventPositionFlat:
		return "position_flat"
	case EventEntryExpired:
		return "entry_expired"
	}
	return "unknown"
}

type Event struct {
	Kind  EventKind
	Order models.Order
	// Price последняя известная цена, для оценки внешнего закрытия.
	Price decimal.Decimal
}

func OrderEvent(o models.Order) Event { return Event{Kind: EventOrder, Order: o} }

// Auditor журнал выставлений/отмен/переходов.
type Auditor interface {
	RecordAudit(ctx context.Context, ev models.AuditEvent) error
}

// Notifier уведомления о жизни позиции. Фильтрация по настройкам на стороне реализации.
type Notifier interface {
	EntryFilled(ctx context.Context, pos models.Position)
	LegFilled(ctx context.Context, pos models.Position, role models.OrderRole, qty, price decimal.Decimal)
	PositionFailed(ctx context.Context, pos models.Position, err error)
	ForcedExit(ctx context.Context, pos models.Position)
}

type nopAuditor struct{}

func (nopAuditor) RecordAudit(context.Context, models.AuditEvent) error { return nil }

type nopNotifier struct{}

func (nopNotifier) EntryFilled(context.Context, models.Position) {}
func (nopNotifier) LegFilled(context.Context, models.Position, models.OrderRole, decimal.Decimal, decimal.Decimal) {
}
func (nopNotifier) PositionFailed(context.Context, models.Position, error) {}
func (nopNotifier) ForcedExit(context.Context, models.Position)            {}

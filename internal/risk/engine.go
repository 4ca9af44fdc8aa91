package risk

import (
	"fmt"

	"signal_bot/internal/helper"
	"signal_bot/internal/models"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

type Config struct {
	// RiskPercent сколько процентов депозита теряем по стопу.
	RiskPercent decimal.Decimal
	MaxLeverage int
	// WalletAllocation доля баланса, доступная боту (0..1].
	WalletAllocation decimal.Decimal
	// MarketTolerancePct вход по рынку, если цена сигнала ближе к последней цене.
	MarketTolerancePct decimal.Decimal
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if !cfg.WalletAllocation.IsPositive() || cfg.WalletAllocation.GreaterThan(one) {
		cfg.WalletAllocation = one
	}
	if cfg.MaxLeverage < 1 {
		cfg.MaxLeverage = 1
	}
	return &Engine{cfg: cfg}
}

// SizeByRisk количество до округления: (balance * risk%) / |entry - stop|.
func SizeByRisk(balance, riskPct, entry, stop decimal.Decimal) decimal.Decimal {
	dist := entry.Sub(stop).Abs()
	if dist.IsZero() {
		return decimal.Zero
	}
	return balance.Mul(riskPct).Div(hundred).Div(dist)
}

// Plan считает план ордеров. Любой отказ возвращается как *RiskError.
func (e *Engine) Plan(sig models.TradeSignal, acct models.AccountState, inst models.Instrument) (models.OrderPlan, error) {
	if !acct.Balance.IsPositive() {
		return models.OrderPlan{}, reject(ErrInvalidBalance, acct.Balance.String())
	}
	side := sig.Side
	usable := acct.Balance.Mul(e.cfg.WalletAllocation)

	leverage := sig.Leverage
	if leverage > e.cfg.MaxLeverage {
		leverage = e.cfg.MaxLeverage
	}
	if leverage < 1 {
		leverage = 1
	}

	entry := models.OrderSpec{
		Role: models.RoleEntry,
		Side: side.EntryOrderSide(),
		Type: models.OrderTypeMarket,
	}
	var ref decimal.Decimal
	switch {
	case sig.Market:
		if !inst.LastPrice.IsPositive() {
			return models.OrderPlan{}, reject(ErrNoReferencePrice, sig.Symbol)
		}
		ref = inst.LastPrice
	case e.nearMarket(sig.EntryPrice, inst.LastPrice):
		ref = sig.EntryPrice
	default:
		if side == models.SideLong {
			ref = helper.FloorToStep(sig.EntryPrice, inst.TickSize)
		} else {
			ref = helper.CeilToStep(sig.EntryPrice, inst.TickSize)
		}
		entry.Type = models.OrderTypeLimit
		entry.Price = ref
	}
	if !ref.IsPositive() {
		return models.OrderPlan{}, reject(ErrNoReferencePrice, "entry price rounds to zero")
	}

	stop, err := e.stopPrice(sig, ref, inst.TickSize)
	if err != nil {
		return models.OrderPlan{}, err
	}

	capital := usable.Mul(e.cfg.RiskPercent).Div(hundred)
	qty := helper.FloorToStep(SizeByRisk(usable, e.cfg.RiskPercent, ref, stop), inst.LotSize)
	if inst.MaxQty.IsPositive() && qty.GreaterThan(inst.MaxQty) {
		qty = helper.FloorToStep(inst.MaxQty, inst.LotSize)
	}
	if !qty.IsPositive() || qty.LessThan(inst.MinQty) {
		return models.OrderPlan{}, reject(ErrQuantityBelowMinimum,
			fmt.Sprintf("qty %s, min %s, lot %s", qty, inst.MinQty, inst.LotSize))
	}

	lev := decimal.NewFromInt(int64(leverage))
	notional := qty.Mul(ref)
	if notional.GreaterThan(usable.Mul(lev)) {
		return models.OrderPlan{}, reject(ErrInsufficientMargin,
			fmt.Sprintf("notional %s > %s x%d", notional.StringFixed(2), usable.StringFixed(2), leverage))
	}
	entry.Quantity = qty

	tps, allocs, err := e.ladder(sig, ref, qty, inst)
	if err != nil {
		return models.OrderPlan{}, err
	}

	return models.OrderPlan{
		Symbol:         sig.Symbol,
		Side:           side,
		Leverage:       leverage,
		Quantity:       qty,
		ReferencePrice: ref,
		Notional:       notional,
		Margin:         notional.Div(lev),
		CapitalAtRisk:  capital,
		Entry:          entry,
		StopLoss: models.OrderSpec{
			Role:       models.RoleStopLoss,
			Side:       side.ExitOrderSide(),
			Type:       models.OrderTypeStopMarket,
			StopPrice:  stop,
			Quantity:   qty,
			ReduceOnly: true,
		},
		TakeProfits: tps,
		Allocations: allocs,
		Instrument:  inst,
	}, nil
}

func (e *Engine) nearMarket(price, last decimal.Decimal) bool {
	if !last.IsPositive() || !price.IsPositive() || !e.cfg.MarketTolerancePct.IsPositive() {
		return false
	}
	diffPct := price.Sub(last).Abs().Div(last).Mul(hundred)
	return diffPct.LessThanOrEqual(e.cfg.MarketTolerancePct)
}

func (e *Engine) stopPrice(sig models.TradeSignal, ref, tick decimal.Decimal) (decimal.Decimal, error) {
	var stop decimal.Decimal
	switch {
	case sig.HasStopLoss():
		stop = sig.StopLoss
	case sig.AutoStopLoss && sig.AutoStopLossPct.IsPositive():
		k := sig.AutoStopLossPct.Div(hundred).Mul(sig.Side.Sign())
		stop = ref.Mul(one.Sub(k))
	default:
		return decimal.Zero, reject(ErrMissingStopLoss, sig.Symbol)
	}

	if sig.Side == models.SideLong {
		stop = helper.FloorToStep(stop, tick)
	} else {
		stop = helper.CeilToStep(stop, tick)
	}

	switch {
	case stop.Equal(ref):
		return decimal.Zero, reject(ErrZeroStopDistance, ref.String())
	case sig.Side == models.SideLong && stop.GreaterThan(ref),
		sig.Side == models.SideShort && stop.LessThan(ref):
		return decimal.Zero, reject(ErrStopWrongSide, fmt.Sprintf("%s stop %s, reference %s", sig.Side, stop, ref))
	case !stop.IsPositive():
		return decimal.Zero, reject(ErrStopWrongSide, "stop-loss rounds to zero")
	}
	return stop, nil
}

// ladder цели с количествами. Ноги, слитые в последнюю, из плана выпадают.
func (e *Engine) ladder(sig models.TradeSignal, ref, qty decimal.Decimal, inst models.Instrument) ([]models.OrderSpec, []decimal.Decimal, error) {
	targets := sig.Targets()
	if len(targets) == 0 && sig.DefaultTakeProfitPct.IsPositive() {
		k := sig.DefaultTakeProfitPct.Div(hundred).Mul(sig.Side.Sign())
		targets = []models.TakeProfit{{Price: ref.Mul(one.Add(k)), AllocationPct: hundred}}
	}
	if len(targets) == 0 {
		return nil, nil, nil
	}

	allocs := make([]decimal.Decimal, len(targets))
	for i, tp := range targets {
		allocs[i] = tp.AllocationPct
	}
	legs, err := SplitQuantity(qty, allocs, inst.LotSize, inst.MinQty)
	if err != nil {
		return nil, nil, err
	}

	var (
		specs []models.OrderSpec
		used  []decimal.Decimal
	)
	for i, tp := range targets {
		if legs[i].IsZero() {
			continue
		}
		price := tp.Price
		if sig.Side == models.SideLong {
			price = helper.CeilToStep(price, inst.TickSize)
		} else {
			price = helper.FloorToStep(price, inst.TickSize)
		}
		if (sig.Side == models.SideLong && !price.GreaterThan(ref)) ||
			(sig.Side == models.SideShort && !price.LessThan(ref)) {
			return nil, nil, reject(ErrTakeProfitWrongSide, fmt.Sprintf("%s target %s, reference %s", sig.Side, price, ref))
		}
		specs = append(specs, models.OrderSpec{
			Role:       models.RoleTakeProfit,
			Side:       sig.Side.ExitOrderSide(),
			Type:       models.OrderTypeTakeProfit,
			StopPrice:  price,
			Quantity:   legs[i],
			ReduceOnly: true,
		})
		used = append(used, allocs[i])
	}
	return specs, used, nil
}

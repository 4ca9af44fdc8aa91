package risk

import (
	"errors"
	"testing"

	"signal_bot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func btc() models.Instrument {
	return models.Instrument{
		Symbol:    "BTCUSDT",
		LotSize:   d("0.001"),
		MinQty:    d("0.001"),
		TickSize:  d("0.1"),
		LastPrice: d("49000"),
	}
}

func exampleSignal() models.TradeSignal {
	return models.TradeSignal{
		Symbol:     "BTCUSDT",
		Side:       models.SideLong,
		Leverage:   10,
		EntryPrice: d("50000"),
		StopLoss:   d("48000"),
		TakeProfits: []models.TakeProfit{
			{Price: d("51000"), AllocationPct: d("20")},
			{Price: d("52000"), AllocationPct: d("30")},
			{Price: d("53000"), AllocationPct: d("30")},
			{Price: d("54000"), AllocationPct: d("20")},
		},
	}
}

func engine() *Engine {
	return NewEngine(Config{
		RiskPercent:        d("2"),
		MaxLeverage:        20,
		WalletAllocation:   d("1"),
		MarketTolerancePct: d("0.3"),
	})
}

func account(balance string) models.AccountState {
	return models.AccountState{Balance: d(balance)}
}

func TestSizeByRisk(t *testing.T) {
	q := SizeByRisk(d("1000"), d("2"), d("50000"), d("48000"))
	assert.True(t, q.Equal(d("0.01")), q.String())
	assert.True(t, SizeByRisk(d("1000"), d("2"), d("1"), d("1")).IsZero())
}

func TestPlanExample(t *testing.T) {
	plan, err := engine().Plan(exampleSignal(), account("1000"), btc())
	require.NoError(t, err)

	assert.Equal(t, 10, plan.Leverage)
	assert.True(t, plan.Quantity.Equal(d("0.01")), plan.Quantity.String())
	assert.True(t, plan.CapitalAtRisk.Equal(d("20")))
	assert.True(t, plan.Notional.Equal(d("500")))
	assert.True(t, plan.Margin.Equal(d("50")))

	assert.Equal(t, models.OrderTypeLimit, plan.Entry.Type)
	assert.True(t, plan.Entry.Price.Equal(d("50000")))
	assert.Equal(t, models.OrderSideBuy, plan.Entry.Side)

	assert.Equal(t, models.OrderTypeStopMarket, plan.StopLoss.Type)
	assert.True(t, plan.StopLoss.ReduceOnly)
	assert.Equal(t, models.OrderSideSell, plan.StopLoss.Side)
	assert.True(t, plan.StopLoss.StopPrice.Equal(d("48000")))
	assert.True(t, plan.StopLoss.Quantity.Equal(plan.Quantity))

	require.Len(t, plan.TakeProfits, 4)
	want := []string{"0.002", "0.003", "0.003", "0.002"}
	for i, tp := range plan.TakeProfits {
		assert.True(t, tp.Quantity.Equal(d(want[i])), "leg %d: %s", i, tp.Quantity)
		assert.True(t, tp.ReduceOnly)
		assert.Equal(t, models.OrderTypeTakeProfit, tp.Type)
	}
	assert.True(t, plan.TakeProfitTotal().Equal(plan.Quantity))
}

func TestPlanMarketEntryNearLastPrice(t *testing.T) {
	inst := btc()
	inst.LastPrice = d("50100")
	plan, err := engine().Plan(exampleSignal(), account("1000"), inst)
	require.NoError(t, err)
	assert.Equal(t, models.OrderTypeMarket, plan.Entry.Type)
	assert.True(t, plan.Entry.Price.IsZero())
}

func TestPlanMarketSignal(t *testing.T) {
	sig := exampleSignal()
	sig.Market = true
	sig.EntryPrice = decimal.Zero
	sig.StopLoss = decimal.Zero
	sig.AutoStopLoss = true
	sig.AutoStopLossPct = d("4")
	sig.TakeProfits = nil
	sig.DefaultTakeProfitPct = d("2")

	inst := btc()
	inst.LastPrice = d("50000")
	plan, err := engine().Plan(sig, account("1000"), inst)
	require.NoError(t, err)

	assert.Equal(t, models.OrderTypeMarket, plan.Entry.Type)
	assert.True(t, plan.ReferencePrice.Equal(d("50000")))
	assert.True(t, plan.StopLoss.StopPrice.Equal(d("48000")), plan.StopLoss.StopPrice.String())
	require.Len(t, plan.TakeProfits, 1)
	assert.True(t, plan.TakeProfits[0].StopPrice.Equal(d("51000")))
	assert.True(t, plan.TakeProfits[0].Quantity.Equal(plan.Quantity))
}

func TestPlanShortRounding(t *testing.T) {
	sig := models.TradeSignal{
		Symbol:     "XRPUSDT",
		Side:       models.SideShort,
		Leverage:   5,
		EntryPrice: d("1.23456"),
		StopLoss:   d("1.30011"),
		TakeProfits: []models.TakeProfit{
			{Price: d("1.10019"), AllocationPct: d("100")},
		},
	}
	inst := models.Instrument{
		Symbol:    "XRPUSDT",
		LotSize:   d("1"),
		MinQty:    d("1"),
		TickSize:  d("0.001"),
		LastPrice: d("1.1"),
	}
	plan, err := engine().Plan(sig, account("1000"), inst)
	require.NoError(t, err)

	assert.True(t, plan.Entry.Price.Equal(d("1.235")), plan.Entry.Price.String())
	assert.True(t, plan.StopLoss.StopPrice.Equal(d("1.301")), plan.StopLoss.StopPrice.String())
	assert.True(t, plan.TakeProfits[0].StopPrice.Equal(d("1.1")), plan.TakeProfits[0].StopPrice.String())
	assert.Equal(t, models.OrderSideSell, plan.Entry.Side)
	assert.Equal(t, models.OrderSideBuy, plan.StopLoss.Side)
	assert.True(t, plan.Quantity.Equal(plan.Quantity.Floor()))
}

func TestPlanLeverageClamp(t *testing.T) {
	sig := exampleSignal()
	sig.Leverage = 100
	plan, err := engine().Plan(sig, account("1000"), btc())
	require.NoError(t, err)
	assert.Equal(t, 20, plan.Leverage)
}

func TestPlanWalletAllocation(t *testing.T) {
	e := NewEngine(Config{RiskPercent: d("2"), MaxLeverage: 20, WalletAllocation: d("0.5")})
	plan, err := e.Plan(exampleSignal(), account("2000"), btc())
	require.NoError(t, err)
	assert.True(t, plan.Quantity.Equal(d("0.01")))
	assert.True(t, plan.CapitalAtRisk.Equal(d("20")))
}

func TestPlanRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.TradeSignal, *models.Instrument, *models.AccountState)
		kind   error
	}{
		{
			name: "entry equals stop",
			mutate: func(s *models.TradeSignal, _ *models.Instrument, _ *models.AccountState) {
				s.StopLoss = d("50000")
			},
			kind: ErrZeroStopDistance,
		},
		{
			name: "stop rounds onto entry",
			mutate: func(s *models.TradeSignal, _ *models.Instrument, _ *models.AccountState) {
				s.StopLoss = d("50000.05")
			},
			kind: ErrZeroStopDistance,
		},
		{
			name: "insufficient margin",
			mutate: func(s *models.TradeSignal, _ *models.Instrument, _ *models.AccountState) {
				s.StopLoss = d("49990")
			},
			kind: ErrInsufficientMargin,
		},
		{
			name: "quantity below lot",
			mutate: func(_ *models.TradeSignal, _ *models.Instrument, a *models.AccountState) {
				a.Balance = d("10")
			},
			kind: ErrQuantityBelowMinimum,
		},
		{
			name: "market without last price",
			mutate: func(s *models.TradeSignal, i *models.Instrument, _ *models.AccountState) {
				s.Market = true
				i.LastPrice = decimal.Zero
			},
			kind: ErrNoReferencePrice,
		},
		{
			name: "no stop at all",
			mutate: func(s *models.TradeSignal, _ *models.Instrument, _ *models.AccountState) {
				s.StopLoss = decimal.Zero
			},
			kind: ErrMissingStopLoss,
		},
		{
			name: "market stop above reference",
			mutate: func(s *models.TradeSignal, i *models.Instrument, _ *models.AccountState) {
				s.Market = true
				i.LastPrice = d("47000")
			},
			kind: ErrStopWrongSide,
		},
		{
			name: "market target below reference",
			mutate: func(s *models.TradeSignal, i *models.Instrument, _ *models.AccountState) {
				s.Market = true
				i.LastPrice = d("51500")
			},
			kind: ErrTakeProfitWrongSide,
		},
		{
			name: "zero balance",
			mutate: func(_ *models.TradeSignal, _ *models.Instrument, a *models.AccountState) {
				a.Balance = decimal.Zero
			},
			kind: ErrInvalidBalance,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig, inst, acct := exampleSignal(), btc(), account("1000")
			tc.mutate(&sig, &inst, &acct)

			_, err := engine().Plan(sig, acct, inst)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.kind), err.Error())

			var re *RiskError
			assert.True(t, errors.As(err, &re))
		})
	}
}

func TestSplitQuantitySumsExactly(t *testing.T) {
	splits := [][]string{
		{"20", "30", "30", "20"},
		{"33.3333", "33.3333", "33.3334"},
		{"50", "50"},
		{"10", "10", "10", "10", "60"},
		{"100"},
	}
	totals := []string{"0.01", "0.013", "0.999", "1.237"}

	for _, split := range splits {
		allocs := make([]decimal.Decimal, len(split))
		for i, s := range split {
			allocs[i] = d(s)
		}
		for _, total := range totals {
			legs, err := SplitQuantity(d(total), allocs, d("0.001"), d("0.001"))
			require.NoError(t, err, "%v of %s", split, total)

			sum := decimal.Zero
			for _, l := range legs {
				sum = sum.Add(l)
			}
			assert.True(t, sum.Equal(d(total)), "%v of %s sums to %s", split, total, sum)
		}
	}
}

func TestSplitQuantityFoldsSmallLegs(t *testing.T) {
	legs, err := SplitQuantity(d("0.003"), []decimal.Decimal{d("10"), d("10"), d("80")}, d("0.001"), d("0.001"))
	require.NoError(t, err)
	require.Len(t, legs, 3)
	assert.True(t, legs[0].IsZero())
	assert.True(t, legs[1].IsZero())
	assert.True(t, legs[2].Equal(d("0.003")))
}

func TestSplitQuantityLastLegEmpty(t *testing.T) {
	_, err := SplitQuantity(d("0.01"), []decimal.Decimal{d("100"), d("0")}, d("0.001"), d("0.001"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTakeProfitAllocation))
}

func TestSplitQuantityEmpty(t *testing.T) {
	legs, err := SplitQuantity(d("1"), nil, d("0.001"), d("0.001"))
	require.NoError(t, err)
	assert.Nil(t, legs)
}

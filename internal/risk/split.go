package risk

import (
	"fmt"

	"signal_bot/internal/helper"

	"github.com/shopspring/decimal"
)

// SplitQuantity делит total по долям целей (в процентах). Все ноги кроме последней
// округляются вниз до лота; ноги меньше минимума вливаются в последнюю (в результате 0).
// Последняя нога забирает остаток, так что сумма ровно равна total.
func SplitQuantity(total decimal.Decimal, allocations []decimal.Decimal, lot, minQty decimal.Decimal) ([]decimal.Decimal, error) {
	n := len(allocations)
	if n == 0 {
		return nil, nil
	}
	if !total.IsPositive() {
		return nil, reject(ErrTakeProfitAllocation, "empty position")
	}

	out := make([]decimal.Decimal, n)
	assigned := decimal.Zero
	for i := 0; i < n-1; i++ {
		q := helper.FloorToStep(total.Mul(allocations[i]).Div(hundred), lot)
		if !q.IsPositive() || q.LessThan(minQty) {
			q = decimal.Zero
		}
		out[i] = q
		assigned = assigned.Add(q)
	}

	last := total.Sub(assigned)
	if !last.IsPositive() || last.LessThan(minQty) {
		return nil, reject(ErrTakeProfitAllocation,
			fmt.Sprintf("final leg %s of %s (min %s)", last, total, minQty))
	}
	out[n-1] = last
	return out, nil
}

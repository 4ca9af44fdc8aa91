package helper

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FloorToStep округляет вниз до шага (лот/тик). Нулевой шаг не меняет значение.
func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

func CeilToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Ceil().Mul(step)
}

// ClientOrderID стабильный id ордера: повтор запроса после таймаута несёт тот же смысл.
// Биржи ограничивают длину (OKX 32, Binance 36), поэтому только буквы и цифры.
func ClientOrderID(positionID, role string, leg, attempt int) string {
	r := strings.ReplaceAll(role, "_", "")
	if len(r) > 4 {
		r = r[:4]
	}
	return fmt.Sprintf("%s%s%dr%d", ClientOrderPrefix(positionID), r, leg, attempt)
}

// ClientOrderPrefix общий префикс всех ордеров позиции.
func ClientOrderPrefix(positionID string) string {
	id := strings.ReplaceAll(positionID, "-", "")
	if len(id) > 16 {
		id = id[:16]
	}
	return "sb" + id
}

// IsOwnClientOrderID ордер выставлен этим ботом.
func IsOwnClientOrderID(id string) bool {
	return strings.HasPrefix(id, "sb") && len(id) > 2
}

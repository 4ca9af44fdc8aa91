package risk

import "errors"

var (
	ErrInvalidBalance       = errors.New("balance is not positive")
	ErrNoReferencePrice     = errors.New("no reference price for market entry")
	ErrMissingStopLoss      = errors.New("no stop-loss to size against")
	ErrZeroStopDistance     = errors.New("entry equals stop-loss")
	ErrStopWrongSide        = errors.New("stop-loss on wrong side of reference price")
	ErrTakeProfitWrongSide  = errors.New("take-profit on wrong side of reference price")
	ErrQuantityBelowMinimum = errors.New("quantity below instrument minimum")
	ErrInsufficientMargin   = errors.New("notional exceeds balance * leverage")
	ErrTakeProfitAllocation = errors.New("take-profit ladder does not fit position size")
)

// RiskError сигнал нельзя исполнить в заданных лимитах. До биржи не доходит.
type RiskError struct {
	Kind   error
	Detail string
}

func (e *RiskError) Error() string {
	if e.Detail == "" {
		return "risk: " + e.Kind.Error()
	}
	return "risk: " + e.Kind.Error() + ": " + e.Detail
}

func (e *RiskError) Unwrap() error { return e.Kind }

func reject(kind error, detail string) *RiskError {
	return &RiskError{Kind: kind, Detail: detail}
}

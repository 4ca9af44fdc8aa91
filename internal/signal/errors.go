package signal

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyMessage        = errors.New("empty message")
	ErrNotASignal          = errors.New("not a trading signal")
	ErrMissingSymbol       = errors.New("symbol not found")
	ErrInvalidSymbol       = errors.New("invalid symbol")
	ErrMissingDirection    = errors.New("direction not found")
	ErrAmbiguousDirection  = errors.New("both long and short found")
	ErrMissingLeverage     = errors.New("leverage not found")
	ErrInvalidLeverage     = errors.New("invalid leverage")
	ErrMissingEntry        = errors.New("entry not found")
	ErrMalformedNumber     = errors.New("malformed number")
	ErrMissingStopLoss     = errors.New("stop-loss not found")
	ErrStopLossWrongSide   = errors.New("stop-loss on wrong side of entry")
	ErrTakeProfitWrongSide = errors.New("take-profit on wrong side of entry")
	ErrAllocationOverflow  = errors.New("take-profit allocations exceed 100%")
)

// ParseError причина, по которой сообщение не стало сигналом.
// errors.Is(err, ErrXxx) работает через Unwrap.
type ParseError struct {
	Kind   error
	Field  string
	Line   int
	Detail string
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse signal: ")
	b.WriteString(e.Kind.Error())
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s", e.Field)
		if e.Line > 0 {
			fmt.Fprintf(&b, ", line %d", e.Line)
		}
		b.WriteString(")")
	} else if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Kind }

func newErr(kind error, field string, line int, detail string) *ParseError {
	return &ParseError{Kind: kind, Field: field, Line: line, Detail: detail}
}

// IsChatter сообщение просто не похоже на сигнал, уведомлять не нужно.
func IsChatter(err error) bool {
	return errors.Is(err, ErrNotASignal) || errors.Is(err, ErrEmptyMessage)
}

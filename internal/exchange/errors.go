package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Error ответ биржи. Transient: таймаут, лимит запросов, 5xx. Остальное постоянное.
type Error struct {
	Op        string
	Code      string
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("exchange %s: %s error code=%s msg=%s", e.Op, kind, e.Code, e.Message)
}

func Permanent(op, code, msg string) *Error {
	return &Error{Op: op, Code: code, Message: msg}
}

func Transient(op, code, msg string) *Error {
	return &Error{Op: op, Code: code, Message: msg, Transient: true}
}

// IsTransient ошибку стоит повторить.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}

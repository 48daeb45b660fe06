package connectors

import (
	"errors"
	"fmt"
)

// ErrPriceUnavailable means the feed has no price for the requested symbol.
// The scheduler logs it and retries on the next tick.
var ErrPriceUnavailable = errors.New("price unavailable")

// ExecutionError is returned when the exchange rejects an order. Permanent
// rejections (invalid symbol, insufficient balance) must not be retried;
// transient ones are retried on the next tick or next call.
type ExecutionError struct {
	Op        string
	Code      int
	Msg       string
	Permanent bool
}

func (e *ExecutionError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("execution error (%s) in %s: code=%d msg=%s", kind, e.Op, e.Code, e.Msg)
}

// IsPermanentExecutionError reports whether err is a non-retryable exchange
// rejection.
func IsPermanentExecutionError(err error) bool {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Permanent
	}
	return false
}

package connectors

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceFeed supplies the last traded price per symbol per market type.
type PriceFeed interface {
	GetPrice(ctx context.Context, symbol, marketType string) (decimal.Decimal, error)
}

// OpenResult is the exchange's answer to an open order.
type OpenResult struct {
	OrderID   string
	FillPrice decimal.Decimal
}

// ExecutionGateway places and closes orders on the exchange. Implementations
// must honor the context deadline and classify rejections through
// ExecutionError.
type ExecutionGateway interface {
	OpenPosition(ctx context.Context, symbol, side string, quantity decimal.Decimal, leverage int) (*OpenResult, error)
	// ClosePosition reduces the position by quantity. clientOrderID is the
	// idempotency key: retrying with the same id must not double-execute on
	// the exchange.
	ClosePosition(ctx context.Context, symbol, side string, quantity decimal.Decimal, clientOrderID string) (decimal.Decimal, error)
}

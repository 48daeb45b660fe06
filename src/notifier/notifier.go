// Package notifier delivers position events to users. Delivery is
// fire-and-forget: failures are logged and never block trigger processing.
package notifier

import "context"

// Event is one user-visible position lifecycle notification.
type Event struct {
	Kind       string // opened | take_profit | stop_loss | liquidation | closed | failed
	PositionID string
	Symbol     string
	Message    string
}

type Notifier interface {
	Notify(ctx context.Context, userID uint, event Event)
}

// Noop discards every event. Used when no notification channel is configured.
type Noop struct{}

func (Noop) Notify(ctx context.Context, userID uint, event Event) {}

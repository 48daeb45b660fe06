// Package trigger evaluates liquidation, stop-loss and take-profit conditions
// for open positions and executes the resulting closes.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"positionmanager/src/connectors"
	"positionmanager/src/model"
	"positionmanager/src/notifier"
	"positionmanager/src/risk"
	"positionmanager/src/store"
)

const (
	KindNone        = "none"
	KindLiquidation = "liquidation"
	KindStopLoss    = "stop_loss"
	KindTakeProfit  = "take_profit"
)

// Decision is the single action selected for one position on one price tick.
// Priority is liquidation > stop-loss > take-profit: liquidation pre-empts
// everything, and at most one TP level fires per tick.
type Decision struct {
	Kind string
	// Quantity to close, in base units.
	Quantity decimal.Decimal
	// Level is set for take-profit decisions.
	Level *model.TakeProfitLevel
}

type closeEventSink interface {
	Create(ctx context.Context, event *model.PartialCloseEvent) error
}

// rejectedTrigger carries a permanent exchange rejection out of the store
// update so the user can be told after the disarm is persisted.
type rejectedTrigger struct {
	kind   string
	reason string
}

// Engine owns trigger-driven position mutation. Every state change runs inside
// one store.Update call so a concurrent tick never observes a half-applied
// trigger.
type Engine struct {
	store    *store.PositionStore
	gateway  connectors.ExecutionGateway
	events   closeEventSink
	notifier notifier.Notifier
	now      func() time.Time
}

func NewEngine(positions *store.PositionStore, gateway connectors.ExecutionGateway, events closeEventSink, n notifier.Notifier) *Engine {
	if n == nil {
		n = notifier.Noop{}
	}

	return &Engine{
		store:    positions,
		gateway:  gateway,
		events:   events,
		notifier: n,
		now:      time.Now,
	}
}

// resolveStopTarget lazily converts a percentage stop into an absolute target.
func resolveStopTarget(pos *model.Position, sl *model.StopLoss) decimal.Decimal {
	if sl.TargetPrice > 0 {
		return decimal.NewFromFloat(sl.TargetPrice)
	}

	target := risk.ResolveTargetPrice(
		sl.PriceType,
		decimal.NewFromFloat(sl.Value),
		decimal.NewFromFloat(pos.EntryPrice),
		pos.Side,
		false,
	)
	sl.TargetPrice, _ = target.Float64()
	return target
}

// UpdateTrailingStop recomputes the trailing candidate from the current price
// and adopts it only when it tightens the stop in the direction of profit.
// The stop ratchets and never loosens; adverse ticks leave it untouched.
func UpdateTrailingStop(pos *model.Position, price decimal.Decimal) bool {
	sl := pos.StopLoss
	if sl == nil || !sl.Trailing || sl.Executed || sl.TrailingDistance <= 0 {
		return false
	}

	current := resolveStopTarget(pos, sl)
	distance := decimal.NewFromFloat(sl.TrailingDistance).Div(decimal.NewFromInt(100))

	var candidate decimal.Decimal
	var tighter bool
	if pos.Side == model.SideShort {
		candidate = price.Mul(decimal.NewFromInt(1).Add(distance))
		tighter = candidate.LessThan(current)
	} else {
		candidate = price.Mul(decimal.NewFromInt(1).Sub(distance))
		tighter = candidate.GreaterThan(current)
	}

	if !tighter {
		return false
	}

	sl.TargetPrice, _ = candidate.Float64()
	return true
}

// crossedAdverse reports whether price has crossed threshold against the
// position: for a long this is price <= threshold, for a short price >=
// threshold.
func crossedAdverse(side string, price, threshold decimal.Decimal) bool {
	if side == model.SideShort {
		return price.GreaterThanOrEqual(threshold)
	}
	return price.LessThanOrEqual(threshold)
}

// reachedFavorable reports whether price has reached threshold in the
// profitable direction.
func reachedFavorable(side string, price, threshold decimal.Decimal) bool {
	if side == model.SideShort {
		return price.LessThanOrEqual(threshold)
	}
	return price.GreaterThanOrEqual(threshold)
}

// Evaluate picks the single action for this tick. It mutates only the
// trailing stop target (the ratchet), never quantities or flags.
func Evaluate(pos *model.Position, price decimal.Decimal) Decision {
	if !pos.IsOpen() {
		return Decision{Kind: KindNone}
	}

	remaining := decimal.NewFromFloat(pos.RemainingQuantity)

	// 1) Liquidation pre-empts SL/TP for this tick.
	if pos.Leverage > 1 && pos.LiquidationPrice != nil {
		if crossedAdverse(pos.Side, price, decimal.NewFromFloat(*pos.LiquidationPrice)) {
			return Decision{Kind: KindLiquidation, Quantity: remaining}
		}
	}

	// 2) Stop loss, with the trailing ratchet applied first.
	if sl := pos.StopLoss; sl != nil && !sl.Executed {
		UpdateTrailingStop(pos, price)
		target := resolveStopTarget(pos, sl)

		if crossedAdverse(pos.Side, price, target) {
			return Decision{Kind: KindStopLoss, Quantity: remaining}
		}
	}

	// 3) First unexecuted TP level in ascending order. Only one level fires
	// per tick even if several thresholds are simultaneously satisfied; the
	// rest are re-evaluated next tick.
	for i := range pos.TakeProfits {
		level := &pos.TakeProfits[i]
		if level.Executed {
			continue
		}

		if !reachedFavorable(pos.Side, price, decimal.NewFromFloat(level.TargetPrice)) {
			break
		}

		pct := decimal.NewFromFloat(level.ClosePercentage).Div(decimal.NewFromInt(100))
		qty := remaining.Mul(pct)
		if qty.GreaterThan(remaining) {
			qty = remaining
		}

		return Decision{Kind: KindTakeProfit, Quantity: qty, Level: level}
	}

	return Decision{Kind: KindNone}
}

// Apply runs one trigger evaluation for the position against price and
// executes the selected action. The whole read-evaluate-execute-persist cycle
// happens under the position's exclusive lock.
func (e *Engine) Apply(ctx context.Context, positionID string, price decimal.Decimal) error {
	var executed *model.PartialCloseEvent
	var rejected *rejectedTrigger
	var userID uint
	var symbol string

	err := e.store.Update(ctx, positionID, func(pos *model.Position) error {
		if !pos.IsOpen() {
			return nil
		}

		userID = pos.UserID
		symbol = pos.Symbol

		now := e.now()
		pos.CurrentPrice, _ = price.Float64()
		pos.LastPriceUpdate = &now

		decision := Evaluate(pos, price)

		entry := decimal.NewFromFloat(pos.EntryPrice)
		remaining := decimal.NewFromFloat(pos.RemainingQuantity)
		pos.UnrealizedPnl, _ = risk.UnrealizedPnl(entry, price, remaining, pos.Side).Float64()

		if decision.Kind == KindNone {
			// Persist the price refresh and any trailing ratchet.
			return nil
		}

		// Mark the trigger executed before the exchange call so a retry after
		// a crash reuses the same idempotency key instead of re-deciding.
		clientOrderID := closeOrderID(pos.PositionID, decision)
		markExecuted(pos, decision)

		fill, err := e.gateway.ClosePosition(ctx, pos.Symbol, pos.Side, decision.Quantity, clientOrderID)
		if err != nil {
			if decision.Kind != KindLiquidation && connectors.IsPermanentExecutionError(err) {
				// The exchange rejected the order for good (invalid symbol,
				// insufficient balance). Persist the executed flag set above so
				// the trigger disarms instead of re-firing every tick;
				// quantities and status stay untouched.
				rejected = &rejectedTrigger{kind: decision.Kind, reason: err.Error()}
				return nil
			}

			// Transient rejection: nothing is persisted, the position stays
			// untouched and the trigger re-fires on the next tick. Liquidation
			// closes always re-fire; the fixed client order id keeps the
			// retries idempotent on the exchange.
			return fmt.Errorf("close %s for %s: %w", decision.Kind, pos.PositionID, err)
		}

		setExecutedPrice(pos, decision, fill)

		pnl := risk.RealizedPnl(entry, fill, decision.Quantity, pos.Side)
		pos.RealizedPnl, _ = decimal.NewFromFloat(pos.RealizedPnl).Add(pnl).Float64()

		newRemaining := remaining.Sub(decision.Quantity)
		if newRemaining.IsNegative() {
			newRemaining = decimal.Zero
		}
		pos.RemainingQuantity, _ = newRemaining.Float64()

		if newRemaining.IsZero() {
			pos.Status = model.PositionStatusClosed
		} else {
			pos.Status = model.PositionStatusPartiallyClosed
		}

		remainingAfter := newRemaining
		pos.UnrealizedPnl, _ = risk.UnrealizedPnl(entry, price, remainingAfter, pos.Side).Float64()

		event := &model.PartialCloseEvent{
			PositionID: pos.PositionID,
			UserID:     pos.UserID,
			Trigger:    decision.Kind,
			Quantity:   toFloat(decision.Quantity),
			Price:      toFloat(fill),
			Pnl:        toFloat(pnl),
		}
		if decision.Level != nil {
			n := decision.Level.LevelNumber
			event.LevelNumber = &n
		}
		executed = event

		logger.WithFields(map[string]interface{}{
			"position_id": pos.PositionID,
			"trigger":     decision.Kind,
			"qty":         event.Quantity,
			"fill":        event.Price,
			"pnl":         event.Pnl,
			"remaining":   pos.RemainingQuantity,
			"status":      pos.Status,
		}).Info("trigger executed")

		return nil
	})

	if err != nil {
		return err
	}

	if rejected != nil {
		logger.WithFields(map[string]interface{}{
			"position_id": positionID,
			"trigger":     rejected.kind,
			"reason":      rejected.reason,
		}).Error("trigger permanently rejected by exchange, disarmed")

		e.notifier.Notify(ctx, userID, notifier.Event{
			Kind:       "failed",
			PositionID: positionID,
			Symbol:     symbol,
			Message: fmt.Sprintf("%s on %s rejected by exchange: %s",
				rejected.kind, symbol, rejected.reason),
		})

		return nil
	}

	if executed != nil {
		if err := e.events.Create(ctx, executed); err != nil {
			logger.WithError(err).WithField("position_id", positionID).
				Error("failed to append close event")
		}

		e.notifier.Notify(ctx, userID, notifier.Event{
			Kind:       executed.Trigger,
			PositionID: positionID,
			Symbol:     symbol,
			Message: fmt.Sprintf("%s on %s: closed %.8g @ %.8g (pnl %.8g)",
				executed.Trigger, symbol, executed.Quantity, executed.Price, executed.Pnl),
		})
	}

	return nil
}

func markExecuted(pos *model.Position, decision Decision) {
	switch decision.Kind {
	case KindTakeProfit:
		decision.Level.Executed = true
	case KindStopLoss, KindLiquidation:
		if pos.StopLoss != nil {
			pos.StopLoss.Executed = true
		}
	}
}

func setExecutedPrice(pos *model.Position, decision Decision, fill decimal.Decimal) {
	price := toFloat(fill)
	switch decision.Kind {
	case KindTakeProfit:
		decision.Level.ExecutedPrice = &price
	case KindStopLoss:
		if pos.StopLoss != nil {
			pos.StopLoss.ExecutedPrice = &price
		}
	}
}

// closeOrderID derives the exchange idempotency key from the position and the
// trigger identity, so a crash/retry between decide and place cannot
// double-execute.
func closeOrderID(positionID string, decision Decision) string {
	switch decision.Kind {
	case KindTakeProfit:
		return fmt.Sprintf("pm-%s-tp%d", positionID, decision.Level.LevelNumber)
	case KindLiquidation:
		return fmt.Sprintf("pm-%s-liq", positionID)
	default:
		return fmt.Sprintf("pm-%s-sl", positionID)
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Package manager owns position creation and the user-initiated close path.
// Trigger-driven mutation lives in src/trigger; both funnel every write
// through the position store.
package manager

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"positionmanager/src/connectors"
	"positionmanager/src/model"
	"positionmanager/src/notifier"
	"positionmanager/src/risk"
	"positionmanager/src/router"
	"positionmanager/src/store"
)

type closeEventSink interface {
	Create(ctx context.Context, event *model.PartialCloseEvent) error
	FindByPositionID(ctx context.Context, positionID string) ([]model.PartialCloseEvent, error)
}

// PositionManager creates positions from routed signals or direct API calls
// and services user-initiated partial/full closes.
type PositionManager struct {
	config   Config
	store    *store.PositionStore
	gateway  connectors.ExecutionGateway
	events   closeEventSink
	notifier notifier.Notifier
	now      func() time.Time
}

func NewPositionManager(config Config, positions *store.PositionStore, gateway connectors.ExecutionGateway, events closeEventSink, n notifier.Notifier) *PositionManager {
	if n == nil {
		n = notifier.Noop{}
	}

	return &PositionManager{
		config:   config,
		store:    positions,
		gateway:  gateway,
		events:   events,
		notifier: n,
		now:      time.Now,
	}
}

// OpenParams describes a position to open, whether it originates from a
// routed signal or directly from the chat/UI layer.
type OpenParams struct {
	PositionID string // optional, generated when empty
	SignalID   string
	Symbol     string
	Side       string
	MarketType string
	Quantity   float64
	Leverage   int
}

// CreateManagedPosition opens the position on the exchange and persists it.
// The liquidation price is computed once here, from the actual fill price.
func (m *PositionManager) CreateManagedPosition(ctx context.Context, userID uint, params OpenParams) (*model.Position, error) {
	if params.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}

	leverage := params.Leverage
	if leverage < 1 {
		leverage = m.config.DefaultLeverage
	}
	if leverage > m.config.MaxLeverage {
		return nil, fmt.Errorf("leverage %d exceeds maximum %d", leverage, m.config.MaxLeverage)
	}

	if params.MarketType == "" {
		params.MarketType = model.MarketTypeFutures
	}
	if params.MarketType == model.MarketTypeSpot && leverage > 1 {
		return nil, fmt.Errorf("spot positions cannot be leveraged")
	}

	positionID := params.PositionID
	if positionID == "" {
		positionID = uuid.NewString()
	}

	qty := decimal.NewFromFloat(params.Quantity)

	result, err := m.gateway.OpenPosition(ctx, params.Symbol, params.Side, qty, leverage)
	if err != nil {
		return nil, err
	}

	entry := result.FillPrice
	mmr := decimal.NewFromFloat(m.config.MaintenanceMarginRate)

	position := &model.Position{
		PositionID:        positionID,
		UserID:            userID,
		SignalID:          params.SignalID,
		Symbol:            params.Symbol,
		Side:              params.Side,
		MarketType:        params.MarketType,
		EntryPrice:        toFloat(entry),
		Quantity:          params.Quantity,
		RemainingQuantity: params.Quantity,
		Leverage:          leverage,
		MarginAmount:      toFloat(risk.MarginAmount(entry, qty, leverage)),
		CurrentPrice:      toFloat(entry),
		ExchangeOrderID:   result.OrderID,
		Status:            model.PositionStatusOpen,
		OpenTime:          m.now(),
	}

	if liq := risk.LiquidationPrice(entry, leverage, mmr, params.Side); liq != nil {
		v := toFloat(*liq)
		position.LiquidationPrice = &v
	}

	if err := m.store.Create(ctx, position); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"position_id": positionID,
		"user_id":     userID,
		"symbol":      params.Symbol,
		"side":        params.Side,
		"qty":         params.Quantity,
		"leverage":    leverage,
		"entry":       position.EntryPrice,
	}).Info("managed position created")

	m.notifier.Notify(ctx, userID, notifier.Event{
		Kind:       "opened",
		PositionID: positionID,
		Symbol:     params.Symbol,
		Message:    fmt.Sprintf("opened %s %s x%d @ %.8g", params.Side, params.Symbol, leverage, position.EntryPrice),
	})

	return position, nil
}

// OpenFromDirective executes an open directive produced by the signal router
// and commits the signal status with the outcome.
func (m *PositionManager) OpenFromDirective(ctx context.Context, r *router.Router, directive *router.Directive, sig *router.InboundSignal) (*model.Position, error) {
	params := OpenParams{
		SignalID:   directive.Signal.SignalID,
		Symbol:     directive.Signal.Symbol,
		Side:       directive.Side,
		MarketType: directive.MarketType,
		Quantity:   sig.Amount,
		Leverage:   sig.Leverage,
	}

	position, err := m.CreateManagedPosition(ctx, directive.Signal.UserID, params)
	if err != nil {
		if markErr := r.MarkFailed(ctx, directive.Signal.SignalID, err.Error()); markErr != nil {
			logger.WithError(markErr).Error("failed to mark signal failed")
		}
		return nil, err
	}

	if err := r.MarkExecuted(ctx, directive.Signal.SignalID); err != nil {
		logger.WithError(err).Error("failed to mark signal executed")
	}

	return position, nil
}

// CloseFromDirective fully closes every position a close directive resolved.
func (m *PositionManager) CloseFromDirective(ctx context.Context, r *router.Router, directive *router.Directive) error {
	var firstErr error
	for i := range directive.Positions {
		if _, _, err := m.close(ctx, directive.Positions[i].PositionID, 100, model.CloseTriggerManual); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		if markErr := r.MarkFailed(ctx, directive.Signal.SignalID, firstErr.Error()); markErr != nil {
			logger.WithError(markErr).Error("failed to mark signal failed")
		}
		return firstErr
	}

	return r.MarkExecuted(ctx, directive.Signal.SignalID)
}

// AddTakeProfit attaches one TP level to an open position. Percentage targets
// are resolved to an absolute price immediately. Levels must keep ascending
// target order relative to distance from entry.
func (m *PositionManager) AddTakeProfit(ctx context.Context, positionID string, level model.TakeProfitLevel) error {
	if level.ClosePercentage <= 0 || level.ClosePercentage > 100 {
		return fmt.Errorf("close_percentage must be in (0,100]")
	}

	return m.store.Update(ctx, positionID, func(pos *model.Position) error {
		if !pos.IsOpen() {
			return fmt.Errorf("position %s is closed", positionID)
		}

		target := risk.ResolveTargetPrice(
			level.PriceType,
			decimal.NewFromFloat(level.Value),
			decimal.NewFromFloat(pos.EntryPrice),
			pos.Side,
			true,
		)
		level.TargetPrice = toFloat(target)

		if level.LevelNumber == 0 {
			level.LevelNumber = len(pos.TakeProfits) + 1
		}

		entry := decimal.NewFromFloat(pos.EntryPrice)
		distance := target.Sub(entry).Abs()
		for i := range pos.TakeProfits {
			other := &pos.TakeProfits[i]
			if other.LevelNumber == level.LevelNumber {
				return fmt.Errorf("take profit level %d already exists", level.LevelNumber)
			}

			// The ladder must ascend with level numbers: an out-of-order
			// target would sit behind a lower rung and never fire.
			otherDistance := decimal.NewFromFloat(other.TargetPrice).Sub(entry).Abs()
			if other.LevelNumber < level.LevelNumber && !distance.GreaterThan(otherDistance) {
				return fmt.Errorf("take profit level %d target must be beyond level %d", level.LevelNumber, other.LevelNumber)
			}
			if other.LevelNumber > level.LevelNumber && !distance.LessThan(otherDistance) {
				return fmt.Errorf("take profit level %d target must be before level %d", level.LevelNumber, other.LevelNumber)
			}
		}

		pos.TakeProfits = append(pos.TakeProfits, level)
		sort.SliceStable(pos.TakeProfits, func(i, j int) bool {
			return pos.TakeProfits[i].LevelNumber < pos.TakeProfits[j].LevelNumber
		})

		return nil
	})
}

// SetStopLoss attaches or replaces the stop loss of an open position.
func (m *PositionManager) SetStopLoss(ctx context.Context, positionID string, sl model.StopLoss) error {
	return m.store.Update(ctx, positionID, func(pos *model.Position) error {
		if !pos.IsOpen() {
			return fmt.Errorf("position %s is closed", positionID)
		}

		target := risk.ResolveTargetPrice(
			sl.PriceType,
			decimal.NewFromFloat(sl.Value),
			decimal.NewFromFloat(pos.EntryPrice),
			pos.Side,
			false,
		)
		sl.TargetPrice = toFloat(target)

		if pos.StopLoss != nil {
			sl.ID = pos.StopLoss.ID
			sl.PositionRef = pos.StopLoss.PositionRef
		}
		pos.StopLoss = &sl

		return nil
	})
}

// PartialClose closes percentage of the remaining quantity at market.
func (m *PositionManager) PartialClose(ctx context.Context, positionID string, percentage float64) (bool, string) {
	ok, msg, _ := m.close(ctx, positionID, percentage, model.CloseTriggerManual)
	return ok, msg
}

// FullClose closes whatever remains of the position.
func (m *PositionManager) FullClose(ctx context.Context, positionID string) (bool, string) {
	ok, msg, _ := m.close(ctx, positionID, 100, model.CloseTriggerManual)
	return ok, msg
}

func (m *PositionManager) close(ctx context.Context, positionID string, percentage float64, trigger string) (bool, string, error) {
	if percentage <= 0 || percentage > 100 {
		return false, "percentage must be in (0,100]", fmt.Errorf("invalid percentage %v", percentage)
	}

	var event *model.PartialCloseEvent
	var userID uint
	var symbol string

	err := m.store.Update(ctx, positionID, func(pos *model.Position) error {
		if !pos.IsOpen() {
			return fmt.Errorf("position %s is already closed", positionID)
		}

		userID = pos.UserID
		symbol = pos.Symbol

		remaining := decimal.NewFromFloat(pos.RemainingQuantity)
		qty := remaining.Mul(decimal.NewFromFloat(percentage)).Div(decimal.NewFromInt(100))
		if qty.GreaterThan(remaining) || percentage == 100 {
			qty = remaining
		}

		clientOrderID := fmt.Sprintf("pm-%s-man-%d", pos.PositionID, m.now().UnixNano())

		fill, err := m.gateway.ClosePosition(ctx, pos.Symbol, pos.Side, qty, clientOrderID)
		if err != nil {
			return err
		}

		entry := decimal.NewFromFloat(pos.EntryPrice)
		pnl := risk.RealizedPnl(entry, fill, qty, pos.Side)
		pos.RealizedPnl, _ = decimal.NewFromFloat(pos.RealizedPnl).Add(pnl).Float64()

		newRemaining := remaining.Sub(qty)
		if newRemaining.IsNegative() {
			newRemaining = decimal.Zero
		}
		pos.RemainingQuantity, _ = newRemaining.Float64()

		if newRemaining.IsZero() {
			pos.Status = model.PositionStatusClosed
		} else {
			pos.Status = model.PositionStatusPartiallyClosed
		}

		pos.CurrentPrice = toFloat(fill)
		pos.UnrealizedPnl, _ = risk.UnrealizedPnl(entry, fill, newRemaining, pos.Side).Float64()

		event = &model.PartialCloseEvent{
			PositionID: pos.PositionID,
			UserID:     pos.UserID,
			Trigger:    trigger,
			Quantity:   toFloat(qty),
			Price:      toFloat(fill),
			Pnl:        toFloat(pnl),
		}

		return nil
	})

	if err != nil {
		logger.WithError(err).WithField("position_id", positionID).Warn("close failed")
		return false, err.Error(), err
	}

	if event != nil {
		if err := m.events.Create(ctx, event); err != nil {
			logger.WithError(err).WithField("position_id", positionID).
				Error("failed to append close event")
		}

		m.notifier.Notify(ctx, userID, notifier.Event{
			Kind:       "closed",
			PositionID: positionID,
			Symbol:     symbol,
			Message:    fmt.Sprintf("closed %.8g of %s @ %.8g (pnl %.8g)", event.Quantity, symbol, event.Price, event.Pnl),
		})
	}

	return true, "closed", nil
}

// Position fetches one position by id. Returns store.ErrPositionNotFound when
// the id resolves to nothing.
func (m *PositionManager) Position(ctx context.Context, positionID string) (*model.Position, error) {
	return m.store.Get(ctx, positionID)
}

// ListOpenPositions returns the user's open positions with their TP/SL config.
func (m *PositionManager) ListOpenPositions(ctx context.Context, userID uint) ([]model.Position, error) {
	return m.store.ListOpenByUser(ctx, userID)
}

// CloseHistory returns the audit trail of a position.
func (m *PositionManager) CloseHistory(ctx context.Context, positionID string) ([]model.PartialCloseEvent, error) {
	return m.events.FindByPositionID(ctx, positionID)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

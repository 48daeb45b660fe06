// Package executors drives the periodic price/trigger tick loop.
package executors

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"positionmanager/src/connectors"
	"positionmanager/src/model"
	"positionmanager/src/repository"
	"positionmanager/src/store"
	"positionmanager/src/trigger"
)

// Scheduler fetches one price per distinct (symbol, market type) tuple across
// all open positions and feeds the trigger engine. One background worker runs
// the loop; position mutation itself is serialized by the position store.
type Scheduler struct {
	config Config
	store  *store.PositionStore
	feed   connectors.PriceFeed
	engine *trigger.Engine

	// newTicker is injectable so tests can drive ticks deterministically.
	newTicker func(d time.Duration) (<-chan time.Time, func())
}

func NewScheduler(config Config, positions *store.PositionStore, feed connectors.PriceFeed, engine *trigger.Engine) *Scheduler {
	return &Scheduler{
		config: config,
		store:  positions,
		feed:   feed,
		engine: engine,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Run executes the tick loop until the context is canceled. The in-flight
// tick always finishes before Run returns, so no position is left
// mid-mutation.
func (s *Scheduler) Run(ctx context.Context) error {
	ticks, stop := s.newTicker(s.config.LoopPeriod)
	defer stop()

	logger.WithField("period", s.config.LoopPeriod).Info("scheduler started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return nil

		case <-ticks:
			s.Tick(ctx)
		}
	}
}

// Tick runs one full evaluation cycle. A price fetch failure for one symbol
// never blocks evaluation of the others, and one position's failure never
// aborts the tick.
func (s *Scheduler) Tick(ctx context.Context) {
	tuples, err := s.store.DistinctOpenSymbols(ctx)
	if err != nil {
		logger.WithError(err).Error("tick: failed to list open symbols")
		return
	}

	if len(tuples) == 0 {
		return
	}

	prices := s.fetchPrices(ctx, tuples)
	if len(prices) == 0 {
		logger.Warn("tick: no prices available, skipping evaluation")
		return
	}

	positions, err := s.store.ListOpen(ctx)
	if err != nil {
		logger.WithError(err).Error("tick: failed to list open positions")
		return
	}

	evaluated := 0
	for i := range positions {
		pos := &positions[i]

		price, ok := prices[priceKey(pos.Symbol, pos.MarketType)]
		if !ok {
			continue
		}

		if err := s.engine.Apply(ctx, pos.PositionID, price); err != nil {
			// Left unchanged for retry on the next tick.
			logger.WithError(err).WithFields(map[string]interface{}{
				"position_id": pos.PositionID,
				"symbol":      pos.Symbol,
			}).Error("tick: trigger apply failed")
			continue
		}
		evaluated++
	}

	logger.WithFields(map[string]interface{}{
		"symbols":   len(prices),
		"positions": evaluated,
	}).Debug("tick completed")
}

func (s *Scheduler) fetchPrices(ctx context.Context, tuples []repository.SymbolMarket) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(tuples))

	for _, tuple := range tuples {
		fetchCtx, cancel := context.WithTimeout(ctx, s.config.PriceTimeout)
		price, err := s.feed.GetPrice(fetchCtx, tuple.Symbol, tuple.MarketType)
		cancel()

		if err != nil {
			logger.WithError(err).WithFields(map[string]interface{}{
				"symbol":      tuple.Symbol,
				"market_type": tuple.MarketType,
			}).Warn("tick: price fetch failed, will retry next tick")
			continue
		}

		prices[priceKey(tuple.Symbol, tuple.MarketType)] = price
	}

	return prices
}

func priceKey(symbol, marketType string) string {
	if marketType == "" {
		marketType = model.MarketTypeFutures
	}
	return symbol + "|" + marketType
}

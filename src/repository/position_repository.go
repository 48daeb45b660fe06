package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"positionmanager/src/database"
	"positionmanager/src/model"
)

// PositionRepository handles read/write operations for managed positions and
// their TP/SL associations.
type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new repository instance using the main read/write database.
func NewPositionRepository() *PositionRepository {
	logger.WithField("component", "PositionRepository").
		Info("Creating new PositionRepository with MainDB")

	return &PositionRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	logger.WithField("component", "PositionRepository").
		Debug("Creating PositionRepository with custom DB instance")

	return &PositionRepository{db: db}
}

// Create inserts a new position together with its TP/SL associations.
func (r *PositionRepository) Create(
	ctx context.Context,
	position *model.Position,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "Create",
		"position_id": position.PositionID,
		"symbol":      position.Symbol,
		"side":        position.Side,
		"qty":         position.Quantity,
	}).Debug("Creating new position")

	err := r.db.WithContext(ctx).Create(position).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "Create",
			"position_id": position.PositionID,
		}).WithError(err).Error("Failed to create position")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "Create",
		"position_id": position.PositionID,
	}).Info("Position created successfully")

	return nil
}

// FindByPositionID fetches a single position by its external position id,
// preloading the TP ladder and stop loss. Returns (nil, nil) if not found.
func (r *PositionRepository) FindByPositionID(
	ctx context.Context,
	positionID string,
) (*model.Position, error) {

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "FindByPositionID",
		"position_id": positionID,
	}).Debug("Fetching position")

	var position model.Position

	err := r.db.WithContext(ctx).
		Preload("TakeProfits", func(db *gorm.DB) *gorm.DB {
			return db.Order("level_number ASC")
		}).
		Preload("StopLoss").
		Where("position_id = ?", positionID).
		First(&position).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo":        "PositionRepository",
				"op":          "FindByPositionID",
				"position_id": positionID,
			}).Info("Position not found")
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "FindByPositionID",
			"position_id": positionID,
		}).WithError(err).Error("Failed to fetch position")

		return nil, err
	}

	return &position, nil
}

// FindOpenByUser returns every position of a user that can still trigger.
func (r *PositionRepository) FindOpenByUser(
	ctx context.Context,
	userID uint,
) ([]model.Position, error) {

	var positions []model.Position

	err := r.db.WithContext(ctx).
		Preload("TakeProfits", func(db *gorm.DB) *gorm.DB {
			return db.Order("level_number ASC")
		}).
		Preload("StopLoss").
		Where("user_id = ? AND status <> ?", userID, model.PositionStatusClosed).
		Order("open_time DESC").
		Find(&positions).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "PositionRepository",
			"op":      "FindOpenByUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch open positions")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "FindOpenByUser",
		"user_id":     userID,
		"rows_return": len(positions),
	}).Debug("Open positions fetched")

	return positions, nil
}

// FindOpenBySignal returns open positions created by the given originating
// signal, scoped to the user and symbol of an incoming close-by-reference
// signal.
func (r *PositionRepository) FindOpenBySignal(
	ctx context.Context,
	userID uint,
	signalID string,
	symbol string,
) ([]model.Position, error) {

	var positions []model.Position

	err := r.db.WithContext(ctx).
		Preload("TakeProfits").
		Preload("StopLoss").
		Where("user_id = ? AND signal_id = ? AND symbol = ? AND status <> ?",
			userID, signalID, symbol, model.PositionStatusClosed).
		Find(&positions).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "PositionRepository",
			"op":        "FindOpenBySignal",
			"user_id":   userID,
			"signal_id": signalID,
			"symbol":    symbol,
		}).WithError(err).Error("Failed to fetch positions by signal")

		return nil, err
	}

	return positions, nil
}

// FindAllOpen returns every open or partially closed position across all
// users. Used by the trigger loop.
func (r *PositionRepository) FindAllOpen(
	ctx context.Context,
) ([]model.Position, error) {

	var positions []model.Position

	err := r.db.WithContext(ctx).
		Preload("TakeProfits", func(db *gorm.DB) *gorm.DB {
			return db.Order("level_number ASC")
		}).
		Preload("StopLoss").
		Where("status <> ?", model.PositionStatusClosed).
		Find(&positions).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "FindAllOpen",
		}).WithError(err).Error("Failed to fetch open positions")

		return nil, err
	}

	return positions, nil
}

// SymbolMarket is one distinct (symbol, market type) tuple needed by the price
// tick. N positions on the same tuple cost one price fetch.
type SymbolMarket struct {
	Symbol     string
	MarketType string
}

// DistinctOpenSymbols returns the deduplicated symbol/market tuples across all
// open positions.
func (r *PositionRepository) DistinctOpenSymbols(
	ctx context.Context,
) ([]SymbolMarket, error) {

	var tuples []SymbolMarket

	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Distinct("symbol", "market_type").
		Where("status <> ?", model.PositionStatusClosed).
		Find(&tuples).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "DistinctOpenSymbols",
		}).WithError(err).Error("Failed to fetch distinct open symbols")

		return nil, err
	}

	return tuples, nil
}

// Save persists the full position row including TP/SL association changes.
// Callers must only reach this through the position store update path.
func (r *PositionRepository) Save(
	ctx context.Context,
	position *model.Position,
) error {

	err := r.db.WithContext(ctx).
		Session(&gorm.Session{FullSaveAssociations: true}).
		Save(position).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "Save",
			"position_id": position.PositionID,
		}).WithError(err).Error("Failed to save position")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "Save",
		"position_id": position.PositionID,
		"status":      position.Status,
		"remaining":   position.RemainingQuantity,
	}).Debug("Position saved")

	return nil
}

package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"positionmanager/src/database"
	"positionmanager/src/model"
)

// ErrDuplicateSignal is returned when a signal with the same signal_id was
// already persisted. The unique constraint on signal_id makes this the
// idempotency guard even under concurrent retries.
var ErrDuplicateSignal = errors.New("signal already recorded")

// SignalRepository handles persistence of inbound trading signals.
type SignalRepository struct {
	db *gorm.DB
}

// NewSignalRepository creates a new repository instance using the main read/write database.
func NewSignalRepository() *SignalRepository {
	logger.WithField("component", "SignalRepository").
		Info("Creating new SignalRepository with MainDB")

	return &SignalRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *SignalRepository) WithDB(db *gorm.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// Create inserts a new signal row. A violation of the signal_id unique
// constraint is translated into ErrDuplicateSignal.
func (r *SignalRepository) Create(
	ctx context.Context,
	signal *model.Signal,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":        "SignalRepository",
		"op":          "Create",
		"signal_id":   signal.SignalID,
		"signal_type": signal.SignalType,
		"symbol":      signal.Symbol,
	}).Debug("Creating new signal")

	err := r.db.WithContext(ctx).Create(signal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.WithFields(map[string]interface{}{
				"repo":      "SignalRepository",
				"op":        "Create",
				"signal_id": signal.SignalID,
			}).Info("Duplicate signal id, not persisting")

			return ErrDuplicateSignal
		}

		logger.WithFields(map[string]interface{}{
			"repo":      "SignalRepository",
			"op":        "Create",
			"signal_id": signal.SignalID,
		}).WithError(err).Error("Failed to create signal")

		return err
	}

	return nil
}

// FindBySignalID fetches a signal by its external id. Returns (nil, nil) when
// not found.
func (r *SignalRepository) FindBySignalID(
	ctx context.Context,
	signalID string,
) (*model.Signal, error) {

	var signal model.Signal

	err := r.db.WithContext(ctx).
		Where("signal_id = ?", signalID).
		First(&signal).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":      "SignalRepository",
			"op":        "FindBySignalID",
			"signal_id": signalID,
		}).WithError(err).Error("Failed to fetch signal")

		return nil, err
	}

	return &signal, nil
}

// UpdateStatus transitions the status of an existing signal and records the
// reason. Signals are write-once apart from this transition.
func (r *SignalRepository) UpdateStatus(
	ctx context.Context,
	signalID string,
	status string,
	reason string,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":      "SignalRepository",
		"op":        "UpdateStatus",
		"signal_id": signalID,
		"status":    status,
		"reason":    reason,
	}).Debug("Updating signal status")

	err := r.db.WithContext(ctx).
		Model(&model.Signal{}).
		Where("signal_id = ?", signalID).
		Updates(map[string]interface{}{
			"status": status,
			"reason": reason,
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "SignalRepository",
			"op":        "UpdateStatus",
			"signal_id": signalID,
		}).WithError(err).Error("Failed to update signal status")

		return err
	}

	return nil
}

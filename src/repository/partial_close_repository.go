package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"positionmanager/src/database"
	"positionmanager/src/model"
)

// PartialCloseRepository persists the append-only close audit log.
type PartialCloseRepository struct {
	db *gorm.DB
}

// NewPartialCloseRepository creates a new repository instance using the main read/write database.
func NewPartialCloseRepository() *PartialCloseRepository {
	return &PartialCloseRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *PartialCloseRepository) WithDB(db *gorm.DB) *PartialCloseRepository {
	return &PartialCloseRepository{db: db}
}

// Create appends one close event. Events are never updated or deleted.
func (r *PartialCloseRepository) Create(
	ctx context.Context,
	event *model.PartialCloseEvent,
) error {

	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PartialCloseRepository",
			"op":          "Create",
			"position_id": event.PositionID,
			"trigger":     event.Trigger,
		}).WithError(err).Error("Failed to append close event")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "PartialCloseRepository",
		"op":          "Create",
		"position_id": event.PositionID,
		"trigger":     event.Trigger,
		"qty":         event.Quantity,
		"price":       event.Price,
	}).Info("Close event appended")

	return nil
}

// FindByPositionID returns the close history of a position, oldest first.
func (r *PartialCloseRepository) FindByPositionID(
	ctx context.Context,
	positionID string,
) ([]model.PartialCloseEvent, error) {

	var events []model.PartialCloseEvent

	err := r.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("id ASC").
		Find(&events).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PartialCloseRepository",
			"op":          "FindByPositionID",
			"position_id": positionID,
		}).WithError(err).Error("Failed to fetch close events")

		return nil, err
	}

	return events, nil
}

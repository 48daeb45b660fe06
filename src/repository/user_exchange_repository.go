package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"positionmanager/src/database"
	"positionmanager/src/model"
)

type GormUserExchangeRepository struct {
	db *gorm.DB
}

func NewUserExchangeRepository() *GormUserExchangeRepository {
	logger.WithField("component", "GormUserExchangeRepository").
		Info("Creating new GormUserExchangeRepository with MainDB")

	return &GormUserExchangeRepository{
		db: database.MainDB,
	}
}

func (r *GormUserExchangeRepository) WithDB(db *gorm.DB) *GormUserExchangeRepository {
	return &GormUserExchangeRepository{db: db}
}

// GetByUser returns the exchange credentials record for the given user.
// Returns (nil, nil) when the user never configured credentials.
func (r *GormUserExchangeRepository) GetByUser(
	ctx context.Context,
	userID uint,
) (*model.UserExchange, error) {

	var ue model.UserExchange
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&ue).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &ue, nil
}

// Upsert creates the credentials record or refreshes the encrypted keys when
// the user already has one.
func (r *GormUserExchangeRepository) Upsert(
	ctx context.Context,
	ue *model.UserExchange,
) error {

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"api_key",
				"api_secret",
				"enabled",
				"updated_at",
			}),
		}).
		Create(ue).Error
}

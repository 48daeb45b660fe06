package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"positionmanager/src/database"
	"positionmanager/src/model"
)

type GormUserRepository struct {
	db *gorm.DB
}

func NewUserRepository() *GormUserRepository {
	logger.WithField("component", "GormUserRepository").
		Info("Creating new GormUserRepository with MainDB")

	return &GormUserRepository{
		db: database.MainDB,
	}
}

func (r *GormUserRepository) WithDB(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) GetByID(
	ctx context.Context,
	id uint,
) (*model.User, error) {

	var u model.User
	err := r.db.WithContext(ctx).
		First(&u, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &u, nil
}

func (r *GormUserRepository) GetByUsername(
	ctx context.Context,
	username string,
) (*model.User, error) {

	var u model.User
	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		First(&u).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &u, nil
}

// ChatIDForUser returns the Telegram chat configured for the user. A zero
// chat id means the user never linked the bot.
func (r *GormUserRepository) ChatIDForUser(
	ctx context.Context,
	userID uint,
) (int64, error) {

	u, err := r.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if u == nil || u.TelegramChatID == 0 {
		return 0, errors.New("no telegram chat configured for user")
	}

	return u.TelegramChatID, nil
}

// ListActive returns all users eligible for notification delivery and webhook
// ingestion.
func (r *GormUserRepository) ListActive(
	ctx context.Context,
) ([]model.User, error) {

	var users []model.User
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Find(&users).Error

	if err != nil {
		return nil, err
	}

	return users, nil
}

// Package keys manages stored exchange credentials from the command line.
// Keys are encrypted before they ever reach the database.
package keys

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"positionmanager/src/database"
	"positionmanager/src/model"
	"positionmanager/src/repository"
	"positionmanager/src/security"
)

type Keys struct {
}

// SetKey encrypts and upserts the exchange credentials for a user, enabling
// the user for the scheduler loop.
func (k *Keys) SetKey(username, apiKey, apiSecret string) error {
	ctx := context.Background()

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	userRep := repository.NewUserRepository()

	user, err := userRep.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %q not found", username)
	}

	encryptedKey, err := security.EncryptString(apiKey)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}

	encryptedSecret, err := security.EncryptString(apiSecret)
	if err != nil {
		return fmt.Errorf("encrypt api secret: %w", err)
	}

	ue := &model.UserExchange{
		UserID:        user.ID,
		APIKeyHash:    encryptedKey,
		APISecretHash: encryptedSecret,
		Enabled:       true,
	}

	if err := repository.NewUserExchangeRepository().Upsert(ctx, ue); err != nil {
		return err
	}

	logrus.WithFields(map[string]interface{}{
		"username": username,
		"user_id":  user.ID,
	}).Info("Exchange credentials stored")

	return nil
}

// ListUsers prints every active user so an operator can see who is eligible
// for signal ingestion and credential setup.
func (k *Keys) ListUsers() error {
	ctx := context.Background()

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	users, err := repository.NewUserRepository().ListActive(ctx)
	if err != nil {
		return err
	}

	for _, u := range users {
		_, _ = fmt.Fprintf(os.Stdout, "%d\t%s\n", u.ID, u.Username)
	}

	return nil
}

package executors

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"

	"positionmanager/src/connectors"
	"positionmanager/src/notifier"
	"positionmanager/src/repository"
	"positionmanager/src/security"
	"positionmanager/src/store"
	"positionmanager/src/trigger"
)

// StartLoop wires the tick loop from configuration and runs it until the
// context is canceled. Exchange credentials are read from the executor user's
// stored record and decrypted here, never logged.
func StartLoop(ctx context.Context) error {
	config := GetConfig()

	userName := config.Username
	if userName == "" {
		return errors.New("EXECUTOR_USERNAME not set")
	}

	userRep := repository.NewUserRepository()
	userExchangeRep := repository.NewUserExchangeRepository()
	positionRep := repository.NewPositionRepository()
	closeEventRep := repository.NewPartialCloseRepository()

	user, err := userRep.GetByUsername(ctx, userName)
	if err != nil || user == nil {
		logger.
			WithField("userName", userName).
			Error("Failed to resolve executor user")
		if err == nil {
			err = errors.New("executor user not found")
		}
		return err
	}

	logger.Info("GetByUser call. get user exchange setting, verify key/secret")
	userExchange, err := userExchangeRep.GetByUser(ctx, user.ID)
	if err != nil || userExchange == nil {
		logger.WithError(err).Error("Failed to GetByUser")
		if err == nil {
			err = errors.New("no exchange credentials configured")
		}
		return err
	}

	if !userExchange.Enabled {
		return errors.New("exchange credentials disabled for executor user")
	}

	if userExchange.APIKeyHash == "" || userExchange.APISecretHash == "" {
		logger.Error("No valid key/secret set for exchange")
		return errors.New("empty exchange key/secret")
	}

	apiKey, err := security.DecryptString(userExchange.APIKeyHash)
	if err != nil {
		logger.WithError(err).Error("Failed to decrypt API Key")
		return err
	}
	apiSecret, err := security.DecryptString(userExchange.APISecretHash)
	if err != nil {
		logger.WithError(err).Error("Failed to decrypt API Secret")
		return err
	}

	connConfig := connectors.GetConfig()
	gateway := connectors.NewPhemexGateway(apiKey, apiSecret, connConfig)

	positions := store.NewPositionStore(positionRep)

	feed, err := buildFeed(ctx, config, connConfig, positions)
	if err != nil {
		return err
	}

	n := buildNotifier(userRep)

	engine := trigger.NewEngine(positions, gateway, closeEventRep, n)
	scheduler := NewScheduler(config, positions, feed, engine)

	return scheduler.Run(ctx)
}

// buildFeed picks the price source. The websocket stream needs the symbol
// list upfront, so it subscribes to whatever is open at startup; newly opened
// symbols are only picked up on restart, REST polling has no such limit.
func buildFeed(ctx context.Context, config Config, connConfig connectors.Config, positions *store.PositionStore) (connectors.PriceFeed, error) {
	if !config.UseStream {
		return connectors.NewBinanceFeed(nil), nil
	}

	tuples, err := positions.DistinctOpenSymbols(ctx)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(tuples))
	for _, tuple := range tuples {
		symbols = append(symbols, tuple.Symbol)
	}

	stream := connectors.NewPriceStream(connConfig.StreamURL, symbols)
	go stream.Run(ctx)

	return stream, nil
}

func buildNotifier(users *repository.GormUserRepository) notifier.Notifier {
	notifierConfig := notifier.GetConfig()
	if notifierConfig.BotToken == "" {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, notifications disabled")
		return notifier.Noop{}
	}

	return notifier.NewTelegramNotifier(notifierConfig, users)
}

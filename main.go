package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"positionmanager/src/connectors"
	"positionmanager/src/database"
	"positionmanager/src/manager"
	"positionmanager/src/notifier"
	"positionmanager/src/repository"
	"positionmanager/src/router"
	"positionmanager/src/server"
	"positionmanager/src/store"
)

var (
	APP_NAME = os.Getenv("APP_NAME")
)

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	userRep := repository.NewUserRepository()
	signalRep := repository.NewSignalRepository()
	positionRep := repository.NewPositionRepository()
	closeEventRep := repository.NewPartialCloseRepository()
	exceptionRep := repository.NewExceptionRepository()

	positions := store.NewPositionStore(positionRep)
	signalRouter := router.NewRouter(signalRep, positions)

	gateway := buildGateway()
	n := buildNotifier(userRep)

	positionManager := manager.NewPositionManager(
		manager.GetConfig(),
		positions,
		gateway,
		closeEventRep,
		n,
	)

	serverConfig := server.GetConfig()
	server.StartServer(serverConfig.Port, server.Deps{
		Users:      userRep,
		Router:     signalRouter,
		Manager:    positionManager,
		Exceptions: exceptionRep,
	})
}

// buildGateway builds the exchange client for API-initiated opens and closes.
// Scheduler runs use the executor user's stored credentials instead.
func buildGateway() connectors.ExecutionGateway {
	apiKey := os.Getenv("PHEMEX_API_KEY")
	apiSecret := os.Getenv("PHEMEX_API_SECRET")

	if apiKey == "" || apiSecret == "" {
		logger.Warn("PHEMEX_API_KEY/PHEMEX_API_SECRET not set, exchange calls will be rejected")
	}

	return connectors.NewPhemexGateway(apiKey, apiSecret, connectors.GetConfig())
}

func buildNotifier(users *repository.GormUserRepository) notifier.Notifier {
	config := notifier.GetConfig()
	if config.BotToken == "" {
		return notifier.Noop{}
	}
	return notifier.NewTelegramNotifier(config, users)
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}

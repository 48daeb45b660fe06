package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kelseyhightower/envconfig"
	logger "github.com/sirupsen/logrus"
)

type Config struct {
	BotToken string        `envconfig:"TELEGRAM_BOT_TOKEN"`
	Timeout  time.Duration `envconfig:"TELEGRAM_TIMEOUT" default:"5s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// ChatResolver maps an internal user id to a Telegram chat id. Satisfied by
// the user repository.
type ChatResolver interface {
	ChatIDForUser(ctx context.Context, userID uint) (int64, error)
}

// TelegramNotifier posts events to the Telegram bot API.
type TelegramNotifier struct {
	http     *resty.Client
	resolver ChatResolver
}

func NewTelegramNotifier(config Config, resolver ChatResolver) *TelegramNotifier {
	httpClient := resty.New().
		SetBaseURL(fmt.Sprintf("https://api.telegram.org/bot%s", config.BotToken)).
		SetTimeout(config.Timeout)

	return &TelegramNotifier{
		http:     httpClient,
		resolver: resolver,
	}
}

// Notify sends the event to the user's chat. Failures are logged only; the
// caller never waits on or reacts to delivery problems.
func (t *TelegramNotifier) Notify(ctx context.Context, userID uint, event Event) {
	chatID, err := t.resolver.ChatIDForUser(ctx, userID)
	if err != nil || chatID == 0 {
		logger.WithFields(map[string]interface{}{
			"component": "TelegramNotifier",
			"user_id":   userID,
			"kind":      event.Kind,
		}).WithError(err).Warn("no telegram chat for user, dropping notification")
		return
	}

	text := event.Message
	if text == "" {
		text = fmt.Sprintf("[%s] %s %s", event.Kind, event.Symbol, event.PositionID)
	}

	resp, err := t.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id": fmt.Sprintf("%d", chatID),
			"text":    text,
		}).
		Post("/sendMessage")

	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Warn("telegram send failed")
		return
	}

	if resp.StatusCode() != 200 {
		logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"status":  resp.StatusCode(),
		}).Warn("telegram send rejected")
	}
}

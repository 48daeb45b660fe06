package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BaseURL        string        `envconfig:"EXCHANGE_BASE_URL" default:"https://testnet-api.phemex.com"`
	StreamURL      string        `envconfig:"EXCHANGE_STREAM_URL" default:"wss://testnet-api.phemex.com/ws"`
	RequestTimeout time.Duration `envconfig:"EXCHANGE_REQUEST_TIMEOUT" default:"15s"`
	RetryAttempts  int           `envconfig:"EXCHANGE_RETRY_ATTEMPTS" default:"5"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LoopPeriod   time.Duration `envconfig:"LOOP_PERIOD" default:"15s"`
	PriceTimeout time.Duration `envconfig:"PRICE_TIMEOUT" default:"5s"`
	Username     string        `envconfig:"EXECUTOR_USERNAME"`
	// UseStream switches the price source from REST polling to the
	// websocket tick stream.
	UseStream bool `envconfig:"USE_PRICE_STREAM" default:"false"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

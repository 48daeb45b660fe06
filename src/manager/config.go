package manager

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MaintenanceMarginRate float64 `envconfig:"MAINTENANCE_MARGIN_RATE" default:"0.005"`
	DefaultLeverage       int     `envconfig:"DEFAULT_LEVERAGE" default:"1"`
	MaxLeverage           int     `envconfig:"MAX_LEVERAGE" default:"100"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: 18790,
			Bind: "loopback",
		},
		Fleet: FleetConfig{
			BackoffBase:   time.Second,
			BackoffMax:    60 * time.Second,
			ProvisionWait: 30 * time.Second,
		},
		Provision: ProvisionConfig{
			Mode: "none",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

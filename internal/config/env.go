package config

import (
	"os"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. Secrets
// (Phoenix password, macaroon root key, database DSN, upstream API keys)
// are only ever read from the environment.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "ABL_SERVER_ADDRESS")

	// Logging config
	setIfEnv(&c.Logging.Level, "ABL_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "ABL_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "ABL_ENVIRONMENT")

	// Database config
	setIfEnv(&c.Database.DSN, "DATABASE_URL")

	// Phoenix config
	setIfEnv(&c.Phoenix.URL, "PHOENIX_URL")
	c.Phoenix.Password = os.Getenv("PHOENIX_PASSWORD")
	setDurationIfEnv(&c.Phoenix.Timeout, "PHOENIX_TIMEOUT")

	// L402 config
	setIfEnv(&c.L402.Location, "L402_LOCATION")
	c.L402.RootKeyHex = strings.TrimSpace(os.Getenv("L402_ROOT_KEY"))

	// BTC price config
	setIfEnv(&c.BTCPrice.Source, "ABL_BTC_PRICE_SOURCE")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

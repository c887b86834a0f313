// Package config loads gateway configuration from a YAML file with
// environment variable overrides for secrets and deployment knobs.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:     ":8080",
			ReadTimeout: Duration{Duration: 15 * time.Second},
			// Write timeout stays 0: streaming proxy responses can run
			// for minutes and per-request deadlines live in the proxy.
			WriteTimeout: Duration{Duration: 0},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Database: DatabaseConfig{
			MinConns: 1,
			MaxConns: 5,
		},
		Phoenix: PhoenixConfig{
			URL:     "http://localhost:9740",
			Timeout: Duration{Duration: 20 * time.Second},
		},
		L402: L402Config{
			Location: "alittlebitofmoney",
		},
		BTCPrice: BTCPriceConfig{
			Source:       "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd",
			CacheSeconds: 300,
			Timeout:      Duration{Duration: 8 * time.Second},
		},
		Hire: HireConfig{
			Enabled:      true,
			TaskFeeSats:  50,
			QuoteFeeSats: 10,
		},
		Monitoring: MonitoringConfig{
			LowBalanceThresholdSats: 50000,
			CheckInterval:           Duration{Duration: 5 * time.Minute},
			Timeout:                 Duration{Duration: 10 * time.Second},
		},
		RateLimit: RateLimitConfig{
			// Generous limits - designed to prevent spam, not restrict legitimate use
			GlobalEnabled: true,
			GlobalLimit:   1000,
			GlobalWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:  true,
			PerIPLimit:    120,
			PerIPWindow:   Duration{Duration: 1 * time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Phoenix: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			BTCPrice: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second}, // price is display-only, trip longer
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
		},
		MaxRequestBytes:                32768,
		InvoiceExpiry:                  600,
		UsedHashTTLSeconds:             3600,
		UsedHashCleanupIntervalSeconds: 300,
		APIs:                           map[string]APIConfig{},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

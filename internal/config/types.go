package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Database       DatabaseConfig       `yaml:"database"`
	Phoenix        PhoenixConfig        `yaml:"phoenix"`
	L402           L402Config           `yaml:"l402"`
	BTCPrice       BTCPriceConfig       `yaml:"btc_price"`
	Hire           HireConfig           `yaml:"hire"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	// Flat gateway options.
	MaxRequestBytes                int64 `yaml:"max_request_bytes"`
	InvoiceExpiry                  int   `yaml:"invoice_expiry"` // seconds
	UsedHashTTLSeconds             int   `yaml:"used_hash_ttl_seconds"`
	UsedHashCleanupIntervalSeconds int   `yaml:"used_hash_cleanup_interval_seconds"`

	// APIs maps a short name ("openai") to an upstream proxy configuration.
	APIs map[string]APIConfig `yaml:"apis"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"` // 0 keeps streaming proxy responses alive
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// DatabaseConfig holds Postgres connection settings.
// When DSN is unreachable at startup the fallbacks are tried in order;
// if every candidate fails the server runs on in-memory stores with a warning.
type DatabaseConfig struct {
	DSN          string   `yaml:"dsn"`
	FallbackDSNs []string `yaml:"fallback_dsns"`
	MinConns     int32    `yaml:"min_conns"`
	MaxConns     int32    `yaml:"max_conns"`
}

// PhoenixConfig holds the Lightning node HTTP API settings.
// The password is only read from the PHOENIX_PASSWORD environment variable.
type PhoenixConfig struct {
	URL      string   `yaml:"url"`
	Password string   `yaml:"-"`
	Timeout  Duration `yaml:"timeout"`
}

// L402Config holds macaroon minting settings.
// The root key is only read from the L402_ROOT_KEY environment variable
// (64 hex chars); when unset an ephemeral key is generated and a warning
// is logged because restart invalidates outstanding macaroons.
type L402Config struct {
	Location   string `yaml:"location"`
	RootKeyHex string `yaml:"-"`
}

// BTCPriceConfig holds BTC/USD spot price fetch settings for catalog display.
type BTCPriceConfig struct {
	Source       string   `yaml:"source"`
	CacheSeconds int      `yaml:"cache_seconds"`
	Timeout      Duration `yaml:"timeout"`
}

// HireConfig holds marketplace posting fees.
type HireConfig struct {
	Enabled      bool  `yaml:"enabled"`
	TaskFeeSats  int64 `yaml:"task_fee_sats"`
	QuoteFeeSats int64 `yaml:"quote_fee_sats"`
}

// MonitoringConfig holds the node balance monitor settings. The monitor is
// disabled unless an alert URL is configured.
type MonitoringConfig struct {
	LowBalanceAlertURL      string            `yaml:"low_balance_alert_url"`
	LowBalanceThresholdSats int64             `yaml:"low_balance_threshold_sats"`
	CheckInterval           Duration          `yaml:"check_interval"`
	Timeout                 Duration          `yaml:"timeout"`
	Headers                 map[string]string `yaml:"headers"`
}

// RateLimitConfig holds rate limiting configuration.
// Designed to prevent spam, not restrict legitimate use.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
// The upstream AI proxy deliberately carries no breaker: by the time a request
// reaches it the payment is already consumed, so failing fast helps nobody.
type CircuitBreakerConfig struct {
	Enabled  bool                 `yaml:"enabled"`
	Phoenix  BreakerServiceConfig `yaml:"phoenix"`
	BTCPrice BreakerServiceConfig `yaml:"btc_price"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}

// APIConfig describes one upstream provider exposed through the gateway.
type APIConfig struct {
	Name         string            `yaml:"name"`
	UpstreamBase string            `yaml:"upstream_base"`
	APIKeyEnv    string            `yaml:"api_key_env"`
	AuthHeader   string            `yaml:"auth_header"` // default: Authorization
	AuthPrefix   string            `yaml:"auth_prefix"` // e.g. "Bearer "
	ExtraHeaders map[string]string `yaml:"extra_headers"`
	Endpoints    []EndpointConfig  `yaml:"endpoints"`
}

// EndpointConfig describes one billable endpoint of an upstream API.
type EndpointConfig struct {
	Path            string                 `yaml:"path"`
	Method          string                 `yaml:"method"`     // default: POST
	PriceType       string                 `yaml:"price_type"` // flat | per_model
	PriceSats       int64                  `yaml:"price_sats"`
	Models          map[string]ModelConfig `yaml:"models"`
	MaxRequestBytes int64                  `yaml:"max_request_bytes"` // 0 = use global default
	DailyLimit      int                    `yaml:"daily_limit"`       // 0 = unlimited
	Description     string                 `yaml:"description"`
	Example         map[string]interface{} `yaml:"example"`
}

// ModelConfig holds per-model pricing. In YAML a model entry is either a bare
// integer (price in sats) or a mapping with price_sats and an optional
// max_output_tokens cap.
type ModelConfig struct {
	PriceSats       int64 `yaml:"price_sats"`
	MaxOutputTokens int   `yaml:"max_output_tokens"`
}

// UnmarshalYAML accepts both the scalar and mapping forms.
func (m *ModelConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var sats int64
		if err := value.Decode(&sats); err != nil {
			return fmt.Errorf("invalid model price %q: %w", value.Value, err)
		}
		m.PriceSats = sats
		m.MaxOutputTokens = 0
		return nil
	}

	type plain ModelConfig
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*m = ModelConfig(p)
	return nil
}

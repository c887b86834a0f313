package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	// Apply defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Database.MinConns <= 0 {
		c.Database.MinConns = 1
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 5
	}
	if c.MaxRequestBytes <= 0 {
		c.MaxRequestBytes = 32768
	}
	if c.InvoiceExpiry <= 0 {
		c.InvoiceExpiry = 600
	}
	if c.UsedHashTTLSeconds <= 0 {
		c.UsedHashTTLSeconds = 3600
	}
	if c.UsedHashCleanupIntervalSeconds <= 0 {
		c.UsedHashCleanupIntervalSeconds = 300
	}
	if c.Hire.TaskFeeSats <= 0 {
		c.Hire.TaskFeeSats = 50
	}
	if c.Hire.QuoteFeeSats <= 0 {
		c.Hire.QuoteFeeSats = 10
	}
	if c.BTCPrice.CacheSeconds <= 0 {
		c.BTCPrice.CacheSeconds = 300
	}

	// Normalize per-API defaults
	for name, api := range c.APIs {
		if api.Name == "" {
			api.Name = name
		}
		if api.AuthHeader == "" {
			api.AuthHeader = "Authorization"
		}
		api.UpstreamBase = strings.TrimRight(api.UpstreamBase, "/")
		for i := range api.Endpoints {
			ep := &api.Endpoints[i]
			if ep.Method == "" {
				ep.Method = "POST"
			}
			ep.Method = strings.ToUpper(ep.Method)
			ep.Path = strings.TrimRight(ep.Path, "/")
			if ep.Path != "" && !strings.HasPrefix(ep.Path, "/") {
				ep.Path = "/" + ep.Path
			}
		}
		c.APIs[name] = api
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	if c.L402.RootKeyHex != "" {
		key, err := hex.DecodeString(c.L402.RootKeyHex)
		if err != nil || len(key) != 32 {
			errs = append(errs, "L402_ROOT_KEY must be 64 hex characters (32 bytes)")
		}
	}

	for name, api := range c.APIs {
		if api.UpstreamBase == "" {
			errs = append(errs, fmt.Sprintf("apis.%s.upstream_base is required", name))
		}
		for _, ep := range api.Endpoints {
			if ep.Path == "" {
				errs = append(errs, fmt.Sprintf("apis.%s has an endpoint without a path", name))
				continue
			}
			switch ep.PriceType {
			case "flat":
				if ep.PriceSats <= 0 {
					errs = append(errs, fmt.Sprintf("apis.%s endpoint %s: flat pricing requires price_sats > 0", name, ep.Path))
				}
			case "per_model":
				if len(ep.Models) == 0 {
					errs = append(errs, fmt.Sprintf("apis.%s endpoint %s: per_model pricing requires a models map", name, ep.Path))
				}
				for model, mc := range ep.Models {
					if mc.PriceSats <= 0 {
						errs = append(errs, fmt.Sprintf("apis.%s endpoint %s: model %q requires price_sats > 0", name, ep.Path, model))
					}
				}
			default:
				errs = append(errs, fmt.Sprintf("apis.%s endpoint %s: price_type must be 'flat' or 'per_model', got %q", name, ep.Path, ep.PriceType))
			}
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Package btcprice fetches and caches the BTC/USD spot price used for
// display-only USD estimates in the catalog. Pricing itself is always in
// sats; a stale or missing price never blocks a request.
package btcprice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/alittlebitofmoney/server/internal/circuitbreaker"
)

// Fetcher caches the spot price for a configurable window. Lookups outside
// the window refresh under a lock with a double-check so concurrent catalog
// requests trigger at most one upstream fetch.
type Fetcher struct {
	source   string
	cacheTTL time.Duration
	http     *http.Client
	breakers *circuitbreaker.Manager

	mu        sync.Mutex
	price     float64
	updatedAt time.Time
	have      bool
}

// New creates a Fetcher. A nil breaker manager disables breaking.
func New(source string, cacheTTL, timeout time.Duration, breakers *circuitbreaker.Manager) *Fetcher {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if breakers == nil {
		breakers = circuitbreaker.NewManager(circuitbreaker.Config{Enabled: false})
	}
	return &Fetcher{
		source:   source,
		cacheTTL: cacheTTL,
		http:     &http.Client{Timeout: timeout},
		breakers: breakers,
	}
}

// Get returns the cached BTC/USD price, refreshing it when stale. ok is
// false only when no fetch has ever succeeded; otherwise the last known
// price is returned even if the refresh failed.
func (f *Fetcher) Get(ctx context.Context) (price float64, updatedAt time.Time, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.have && time.Since(f.updatedAt) < f.cacheTTL {
		return f.price, f.updatedAt, true
	}

	fetched, err := f.fetch(ctx)
	if err == nil {
		f.price = fetched
		f.updatedAt = time.Now()
		f.have = true
	}
	// Stale value beats no value.
	return f.price, f.updatedAt, f.have
}

func (f *Fetcher) fetch(ctx context.Context) (float64, error) {
	result, err := f.breakers.Execute(circuitbreaker.ServiceBTCPrice, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.source, nil)
		if err != nil {
			return 0.0, err
		}
		resp, err := f.http.Do(req)
		if err != nil {
			return 0.0, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return 0.0, fmt.Errorf("price source returned %d", resp.StatusCode)
		}

		var payload map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return 0.0, err
		}
		return parsePrice(payload)
	})
	if err != nil {
		return 0, err
	}
	return result.(float64), nil
}

// parsePrice understands the coingecko simple-price shape
// {"bitcoin":{"usd":N}} and the coinbase spot shape {"data":{"amount":"N"}}.
func parsePrice(payload map[string]interface{}) (float64, error) {
	if btc, ok := payload["bitcoin"].(map[string]interface{}); ok {
		if usd, ok := btc["usd"].(float64); ok {
			return usd, nil
		}
	}
	if data, ok := payload["data"].(map[string]interface{}); ok {
		if amount, ok := data["amount"].(string); ok {
			var usd float64
			if _, err := fmt.Sscanf(amount, "%f", &usd); err == nil {
				return usd, nil
			}
		}
	}
	return 0, errors.New("unrecognized price payload")
}

// SatsToUSDCents converts a sats amount to USD cents at the given price,
// rounded half-up to a tenth of a cent. Returns nil when no price is known.
func SatsToUSDCents(sats int64, btcUSD float64, havePrice bool) *float64 {
	if !havePrice {
		return nil
	}
	cents := float64(sats) * btcUSD / 1e8 * 100
	rounded := math.Floor(cents*10+0.5) / 10
	return &rounded
}

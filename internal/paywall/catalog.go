package paywall

import (
	"sort"

	"github.com/alittlebitofmoney/server/internal/btcprice"
	"github.com/alittlebitofmoney/server/internal/config"
)

// CatalogEndpoint is one priced endpoint in the public catalog.
type CatalogEndpoint struct {
	Path          string                  `json:"path"`
	Method        string                  `json:"method"`
	PriceType     string                  `json:"price_type"`
	Description   string                  `json:"description"`
	Example       map[string]interface{}  `json:"example,omitempty"`
	PriceSats     *int64                  `json:"price_sats,omitempty"`
	PriceUSDCents *float64                `json:"price_usd_cents,omitempty"`
	Models        map[string]CatalogModel `json:"models,omitempty"`
}

// CatalogModel is per-model pricing in the catalog.
type CatalogModel struct {
	PriceSats     int64    `json:"price_sats"`
	PriceUSDCents *float64 `json:"price_usd_cents,omitempty"`
}

// CatalogAPI groups an upstream's endpoints.
type CatalogAPI struct {
	Name      string            `json:"name"`
	Endpoints []CatalogEndpoint `json:"endpoints"`
}

// Catalog is the full public price list with the BTC/USD conversion used to
// compute the cent figures.
type Catalog struct {
	BTCUSD          *float64              `json:"btc_usd"`
	BTCUSDUpdatedAt *string               `json:"btc_usd_updated_at"`
	APIs            map[string]CatalogAPI `json:"apis"`
}

// BuildCatalog renders the configured APIs with sat prices and, when a spot
// price is known, USD cents.
func BuildCatalog(cfg *config.Config, btcUSD float64, updatedAtISO string, havePrice bool) Catalog {
	catalog := Catalog{APIs: make(map[string]CatalogAPI, len(cfg.APIs))}
	if havePrice {
		price := btcUSD
		catalog.BTCUSD = &price
		if updatedAtISO != "" {
			at := updatedAtISO
			catalog.BTCUSDUpdatedAt = &at
		}
	}

	for apiName, api := range cfg.APIs {
		endpoints := make([]CatalogEndpoint, 0, len(api.Endpoints))
		for _, ep := range api.Endpoints {
			item := CatalogEndpoint{
				Path:        ep.Path,
				Method:      ep.Method,
				PriceType:   ep.PriceType,
				Description: ep.Description,
				Example:     ep.Example,
			}

			switch ep.PriceType {
			case "flat":
				sats := ep.PriceSats
				item.PriceSats = &sats
				item.PriceUSDCents = btcprice.SatsToUSDCents(sats, btcUSD, havePrice)
			case "per_model":
				item.Models = make(map[string]CatalogModel, len(ep.Models))
				for name, mc := range ep.Models {
					item.Models[name] = CatalogModel{
						PriceSats:     mc.PriceSats,
						PriceUSDCents: btcprice.SatsToUSDCents(mc.PriceSats, btcUSD, havePrice),
					}
				}
			}
			endpoints = append(endpoints, item)
		}
		sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Path < endpoints[j].Path })
		catalog.APIs[apiName] = CatalogAPI{Name: api.Name, Endpoints: endpoints}
	}
	return catalog
}

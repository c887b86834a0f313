// Package paywall implements the payment gate in front of the upstream
// proxy: endpoint resolution, request rewrites, pricing, daily caps, and the
// bearer/L402/challenge authorization branch.
package paywall

import (
	"strings"

	"github.com/alittlebitofmoney/server/internal/config"
)

// Resolve maps an (api, path, method) triple to its configured endpoint. The
// incoming path matches either verbatim or with a /v1 prefix, so clients may
// call /openai/chat/completions or /openai/v1/chat/completions
// interchangeably. Returns the api config even when no endpoint matches so
// the caller can distinguish unknown api from unknown path.
func Resolve(cfg *config.Config, apiName, endpointPath, method string) (*config.APIConfig, *config.EndpointConfig, string) {
	rawPath := "/" + strings.TrimLeft(endpointPath, "/")
	candidates := map[string]bool{
		strings.TrimRight(rawPath, "/"):                                   true,
		strings.TrimRight("/v1/"+strings.TrimLeft(endpointPath, "/"), "/"): true,
	}
	method = strings.ToUpper(method)

	found, ok := cfg.APIs[apiName]
	if !ok {
		return nil, nil, rawPath
	}
	api := &found

	for i := range api.Endpoints {
		ep := &api.Endpoints[i]
		if ep.Method != method {
			continue
		}
		configured := strings.TrimRight(ep.Path, "/")
		if candidates[configured] {
			return api, ep, configured
		}
	}
	return api, nil, rawPath
}

// MaxRequestBytes returns the endpoint's body cap, falling back to the
// global default.
func MaxRequestBytes(cfg *config.Config, ep *config.EndpointConfig) int64 {
	if ep.MaxRequestBytes > 0 {
		return ep.MaxRequestBytes
	}
	return cfg.MaxRequestBytes
}

// Package proxy forwards admitted requests to the configured upstream API,
// injecting the provider credential and relaying the response verbatim,
// streaming when the client asked for it.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apierrors "github.com/alittlebitofmoney/server/internal/errors"
	"github.com/alittlebitofmoney/server/internal/paywall"
)

const (
	defaultTimeout = 180 * time.Second
	slowTimeout    = 600 * time.Second
)

// slowPaths get the extended non-streaming timeout.
var slowPaths = map[string]bool{
	"/v1/video/generations":  true,
	"/v1/responses":          true,
	"/v1/images/generations": true,
	"/v1/images/edits":       true,
}

// streamablePaths may carry stream=true in the body.
var streamablePaths = map[string]bool{
	"/v1/chat/completions": true,
	"/v1/responses":        true,
}

// Proxy relays requests to upstream providers. By the time a request reaches
// it the payment is consumed, so failures surface as 502 rather than being
// retried or broken.
type Proxy struct {
	client *http.Client
	log    zerolog.Logger
}

// New builds a Proxy. Timeouts are applied per request via context, not on
// the client, because streams have none.
func New(log zerolog.Logger) *Proxy {
	return &Proxy{
		client: &http.Client{},
		log:    log.With().Str("component", "proxy").Logger(),
	}
}

// Forward sends the admitted request upstream and writes the response to w.
// The upstream request is bound to the client's context so a client
// disconnect tears down the upstream call.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, adm *paywall.Admission) {
	upstreamURL := strings.TrimRight(adm.API.UpstreamBase, "/") + adm.Path
	if !strings.HasPrefix(upstreamURL, "http") {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUpstreamError, "Invalid upstream URL")
		return
	}

	apiKey := os.Getenv(adm.API.APIKeyEnv)
	if apiKey == "" {
		p.log.Error().Str("api", adm.API.Name).Str("env", adm.API.APIKeyEnv).Msg("proxy.missing_upstream_key")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUpstreamError, "Upstream credential is not configured")
		return
	}

	wantsStream := false
	if streamablePaths[adm.Path] {
		var payload struct {
			Stream bool `json:"stream"`
		}
		if err := json.Unmarshal(adm.Body, &payload); err == nil {
			wantsStream = payload.Stream
		}
	}

	ctx := r.Context()
	var cancel context.CancelFunc
	if !wantsStream {
		timeout := defaultTimeout
		if slowPaths[adm.Path] {
			timeout = slowTimeout
		}
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, adm.Endpoint.Method, upstreamURL, bytes.NewReader(adm.Body))
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUpstreamError, "Upstream request failed: "+err.Error())
		return
	}
	req.Header.Set(adm.API.AuthHeader, adm.API.AuthPrefix+apiKey)
	req.Header.Set("Content-Type", adm.ContentType)
	for name, value := range adm.API.ExtraHeaders {
		req.Header.Set(name, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn().Err(err).Str("url", upstreamURL).Msg("proxy.upstream_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUpstreamError, "Upstream request failed: "+err.Error())
		return
	}
	defer resp.Body.Close()

	if wantsStream {
		p.relayStream(w, resp)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUpstreamError, "Upstream response read failed: "+err.Error())
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

// relayStream copies upstream bytes to the client as they arrive, flushing
// per chunk.
func (p *Proxy) relayStream(w http.ResponseWriter, resp *http.Response) {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/event-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 8192)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

package httpserver

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/alittlebitofmoney/server/internal/errors"
	"github.com/alittlebitofmoney/server/internal/paywall"
)

// gateway is the paid proxy: POST /api/v1/{api}/{path...}. It runs the
// payment gate and, when admitted, forwards upstream.
func (h *handlers) gateway(w http.ResponseWriter, r *http.Request) {
	apiName := chi.URLParam(r, "api")
	endpointPath := chi.URLParam(r, "*")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidRequest, "Could not read request body")
		return
	}
	r.Body.Close()

	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		// X-Token is accepted as an alias for Bearer auth on the gateway.
		if t := strings.TrimSpace(r.Header.Get("X-Token")); t != "" {
			auth = "Bearer " + t
		}
	}

	admission, challenge, gateErr := h.gate.Authorize(r.Context(), paywall.Request{
		APIName:       apiName,
		EndpointPath:  endpointPath,
		Method:        r.Method,
		Authorization: auth,
		Body:          body,
		ContentType:   r.Header.Get("Content-Type"),
	})
	if gateErr != nil {
		if perr, ok := gateErr.(*paywall.Error); ok && h.metrics != nil {
			h.metrics.ObserveGatewayRejection(string(perr.Code))
		}
		writeGateError(w, gateErr)
		return
	}

	if challenge != nil {
		if h.metrics != nil {
			h.metrics.ObserveChallenge("proxy")
		}
		h.writeChallenge(w, challenge, challengeBody{})
		return
	}

	if h.metrics != nil {
		authMode := "none"
		switch {
		case strings.HasPrefix(auth, "Bearer "):
			authMode = "bearer"
		case strings.HasPrefix(auth, "L402 "):
			authMode = "l402"
			h.metrics.ObserveRedemption("proxy")
		}
		h.metrics.ObserveGatewayRequest(apiName, admission.Path, authMode)
	}

	start := time.Now()
	sw := &statusCapture{ResponseWriter: w}
	h.proxy.Forward(sw, r, admission)
	if h.metrics != nil {
		h.metrics.ObserveUpstream(apiName, admission.Path, time.Since(start), sw.status >= 500)
	}
}

// statusCapture records the proxied status for metrics while forwarding
// Flush for streams.
type statusCapture struct {
	http.ResponseWriter
	status int
}

func (s *statusCapture) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusCapture) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

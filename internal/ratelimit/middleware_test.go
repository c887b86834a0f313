package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.GlobalEnabled)
	assert.Equal(t, 1000, cfg.GlobalLimit)
	assert.True(t, cfg.PerIPEnabled)
	assert.Equal(t, 120, cfg.PerIPLimit)
}

func TestGlobalLimiterDisabled(t *testing.T) {
	mw := GlobalLimiter(Config{GlobalEnabled: false})
	srv := mw(okHandler())

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestGlobalLimiterEnforces(t *testing.T) {
	mw := GlobalLimiter(Config{
		GlobalEnabled: true,
		GlobalLimit:   3,
		GlobalWindow:  time.Minute,
	})
	srv := mw(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
}

func TestIPLimiterKeysByIP(t *testing.T) {
	mw := IPLimiter(Config{
		PerIPEnabled: true,
		PerIPLimit:   2,
		PerIPWindow:  time.Minute,
	})
	srv := mw(okHandler())

	send := func(addr string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("1.2.3.4:1111"))
	assert.Equal(t, http.StatusOK, send("1.2.3.4:1111"))
	assert.Equal(t, http.StatusTooManyRequests, send("1.2.3.4:1111"))

	// A different client is unaffected.
	assert.Equal(t, http.StatusOK, send("5.6.7.8:2222"))
}

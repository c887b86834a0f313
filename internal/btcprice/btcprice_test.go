package btcprice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCachesWithinTTL(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"bitcoin":{"usd":65000}}`))
	}))
	defer srv.Close()

	f := New(srv.URL, time.Hour, time.Second, nil)

	price, _, ok := f.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, 65000.0, price)

	// Second lookup hits the cache.
	price, _, ok = f.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, 65000.0, price)
	assert.Equal(t, int64(1), calls.Load())
}

func TestGetRefreshesAfterTTL(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"bitcoin":{"usd":65000}}`))
			return
		}
		w.Write([]byte(`{"bitcoin":{"usd":70000}}`))
	}))
	defer srv.Close()

	f := New(srv.URL, time.Millisecond, time.Second, nil)

	price, _, _ := f.Get(context.Background())
	assert.Equal(t, 65000.0, price)

	time.Sleep(5 * time.Millisecond)

	price, _, _ = f.Get(context.Background())
	assert.Equal(t, 70000.0, price)
}

func TestGetKeepsStaleOnFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"bitcoin":{"usd":65000}}`))
	}))
	defer srv.Close()

	f := New(srv.URL, time.Millisecond, time.Second, nil)

	_, _, ok := f.Get(context.Background())
	require.True(t, ok)

	fail.Store(true)
	time.Sleep(5 * time.Millisecond)

	price, _, ok := f.Get(context.Background())
	assert.True(t, ok, "stale price remains usable")
	assert.Equal(t, 65000.0, price)
}

func TestGetNoPriceEver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := New(srv.URL, time.Minute, time.Second, nil)
	_, _, ok := f.Get(context.Background())
	assert.False(t, ok)
}

func TestParseCoinbaseShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"amount":"64123.45"}}`))
	}))
	defer srv.Close()

	f := New(srv.URL, time.Minute, time.Second, nil)
	price, _, ok := f.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, 64123.45, price)
}

func TestSatsToUSDCents(t *testing.T) {
	// 10 sats at $65,000/BTC = $0.0065 = 0.65 cents -> 0.7 after half-up to 0.1
	got := SatsToUSDCents(10, 65000, true)
	require.NotNil(t, got)
	assert.Equal(t, 0.7, *got)

	// 1000 sats at $65,000/BTC = 65 cents exactly
	got = SatsToUSDCents(1000, 65000, true)
	require.NotNil(t, got)
	assert.Equal(t, 65.0, *got)

	assert.Nil(t, SatsToUSDCents(1000, 0, false))
}

package lightning

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/createinvoice", r.URL.Path)

		_, password, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "secret", password)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "1000", r.PostFormValue("amountSat"))
		assert.Equal(t, "topup", r.PostFormValue("description"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"paymentHash":"ABCDEF","serialized":"lnbc10u1...","amountSat":1000}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", time.Second, nil)
	inv, err := c.CreateInvoice(context.Background(), 1000, "topup")
	require.NoError(t, err)

	assert.Equal(t, "abcdef", inv.PaymentHash, "payment hash is canonicalized to lowercase")
	assert.Equal(t, "lnbc10u1...", inv.Serialized)
	assert.Equal(t, int64(1000), inv.AmountSat)
}

func TestPayInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payinvoice", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "lnbc80n1...", r.PostFormValue("invoice"))

		w.Write([]byte(`{"paymentHash":"aa","paymentPreimage":"bb","recipientAmountSat":8,"routingFeeSat":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", time.Second, nil)
	p, err := c.PayInvoice(context.Background(), "lnbc80n1...")
	require.NoError(t, err)
	assert.Equal(t, "bb", p.PaymentPreimage)
	assert.Equal(t, int64(1), p.RoutingFeeSat)
}

func TestGetBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getbalance", r.URL.Path)
		w.Write([]byte(`{"balanceSat":5000,"feeCreditSat":12}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", time.Second, nil)
	b, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5000), b.BalanceSat)
}

func TestErrorsSurfaceAsUnavailable(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := New(srv.URL, "secret", time.Second, nil)
		_, err := c.GetBalance(context.Background())
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("non-json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>not json</html>"))
		}))
		defer srv.Close()

		c := New(srv.URL, "secret", time.Second, nil)
		_, err := c.GetBalance(context.Background())
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.True(t, strings.Contains(err.Error(), "non-json"))
	})

	t.Run("transport", func(t *testing.T) {
		c := New("http://127.0.0.1:1", "secret", 200*time.Millisecond, nil)
		_, err := c.GetBalance(context.Background())
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

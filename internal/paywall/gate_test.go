package paywall

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alittlebitofmoney/server/internal/config"
	apierrors "github.com/alittlebitofmoney/server/internal/errors"
	"github.com/alittlebitofmoney/server/internal/l402"
	"github.com/alittlebitofmoney/server/internal/ledger"
	"github.com/alittlebitofmoney/server/internal/lightning"
	"github.com/alittlebitofmoney/server/internal/usedhash"
)

func testConfig() *config.Config {
	return &config.Config{
		MaxRequestBytes: 1024,
		InvoiceExpiry:   600,
		APIs: map[string]config.APIConfig{
			"openai": {
				Name: "OpenAI",
				Endpoints: []config.EndpointConfig{
					{
						Path:      "/v1/chat/completions",
						Method:    "POST",
						PriceType: "per_model",
						Models: map[string]config.ModelConfig{
							"gpt-4o-mini": {PriceSats: 10},
						},
					},
					{
						Path:       "/v1/embeddings",
						Method:     "POST",
						PriceType:  "flat",
						PriceSats:  2,
						DailyLimit: 1,
					},
				},
			},
		},
	}
}

// fakePreimage returns a random preimage and its payment hash.
func fakePreimage(t *testing.T) (preimage, paymentHash string) {
	t.Helper()
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(raw), hex.EncodeToString(sum[:])
}

func newTestGate(t *testing.T, store ledger.Store) (*Gate, *l402.Minter) {
	t.Helper()

	phoenixSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hash := fakePreimage(t)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"paymentHash":"` + hash + `","serialized":"lnbc10n1test"}`))
	}))
	t.Cleanup(phoenixSrv.Close)

	minter, err := l402.NewMinter("", "test", zerolog.Nop())
	require.NoError(t, err)

	used := usedhash.New(time.Hour, time.Hour)
	t.Cleanup(used.Stop)

	phoenix := lightning.New(phoenixSrv.URL, "pw", 5*time.Second, nil)
	return NewGate(testConfig(), minter, used, store, phoenix, zerolog.Nop()), minter
}

func chatRequest(body string) Request {
	return Request{
		APIName:      "openai",
		EndpointPath: "v1/chat/completions",
		Method:       "POST",
		Body:         []byte(body),
		ContentType:  "application/json",
	}
}

func TestAuthorizeUnknownEndpoint(t *testing.T) {
	g, _ := newTestGate(t, nil)

	_, _, err := g.Authorize(context.Background(), Request{
		APIName: "openai", EndpointPath: "v1/nope", Method: "POST",
	})
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, apierrors.ErrCodeAPINotFound, gerr.Code)
}

func TestAuthorizeBodySizeBoundary(t *testing.T) {
	g, _ := newTestGate(t, nil)
	g.cfg.MaxRequestBytes = 4

	req := Request{APIName: "openai", EndpointPath: "v1/embeddings", Method: "POST"}

	// Exactly at the cap passes the size check (fails later on content type).
	req.Body = []byte("abcd")
	_, _, err := g.Authorize(context.Background(), req)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.NotEqual(t, apierrors.ErrCodeRequestTooLarge, gerr.Code)

	// One byte over is rejected.
	req.Body = []byte("abcde")
	_, _, err = g.Authorize(context.Background(), req)
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, apierrors.ErrCodeRequestTooLarge, gerr.Code)
	assert.Equal(t, int64(4), gerr.Details["max_bytes"])
}

func TestAuthorizeRejectsBadBodies(t *testing.T) {
	g, _ := newTestGate(t, nil)
	ctx := context.Background()

	t.Run("non-json on json endpoint", func(t *testing.T) {
		req := chatRequest("{}")
		req.ContentType = "text/plain"
		_, _, err := g.Authorize(ctx, req)
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, apierrors.ErrCodeInvalidRequest, gerr.Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, _, err := g.Authorize(ctx, chatRequest("{not json"))
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, apierrors.ErrCodeInvalidRequest, gerr.Code)
	})

	t.Run("unknown model", func(t *testing.T) {
		_, _, err := g.Authorize(ctx, chatRequest(`{"model":"gpt-99","messages":[{"role":"user","content":"hi"}]}`))
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, apierrors.ErrCodeModelNotSupported, gerr.Code)
	})

	t.Run("missing messages", func(t *testing.T) {
		_, _, err := g.Authorize(ctx, chatRequest(`{"model":"gpt-4o-mini"}`))
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, apierrors.ErrCodeMissingRequiredField, gerr.Code)
	})
}

func TestAuthorizeChallengeWithoutAuth(t *testing.T) {
	g, minter := newTestGate(t, nil)

	admission, challenge, err := g.Authorize(context.Background(),
		chatRequest(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"Hi"}]}`))
	require.NoError(t, err)
	assert.Nil(t, admission)
	require.NotNil(t, challenge)

	assert.Equal(t, int64(10), challenge.AmountSats)
	assert.Equal(t, "lnbc10n1test", challenge.Invoice)
	assert.Equal(t, 600, challenge.ExpiresIn)

	caveats, err := minter.Verify(challenge.Macaroon)
	require.NoError(t, err)
	assert.Equal(t, challenge.PaymentHash, caveats.PaymentHash)
	assert.Equal(t, int64(10), caveats.AmountSats)
	assert.Empty(t, caveats.AccountID)
}

func TestAuthorizeUnsupportedScheme(t *testing.T) {
	g, _ := newTestGate(t, nil)

	req := chatRequest(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"Hi"}]}`)
	req.Authorization = "Basic dXNlcjpwdw=="
	_, _, err := g.Authorize(context.Background(), req)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, apierrors.ErrCodeInvalidAuthorization, gerr.Code)
}

func TestAuthorizeBearerDebit(t *testing.T) {
	store := ledger.NewMemoryStore()
	g, _ := newTestGate(t, store)
	ctx := context.Background()

	id, token, err := store.CreateAccount(ctx)
	require.NoError(t, err)
	_, err = store.Credit(ctx, id, 25)
	require.NoError(t, err)

	req := chatRequest(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"Hi"}]}`)
	req.Authorization = "Bearer " + token

	admission, challenge, err := g.Authorize(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, challenge)
	require.NotNil(t, admission)
	assert.Equal(t, int64(10), admission.PriceSats)

	balance, err := store.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(15), balance)

	entries := store.UsageEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "openai:/v1/chat/completions", entries[0].Endpoint)

	t.Run("insufficient balance", func(t *testing.T) {
		// Balance 15, two more requests drain it to 5, then fail.
		_, _, err := g.Authorize(ctx, req)
		require.NoError(t, err)
		_, _, err = g.Authorize(ctx, req)
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, apierrors.ErrCodeInsufficientBalance, gerr.Code)
	})

	t.Run("unknown token", func(t *testing.T) {
		bad := req
		bad.Authorization = "Bearer abl_unknown"
		_, _, err := g.Authorize(ctx, bad)
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, apierrors.ErrCodeInvalidToken, gerr.Code)
	})
}

func TestAuthorizeL402(t *testing.T) {
	g, minter := newTestGate(t, nil)
	ctx := context.Background()

	preimage, hash := fakePreimage(t)
	mac, err := minter.Mint(hash, 10, "")
	require.NoError(t, err)

	req := chatRequest(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"Hi"}]}`)
	req.Authorization = "L402 " + mac + ":" + preimage

	admission, challenge, err := g.Authorize(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, challenge)
	require.NotNil(t, admission)

	t.Run("replay rejected", func(t *testing.T) {
		_, _, err := g.Authorize(ctx, req)
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, apierrors.ErrCodePaymentAlreadyUsed, gerr.Code)
	})
}

func TestAuthorizeL402Underpayment(t *testing.T) {
	g, minter := newTestGate(t, nil)
	ctx := context.Background()

	preimage, hash := fakePreimage(t)
	// Authorizes 9 sats, request costs 10.
	mac, err := minter.Mint(hash, 9, "")
	require.NoError(t, err)

	req := chatRequest(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"Hi"}]}`)
	req.Authorization = "L402 " + mac + ":" + preimage

	_, _, err = g.Authorize(ctx, req)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, apierrors.ErrCodeInsufficientPayment, gerr.Code)

	// An honest underpayment must not burn the hash: a topped-up macaroon
	// for the same preimage still works.
	mac2, err := minter.Mint(hash, 10, "")
	require.NoError(t, err)
	req.Authorization = "L402 " + mac2 + ":" + preimage
	admission, _, err := g.Authorize(ctx, req)
	require.NoError(t, err)
	assert.NotNil(t, admission)
}

func TestAuthorizeL402BadCredentials(t *testing.T) {
	g, minter := newTestGate(t, nil)
	ctx := context.Background()

	preimage, hash := fakePreimage(t)
	mac, err := minter.Mint(hash, 10, "")
	require.NoError(t, err)

	base := chatRequest(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"Hi"}]}`)

	t.Run("garbage macaroon", func(t *testing.T) {
		req := base
		req.Authorization = "L402 bm90LWEtbWFjYXJvb24=:" + preimage
		_, _, err := g.Authorize(ctx, req)
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, apierrors.ErrCodeInvalidL402, gerr.Code)
	})

	t.Run("wrong preimage", func(t *testing.T) {
		other, _ := fakePreimage(t)
		req := base
		req.Authorization = "L402 " + mac + ":" + other
		_, _, err := g.Authorize(ctx, req)
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, apierrors.ErrCodeInvalidL402, gerr.Code)
	})

	t.Run("malformed preimage", func(t *testing.T) {
		req := base
		req.Authorization = "L402 " + mac + ":zzzz"
		_, _, err := g.Authorize(ctx, req)
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, apierrors.ErrCodeInvalidPayment, gerr.Code)
	})
}

func TestAuthorizeDailyLimit(t *testing.T) {
	g, minter := newTestGate(t, nil)
	ctx := context.Background()

	send := func() error {
		preimage, hash := fakePreimage(t)
		mac, err := minter.Mint(hash, 2, "")
		require.NoError(t, err)
		_, _, err = g.Authorize(ctx, Request{
			APIName:       "openai",
			EndpointPath:  "v1/embeddings",
			Method:        "POST",
			ContentType:   "application/json",
			Body:          []byte(`{"input":"hi"}`),
			Authorization: "L402 " + mac + ":" + preimage,
		})
		return err
	}

	require.NoError(t, send())

	err := send()
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, apierrors.ErrCodeDailyLimit, gerr.Code)
}

func TestRedeemL402ForAccount(t *testing.T) {
	g, minter := newTestGate(t, nil)

	preimage, hash := fakePreimage(t)
	mac, err := minter.Mint(hash, 80, "acct-1")
	require.NoError(t, err)
	auth := "L402 " + mac + ":" + preimage

	t.Run("wrong account", func(t *testing.T) {
		gerr := g.RedeemL402ForAccount(auth, "acct-2", 80)
		require.NotNil(t, gerr)
		assert.Equal(t, apierrors.ErrCodeInvalidL402, gerr.Code)
	})

	t.Run("amount short", func(t *testing.T) {
		gerr := g.RedeemL402ForAccount(auth, "acct-1", 81)
		require.NotNil(t, gerr)
		assert.Equal(t, apierrors.ErrCodeInsufficientPayment, gerr.Code)
	})

	t.Run("happy path then replay", func(t *testing.T) {
		require.Nil(t, g.RedeemL402ForAccount(auth, "acct-1", 80))
		gerr := g.RedeemL402ForAccount(auth, "acct-1", 80)
		require.NotNil(t, gerr)
		assert.Equal(t, apierrors.ErrCodePaymentAlreadyUsed, gerr.Code)
	})

	t.Run("unbound macaroon rejected", func(t *testing.T) {
		p2, h2 := fakePreimage(t)
		mac2, err := minter.Mint(h2, 80, "")
		require.NoError(t, err)
		gerr := g.RedeemL402ForAccount("L402 "+mac2+":"+p2, "acct-1", 80)
		require.NotNil(t, gerr)
		assert.Equal(t, apierrors.ErrCodeInvalidL402, gerr.Code)
	})
}

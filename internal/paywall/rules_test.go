package paywall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alittlebitofmoney/server/internal/config"
	apierrors "github.com/alittlebitofmoney/server/internal/errors"
)

func chatEndpoint() *config.EndpointConfig {
	return &config.EndpointConfig{
		Path:      "/v1/chat/completions",
		Method:    "POST",
		PriceType: "per_model",
		Models: map[string]config.ModelConfig{
			"gpt-4o-mini": {PriceSats: 10, MaxOutputTokens: 2048},
			"_default":    {PriceSats: 20},
		},
	}
}

func TestResolve(t *testing.T) {
	cfg := &config.Config{
		APIs: map[string]config.APIConfig{
			"openai": {
				Name:      "OpenAI",
				Endpoints: []config.EndpointConfig{*chatEndpoint()},
			},
		},
	}

	t.Run("raw path", func(t *testing.T) {
		api, ep, path := Resolve(cfg, "openai", "v1/chat/completions", "post")
		require.NotNil(t, api)
		require.NotNil(t, ep)
		assert.Equal(t, "/v1/chat/completions", path)
	})

	t.Run("v1 prefix implied", func(t *testing.T) {
		_, ep, path := Resolve(cfg, "openai", "chat/completions", "POST")
		require.NotNil(t, ep)
		assert.Equal(t, "/v1/chat/completions", path)
	})

	t.Run("trailing slash", func(t *testing.T) {
		_, ep, _ := Resolve(cfg, "openai", "v1/chat/completions/", "POST")
		assert.NotNil(t, ep)
	})

	t.Run("unknown api", func(t *testing.T) {
		api, ep, _ := Resolve(cfg, "anthropic", "v1/chat/completions", "POST")
		assert.Nil(t, api)
		assert.Nil(t, ep)
	})

	t.Run("unknown path", func(t *testing.T) {
		api, ep, _ := Resolve(cfg, "openai", "v1/nope", "POST")
		assert.NotNil(t, api)
		assert.Nil(t, ep)
	})

	t.Run("method mismatch", func(t *testing.T) {
		_, ep, _ := Resolve(cfg, "openai", "v1/chat/completions", "GET")
		assert.Nil(t, ep)
	})
}

func TestPriceForRequest(t *testing.T) {
	ep := chatEndpoint()

	price, gerr := PriceForRequest(ep, map[string]interface{}{"model": "gpt-4o-mini"})
	require.Nil(t, gerr)
	assert.Equal(t, int64(10), price)

	// Unknown model falls back to _default when configured.
	price, gerr = PriceForRequest(ep, map[string]interface{}{"model": "unknown"})
	require.Nil(t, gerr)
	assert.Equal(t, int64(20), price)

	flat := &config.EndpointConfig{PriceType: "flat", PriceSats: 5}
	price, gerr = PriceForRequest(flat, nil)
	require.Nil(t, gerr)
	assert.Equal(t, int64(5), price)

	noDefault := &config.EndpointConfig{
		PriceType: "per_model",
		Models:    map[string]config.ModelConfig{"a": {PriceSats: 1}},
	}
	_, gerr = PriceForRequest(noDefault, map[string]interface{}{"model": "b"})
	require.NotNil(t, gerr)
	assert.Equal(t, apierrors.ErrCodeModelNotSupported, gerr.Code)
}

func TestApplyRequestRulesChat(t *testing.T) {
	ep := chatEndpoint()

	t.Run("caps oversized request", func(t *testing.T) {
		body := map[string]interface{}{"model": "gpt-4o-mini", "max_tokens": float64(9999)}
		require.Nil(t, ApplyRequestRules("/v1/chat/completions", ep, body))
		assert.Equal(t, 2048, body["max_tokens"])
		assert.NotContains(t, body, "max_output_tokens")
		assert.NotContains(t, body, "max_completion_tokens")
	})

	t.Run("keeps smaller request", func(t *testing.T) {
		body := map[string]interface{}{"model": "gpt-4o-mini", "max_completion_tokens": float64(100)}
		require.Nil(t, ApplyRequestRules("/v1/chat/completions", ep, body))
		assert.Equal(t, 100, body["max_tokens"])
	})

	t.Run("injects cap when absent", func(t *testing.T) {
		body := map[string]interface{}{"model": "gpt-4o-mini"}
		require.Nil(t, ApplyRequestRules("/v1/chat/completions", ep, body))
		assert.Equal(t, 2048, body["max_tokens"])
	})

	t.Run("no cap configured leaves body alone", func(t *testing.T) {
		body := map[string]interface{}{"model": "other"} // _default has no cap
		require.Nil(t, ApplyRequestRules("/v1/chat/completions", ep, body))
		assert.NotContains(t, body, "max_tokens")
	})
}

func TestApplyRequestRulesResponses(t *testing.T) {
	ep := &config.EndpointConfig{
		PriceType: "per_model",
		Models:    map[string]config.ModelConfig{"_default": {PriceSats: 15, MaxOutputTokens: 500}},
	}

	body := map[string]interface{}{"input": "hi", "max_output_tokens": float64(1000)}
	require.Nil(t, ApplyRequestRules("/v1/responses", ep, body))
	// Responses API keeps the max_output_tokens key.
	assert.Equal(t, 500, body["max_output_tokens"])
	assert.NotContains(t, body, "max_tokens")
}

func TestApplyRequestRulesForcesSingleImage(t *testing.T) {
	ep := &config.EndpointConfig{PriceType: "flat", PriceSats: 50}
	for _, path := range []string{"/v1/images/generations", "/v1/images/edits", "/v1/video/generations"} {
		body := map[string]interface{}{"prompt": "cat", "n": float64(4)}
		require.Nil(t, ApplyRequestRules(path, ep, body))
		assert.Equal(t, 1, body["n"], path)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	cases := []struct {
		name string
		path string
		body map[string]interface{}
		code apierrors.ErrorCode
	}{
		{"chat ok", "/v1/chat/completions", map[string]interface{}{"messages": []interface{}{map[string]interface{}{"role": "user"}}}, ""},
		{"chat missing", "/v1/chat/completions", map[string]interface{}{}, apierrors.ErrCodeMissingRequiredField},
		{"chat wrong type", "/v1/chat/completions", map[string]interface{}{"messages": "hi"}, apierrors.ErrCodeInvalidFieldType},
		{"chat empty list", "/v1/chat/completions", map[string]interface{}{"messages": []interface{}{}}, apierrors.ErrCodeInvalidFieldValue},
		{"responses string input", "/v1/responses", map[string]interface{}{"input": "hi"}, ""},
		{"responses list input", "/v1/responses", map[string]interface{}{"input": []interface{}{"hi"}}, ""},
		{"responses blank", "/v1/responses", map[string]interface{}{"input": "   "}, apierrors.ErrCodeInvalidFieldValue},
		{"speech needs voice", "/v1/audio/speech", map[string]interface{}{"input": "hi"}, apierrors.ErrCodeMissingRequiredField},
		{"unvalidated path", "/v1/audio/transcriptions", map[string]interface{}{}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gerr := ValidateRequiredFields(tc.path, tc.body)
			if tc.code == "" {
				assert.Nil(t, gerr)
			} else {
				require.NotNil(t, gerr)
				assert.Equal(t, tc.code, gerr.Code)
			}
		})
	}
}

func TestDailyCounter(t *testing.T) {
	c := NewDailyCounter()

	assert.True(t, c.Allow("ep", 0), "zero limit means unlimited")

	assert.True(t, c.Allow("capped", 2))
	assert.True(t, c.Allow("capped", 2))
	assert.False(t, c.Allow("capped", 2))

	// Counts are per key.
	assert.True(t, c.Allow("other", 2))

	// UTC midnight resets everything.
	c.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	assert.True(t, c.Allow("capped", 2))
}

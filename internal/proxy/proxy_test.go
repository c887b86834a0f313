package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/alittlebitofmoney/server/internal/config"
	"github.com/alittlebitofmoney/server/internal/paywall"
)

func admissionFor(upstream, path string, body []byte) *paywall.Admission {
	return &paywall.Admission{
		API: &config.APIConfig{
			Name:         "OpenAI",
			UpstreamBase: upstream,
			APIKeyEnv:    "TEST_UPSTREAM_KEY",
			AuthHeader:   "Authorization",
			AuthPrefix:   "Bearer ",
			ExtraHeaders: map[string]string{"X-Extra": "yes"},
		},
		Endpoint:    &config.EndpointConfig{Method: "POST"},
		Path:        path,
		Body:        body,
		ContentType: "application/json",
		PriceSats:   10,
	}
}

func TestForwardPassthrough(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_KEY", "sk-test")

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"input":"hi"}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	p := New(zerolog.Nop())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/openai/v1/embeddings", nil)

	p.Forward(rec, req, admissionFor(upstream.URL, "/v1/embeddings", []byte(`{"input":"hi"}`)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestForwardUpstreamErrorPassthrough(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_KEY", "sk-test")

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"upstream says no"}`))
	}))
	defer upstream.Close()

	p := New(zerolog.Nop())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", nil)

	p.Forward(rec, req, admissionFor(upstream.URL, "/v1/embeddings", []byte(`{}`)))

	// Upstream status and body pass through verbatim.
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream says no")
}

func TestForwardMissingCredential(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_KEY", "")

	p := New(zerolog.Nop())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", nil)

	p.Forward(rec, req, admissionFor("http://localhost:1", "/v1/embeddings", []byte(`{}`)))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream_error")
}

func TestForwardTransportFailure(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_KEY", "sk-test")

	p := New(zerolog.Nop())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", nil)

	// Nothing listens here.
	p.Forward(rec, req, admissionFor("http://127.0.0.1:1", "/v1/embeddings", []byte(`{}`)))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream_error")
}

func TestForwardInvalidUpstreamBase(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_KEY", "sk-test")

	p := New(zerolog.Nop())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", nil)

	p.Forward(rec, req, admissionFor("", "/v1/embeddings", []byte(`{}`)))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestForwardStreamRelay(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_KEY", "sk-test")

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "data: chunk-%d\n\n", i)
			flusher.Flush()
		}
	}))
	defer upstream.Close()

	p := New(zerolog.Nop())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", nil)

	body := []byte(`{"model":"gpt-4o-mini","stream":true,"messages":[{"role":"user","content":"Hi"}]}`)
	p.Forward(rec, req, admissionFor(upstream.URL, "/v1/chat/completions", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	for i := 0; i < 3; i++ {
		assert.Contains(t, rec.Body.String(), fmt.Sprintf("data: chunk-%d", i))
	}
	assert.True(t, rec.Flushed)
}

func TestForwardStreamFalseStaysBuffered(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_KEY", "sk-test")

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"done":true}`))
	}))
	defer upstream.Close()

	p := New(zerolog.Nop())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", nil)

	body := []byte(`{"model":"gpt-4o-mini","stream":false,"messages":[{"role":"user","content":"Hi"}]}`)
	p.Forward(rec, req, admissionFor(upstream.URL, "/v1/chat/completions", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, rec.Flushed)
	assert.JSONEq(t, `{"done":true}`, rec.Body.String())
}

package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"blockrun/internal/compress"
	"blockrun/internal/config"
	"blockrun/internal/dedup"
	"blockrun/internal/routing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestServer(t *testing.T) (*Server, *fakeUpstream, *stubSigner) {
	t.Helper()

	up := newRecordingUpstream(func(call upstreamCall) *http.Response {
		return jsonResponse(200, `{"ok":true}`)
	})
	router, err := routing.NewRouter(routing.DefaultScoringConfig(), routing.DefaultOverrides(), routing.DefaultCatalog())
	require.NoError(t, err)

	signer := &stubSigner{}
	cfg := config.Default()
	d := NewDispatcher(DispatchConfig{
		MaxRequestBytes:           512 * 1024,
		CompressionThresholdBytes: 64 * 1024,
		AutoCompress:              true,
		MaxFallbackAttempts:       3,
		AttemptTimeout:            30 * time.Second,
	}, router, compress.NewPipeline(compress.DefaultConfig()),
		dedup.NewCache(dedup.DefaultConfig()), signer, up, nil)

	return NewServer(cfg, d, signer, router.Catalog()), up, signer
}

// --- endpoint tests ---

func TestServer_Health(t *testing.T) {
	srv, _, signer := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, 200, w.Code)
	assert.Equal(t, "ok", gjson.Get(w.Body.String(), "status").String())
	assert.Equal(t, signer.Address(), gjson.Get(w.Body.String(), "wallet").String())
}

func TestServer_ModelsCatalog(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models", nil))

	require.Equal(t, 200, w.Code)
	body := w.Body.String()
	assert.Equal(t, "list", gjson.Get(body, "object").String())

	ids := make(map[string]bool)
	for _, entry := range gjson.Get(body, "data").Array() {
		ids[entry.Get("id").String()] = true
	}
	for _, want := range []string{"auto", "free", "eco", "premium", "openai/gpt-5", "meta-llama/llama-3.1-8b"} {
		assert.True(t, ids[want], "catalog must list %s", want)
	}
}

func TestServer_ChatCompletionsRouted(t *testing.T) {
	srv, up, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		bytesReader(`{"model":"auto","max_tokens":50,"messages":[{"role":"user","content":"Hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	assert.Len(t, up.snapshot(), 1)
}

func TestServer_DashboardUnconfigured(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assert.Equal(t, 404, w.Code)
}

func TestServer_DashboardProxied(t *testing.T) {
	stats := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("stats page"))
	}))
	defer stats.Close()

	srv, _, _ := newTestServer(t)
	srv.config.DashboardURL = stats.URL

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	require.Equal(t, 200, w.Code)
	assert.Equal(t, "stats page", w.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

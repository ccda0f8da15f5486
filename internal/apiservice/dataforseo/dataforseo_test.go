package dataforseo

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-task-platform/internal/apicache"
	"ai-task-platform/internal/apiservice"
	"ai-task-platform/internal/cache/ristretto"
	"ai-task-platform/internal/config"
	"ai-task-platform/internal/ledger"
	"ai-task-platform/internal/logger"
	"ai-task-platform/internal/task-manager/db"
	"ai-task-platform/internal/testutil"
)

func testConfig(baseURL string) config.DataForSEOConfig {
	return config.DataForSEOConfig{Login: "user", Password: "pass", BaseURL: baseURL, Timeout: 2 * time.Second, CreditsPerUSD: 100}
}

func newTestClient(t *testing.T, cfg config.DataForSEOConfig) (*Client, *ledger.Ledger) {
	t.Helper()
	gormDB := testutil.NewDB(t)
	l := ledger.New(gormDB, logger.NewNop())
	backend, err := ristretto.New(1 << 20)
	require.NoError(t, err)
	t.Cleanup(backend.Close)

	svc, err := apiservice.New(NewProvider(cfg), apiservice.Deps{
		Cache:  apicache.New(backend, "test_", time.Hour, logger.NewNop()),
		Ledger: l,
		Logs:   db.NewAPILogStore(gormDB),
	}, apiservice.Options{Sandbox: cfg.Sandbox, Timeout: cfg.Timeout})
	require.NoError(t, err)
	return NewClient(svc), l
}

func TestProvider_Pricing(t *testing.T) {
	p := NewProvider(testConfig(""))

	assert.Equal(t, int64(5), p.EstimateCost(EndpointSearchVolume, map[string]any{"keywords": []string{"a", "b"}}))
	assert.Equal(t, int64(4), p.EstimateCost(EndpointKeywordDifficulty, map[string]any{"keywords": []any{"a", "b", "c"}}))
	assert.Equal(t, int64(1), p.EstimateCost("unknown/endpoint", nil))

	credits, ok := p.ActualCost(EndpointSearchVolume, nil, []byte(`{"cost":0.0525}`))
	require.True(t, ok)
	assert.Equal(t, int64(6), credits)
	_, ok = p.ActualCost(EndpointSearchVolume, nil, []byte(`{"status_code":20000}`))
	assert.False(t, ok)
}

func TestProvider_AuthAndBody(t *testing.T) {
	p := NewProvider(testConfig(""))
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pass")), p.AuthHeader())
	assert.False(t, NewProvider(config.DataForSEOConfig{Login: "only"}).HasCredentials())

	body := p.Body(apiservice.Request{Params: map[string]any{"keyword": "go"}})
	assert.Equal(t, []any{map[string]any{"keyword": "go"}}, body)

	assert.True(t, p.Idempotent(apiservice.Request{Endpoint: EndpointSearchVolume}))
	assert.False(t, p.Idempotent(apiservice.Request{Endpoint: "serp/google/organic/task_post"}))
}

func TestClient_SandboxMocks(t *testing.T) {
	cfg := testConfig("")
	cfg.Sandbox = true
	c, _ := newTestClient(t, cfg)
	ctx := context.Background()

	volumes, err := c.SearchVolume(ctx, 1, []string{"go", "golang"}, Locale{})
	require.NoError(t, err)
	require.Len(t, volumes, 2)
	assert.Equal(t, "golang", volumes[1].Keyword)
	assert.Equal(t, int64(660), volumes[1].SearchVolume)

	suggestions, err := c.KeywordSuggestions(ctx, 1, "go", Locale{}, 2)
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	assert.Equal(t, "go tools", suggestions[0].Keyword)

	page, err := c.InstantPage(ctx, 1, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, 87.5, page.OnPageScore)
	assert.True(t, page.Checks["is_https"])
	assert.True(t, page.Checks["no_image_alt"])
}

func TestClient_LiveSearchVolumeCachedAndCharged(t *testing.T) {
	var hits int64
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = io.WriteString(w, `{"status_code":20000,"status_message":"Ok.","cost":0.03,"tasks":[{"status_code":20000,"result":[{"keyword":"go","search_volume":1000,"competition":0.4,"cpc":1.2}]}]}`)
	}))
	t.Cleanup(srv.Close)

	c, l := newTestClient(t, testConfig(srv.URL))
	ctx := context.Background()
	_, err := l.Grant(ctx, 1, 20, "")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		volumes, err := c.SearchVolume(ctx, 1, []string{"go"}, Locale{LocationCode: 2826, LanguageCode: "en"})
		require.NoError(t, err)
		require.Len(t, volumes, 1)
		assert.Equal(t, int64(1000), volumes[0].SearchVolume)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
	assert.JSONEq(t, `[{"keywords":["go"],"location_code":2826,"language_code":"en"}]`, gotBody)

	balance, err := l.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(17), balance)
}

func TestClient_TaskLevelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status_code":20000,"tasks":[{"status_code":40501,"status_message":"Invalid Field"}]}`)
	}))
	t.Cleanup(srv.Close)
	c, _ := newTestClient(t, testConfig(srv.URL))

	_, err := c.InstantPage(context.Background(), 0, "https://example.com")
	require.Error(t, err)
	assert.Equal(t, apiservice.CodeInvalidResponse, apiservice.ErrorCode(err))
	assert.Contains(t, err.Error(), "40501")
}

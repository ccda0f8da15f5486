package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-task-platform/internal/apiservice"
	"ai-task-platform/internal/config"
	"ai-task-platform/internal/ledger"
	"ai-task-platform/internal/logger"
	"ai-task-platform/internal/task-manager/db"
	"ai-task-platform/internal/testutil"
)

func testConfig(baseURL string) config.OpenAIConfig {
	return config.OpenAIConfig{APIKey: "sk-test", BaseURL: baseURL, DefaultModel: "gpt-4o-mini", Timeout: 2 * time.Second}
}

func newTestClient(t *testing.T, cfg config.OpenAIConfig) (*Client, *ledger.Ledger) {
	t.Helper()
	gormDB := testutil.NewDB(t)
	l := ledger.New(gormDB, logger.NewNop())
	svc, err := apiservice.New(NewProvider(cfg), apiservice.Deps{
		Ledger: l,
		Logs:   db.NewAPILogStore(gormDB),
	}, apiservice.Options{Sandbox: cfg.Sandbox, Timeout: cfg.Timeout})
	require.NoError(t, err)
	return NewClient(svc, cfg.DefaultModel), l
}

func TestProvider_EstimateChat(t *testing.T) {
	p := NewProvider(testConfig(""))

	params := map[string]any{
		"model":      "gpt-4o",
		"messages":   []map[string]any{{"role": "user", "content": string(make([]byte, 4000))}},
		"max_tokens": 1000,
	}
	// 1000 input tokens * 0.5 + 1000 output tokens * 1.5 = 2 credits
	assert.Equal(t, int64(2), p.EstimateCost(EndpointChat, params))

	small := map[string]any{"messages": []any{map[string]any{"role": "user", "content": "hi"}}, "max_tokens": 10}
	assert.Equal(t, int64(1), p.EstimateCost(EndpointChat, small))
}

func TestProvider_EstimateImagesAndUnknown(t *testing.T) {
	p := NewProvider(testConfig(""))
	assert.Equal(t, 2*ImageCredits, p.EstimateCost(EndpointImages, map[string]any{"n": 2}))
	assert.Equal(t, ImageCredits, p.EstimateCost(EndpointImages, nil))
	assert.Equal(t, int64(1), p.EstimateCost("moderations", nil))
}

func TestProvider_ActualCost(t *testing.T) {
	p := NewProvider(testConfig(""))

	credits, ok := p.ActualCost(EndpointChat, nil, []byte(`{"model":"gpt-4-turbo","usage":{"prompt_tokens":2000,"completion_tokens":1000}}`))
	require.True(t, ok)
	assert.Equal(t, int64(5), credits)

	credits, ok = p.ActualCost(EndpointChat, nil, []byte(`{"usage":{"prompt_tokens":1,"completion_tokens":1}}`))
	require.True(t, ok)
	assert.Equal(t, int64(1), credits)

	_, ok = p.ActualCost(EndpointChat, nil, []byte(`{"choices":[]}`))
	assert.False(t, ok)

	credits, ok = p.ActualCost(EndpointImages, nil, []byte(`{"data":[{},{},{}]}`))
	require.True(t, ok)
	assert.Equal(t, 3*ImageCredits, credits)
}

func TestProvider_Auth(t *testing.T) {
	p := NewProvider(testConfig(""))
	assert.True(t, p.HasCredentials())
	assert.Equal(t, "Bearer sk-test", p.AuthHeader())
	assert.False(t, NewProvider(config.OpenAIConfig{}).HasCredentials())
	assert.True(t, p.Idempotent(apiservice.Request{Endpoint: EndpointEmbeddings}))
	assert.False(t, p.Idempotent(apiservice.Request{Endpoint: EndpointChat}))
}

func TestClient_ChatCompletionSandbox(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Sandbox = true
	c, _ := newTestClient(t, cfg)

	res, err := c.ChatCompletion(context.Background(), 1, ChatRequest{Messages: []Message{{Role: "user", Content: "Write about Go"}}})
	require.NoError(t, err)
	assert.True(t, res.Sandbox)
	assert.Contains(t, res.Content, "Write about Go")
	assert.Equal(t, "gpt-4o-mini", res.Model)
	assert.Equal(t, int64(0), res.CreditsUsed)
}

func TestClient_ChatCompletionLive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"model":"gpt-4o","choices":[{"message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":1000,"completion_tokens":1000,"total_tokens":2000}}`)
	}))
	t.Cleanup(srv.Close)

	c, l := newTestClient(t, testConfig(srv.URL))
	ctx := context.Background()
	_, err := l.Grant(ctx, 3, 10, "")
	require.NoError(t, err)

	res, err := c.ChatCompletion(ctx, 3, ChatRequest{Model: "gpt-4o", Messages: []Message{{Role: "user", Content: "hi"}}, MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Content)
	assert.Equal(t, 2000, res.TotalTokens)
	assert.Equal(t, int64(2), res.CreditsUsed)

	balance, err := l.Balance(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(8), balance)
}

func TestClient_ChatCompletionNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	t.Cleanup(srv.Close)
	c, _ := newTestClient(t, testConfig(srv.URL))

	_, err := c.ChatCompletion(context.Background(), 0, ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	assert.Equal(t, apiservice.CodeInvalidResponse, apiservice.ErrorCode(err))
}

func TestClient_EmbeddingsSandbox(t *testing.T) {
	cfg := testConfig("")
	cfg.Sandbox = true
	c, _ := newTestClient(t, cfg)

	vecs, err := c.Embeddings(context.Background(), 1, "", []string{"a"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Len(t, vecs[0], 3)
}

// Package openai prices and shapes calls to the OpenAI REST API.
package openai

import (
	"fmt"
	"math"
	"strings"

	"github.com/bytedance/sonic"

	"ai-task-platform/internal/apiservice"
	"ai-task-platform/internal/config"
)

const (
	ServiceName = "openai"

	EndpointChat       = "chat/completions"
	EndpointEmbeddings = "embeddings"
	EndpointImages     = "images/generations"

	defaultMaxTokens = 1000
	charsPerToken    = 4
)

// Rate is the credit price per 1000 tokens.
type Rate struct {
	Input  float64
	Output float64
}

// DefaultRates prices the models the platform uses. Unknown models fall back
// to the default model's rate.
var DefaultRates = map[string]Rate{
	"gpt-4o":                 {Input: 0.5, Output: 1.5},
	"gpt-4o-mini":            {Input: 0.03, Output: 0.12},
	"gpt-4-turbo":            {Input: 1, Output: 3},
	"gpt-3.5-turbo":          {Input: 0.05, Output: 0.15},
	"text-embedding-3-small": {Input: 0.002},
	"text-embedding-3-large": {Input: 0.013},
}

// ImageCredits is the flat price of one generated image.
const ImageCredits int64 = 4

type Provider struct {
	cfg   config.OpenAIConfig
	rates map[string]Rate
}

var _ apiservice.Provider = (*Provider)(nil)

func NewProvider(cfg config.OpenAIConfig) *Provider {
	return &Provider{cfg: cfg, rates: DefaultRates}
}

func (p *Provider) Name() string         { return ServiceName }
func (p *Provider) BaseURL() string      { return p.cfg.BaseURL }
func (p *Provider) HasCredentials() bool { return p.cfg.APIKey != "" }
func (p *Provider) AuthHeader() string   { return "Bearer " + p.cfg.APIKey }

func (p *Provider) Body(req apiservice.Request) any {
	return req.Params
}

// Idempotent holds for embeddings only; completions are sampled.
func (p *Provider) Idempotent(req apiservice.Request) bool {
	return req.Endpoint == EndpointEmbeddings
}

func (p *Provider) rate(model string) Rate {
	if r, ok := p.rates[model]; ok {
		return r
	}
	return p.rates[p.cfg.DefaultModel]
}

func (p *Provider) model(params map[string]any) string {
	if m, ok := params["model"].(string); ok && m != "" {
		return m
	}
	return p.cfg.DefaultModel
}

func (p *Provider) EstimateCost(endpoint string, params map[string]any) int64 {
	switch endpoint {
	case EndpointChat:
		in := int64(math.Ceil(float64(textLength(params["messages"])) / charsPerToken))
		out := int64(defaultMaxTokens)
		if v, ok := asInt(params["max_tokens"]); ok && v > 0 {
			out = v
		}
		return tokenCredits(p.rate(p.model(params)), in, out)
	case EndpointEmbeddings:
		in := int64(math.Ceil(float64(textLength(params["input"])) / charsPerToken))
		return tokenCredits(p.rate(p.model(params)), in, 0)
	case EndpointImages:
		n, ok := asInt(params["n"])
		if !ok || n <= 0 {
			n = 1
		}
		return n * ImageCredits
	}
	return 1
}

type usageBody struct {
	Model string `json:"model"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Data []any `json:"data"`
}

func (p *Provider) ActualCost(endpoint string, params map[string]any, body []byte) (int64, bool) {
	var parsed usageBody
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return 0, false
	}
	if endpoint == EndpointImages && len(parsed.Data) > 0 {
		return int64(len(parsed.Data)) * ImageCredits, true
	}
	if parsed.Usage == nil {
		return 0, false
	}
	model := parsed.Model
	if _, ok := p.rates[model]; !ok {
		model = p.model(params)
	}
	return tokenCredits(p.rate(model), parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens), true
}

// tokenCredits rounds up; any non-zero usage costs at least one credit.
func tokenCredits(r Rate, in, out int64) int64 {
	if in <= 0 && out <= 0 {
		return 0
	}
	credits := int64(math.Ceil((float64(in)*r.Input + float64(out)*r.Output) / 1000))
	if credits < 1 {
		credits = 1
	}
	return credits
}

func (p *Provider) MockResponse(endpoint string, params map[string]any) []byte {
	model := p.model(params)
	var mock any
	switch endpoint {
	case EndpointChat:
		prompt := lastUserMessage(params["messages"])
		mock = map[string]any{
			"id":     "chatcmpl-sandbox",
			"object": "chat.completion",
			"model":  model,
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": "[sandbox] Generated content for: " + prompt,
				},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
		}
	case EndpointEmbeddings:
		mock = map[string]any{
			"object": "list",
			"model":  model,
			"data":   []any{map[string]any{"index": 0, "embedding": []float64{0.1, 0.2, 0.3}}},
			"usage":  map[string]any{"prompt_tokens": 5, "total_tokens": 5},
		}
	case EndpointImages:
		mock = map[string]any{"data": []any{map[string]any{"url": "https://example.com/sandbox.png"}}}
	default:
		mock = map[string]any{"sandbox": true, "endpoint": endpoint}
	}
	out, _ := sonic.ConfigStd.Marshal(mock)
	return out
}

// textLength counts characters of a prompt given as a string, a list of
// strings or a list of chat messages.
func textLength(v any) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case []string:
		n := 0
		for _, s := range t {
			n += len(s)
		}
		return n
	case []map[string]any:
		n := 0
		for _, m := range t {
			n += textLength(m["content"])
		}
		return n
	case []any:
		n := 0
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				n += textLength(m["content"])
				continue
			}
			n += textLength(item)
		}
		return n
	}
	return 0
}

func lastUserMessage(v any) string {
	var msgs []map[string]any
	switch t := v.(type) {
	case []map[string]any:
		msgs = t
	case []any:
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				msgs = append(msgs, m)
			}
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["role"] == "user" {
			s := fmt.Sprint(msgs[i]["content"])
			if len(s) > 80 {
				s = s[:80]
			}
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

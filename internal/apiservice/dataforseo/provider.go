// Package dataforseo prices and shapes calls to the DataForSEO v3 API.
package dataforseo

import (
	"encoding/base64"
	"fmt"
	"math"
	"strings"

	"github.com/bytedance/sonic"

	"ai-task-platform/internal/apiservice"
	"ai-task-platform/internal/config"
)

const (
	ServiceName = "dataforseo"

	EndpointSearchVolume       = "keywords_data/google_ads/search_volume/live"
	EndpointKeywordSuggestions = "dataforseo_labs/google/keyword_suggestions/live"
	EndpointKeywordDifficulty  = "dataforseo_labs/google/bulk_keyword_difficulty/live"
	EndpointSERPOrganic        = "serp/google/organic/live/advanced"
	EndpointBacklinksSummary   = "backlinks/summary/live"
	EndpointInstantPages       = "on_page/instant_pages"

	// StatusOK is the body-level success code DataForSEO reports.
	StatusOK = 20000
)

// Price is Flat credits per call plus PerItem credits for each entry of the
// ItemsParam list in the request.
type Price struct {
	Flat       int64
	PerItem    int64
	ItemsParam string
}

var DefaultPricing = map[string]Price{
	EndpointSearchVolume:       {Flat: 5},
	EndpointKeywordSuggestions: {Flat: 2},
	EndpointKeywordDifficulty:  {Flat: 1, PerItem: 1, ItemsParam: "keywords"},
	EndpointSERPOrganic:        {Flat: 2},
	EndpointBacklinksSummary:   {Flat: 2},
	EndpointInstantPages:       {Flat: 1},
}

type Provider struct {
	cfg     config.DataForSEOConfig
	pricing map[string]Price
}

var _ apiservice.Provider = (*Provider)(nil)

func NewProvider(cfg config.DataForSEOConfig) *Provider {
	if cfg.CreditsPerUSD <= 0 {
		cfg.CreditsPerUSD = 100
	}
	return &Provider{cfg: cfg, pricing: DefaultPricing}
}

func (p *Provider) Name() string    { return ServiceName }
func (p *Provider) BaseURL() string { return p.cfg.BaseURL }

func (p *Provider) HasCredentials() bool {
	return p.cfg.Login != "" && p.cfg.Password != ""
}

func (p *Provider) AuthHeader() string {
	token := base64.StdEncoding.EncodeToString([]byte(p.cfg.Login + ":" + p.cfg.Password))
	return "Basic " + token
}

// Body wraps params in the one-task array DataForSEO expects.
func (p *Provider) Body(req apiservice.Request) any {
	return []any{req.Params}
}

// Idempotent holds for live reads; task_post calls create server-side tasks.
func (p *Provider) Idempotent(req apiservice.Request) bool {
	return !strings.Contains(req.Endpoint, "task_post")
}

func (p *Provider) EstimateCost(endpoint string, params map[string]any) int64 {
	price, ok := p.pricing[endpoint]
	if !ok {
		return 1
	}
	credits := price.Flat
	if price.PerItem > 0 && price.ItemsParam != "" {
		credits += price.PerItem * int64(countItems(params[price.ItemsParam]))
	}
	return credits
}

func (p *Provider) ActualCost(_ string, _ map[string]any, body []byte) (int64, bool) {
	var parsed struct {
		Cost *float64 `json:"cost"`
	}
	if err := sonic.Unmarshal(body, &parsed); err != nil || parsed.Cost == nil {
		return 0, false
	}
	// round away float noise before ceiling, e.g. 0.03 * 100
	credits := math.Round(*parsed.Cost*p.cfg.CreditsPerUSD*1e6) / 1e6
	return int64(math.Ceil(credits)), true
}

func countItems(v any) int {
	switch t := v.(type) {
	case []string:
		return len(t)
	case []any:
		return len(t)
	case string:
		if t == "" {
			return 0
		}
		return 1
	}
	return 0
}

func (p *Provider) MockResponse(endpoint string, params map[string]any) []byte {
	var result []any
	switch endpoint {
	case EndpointSearchVolume:
		for _, kw := range stringList(params["keywords"]) {
			result = append(result, mockVolume(kw))
		}
	case EndpointKeywordSuggestions:
		seed := fmt.Sprint(params["keyword"])
		var items []any
		for _, suffix := range []string{"tools", "guide", "best practices"} {
			kw := seed + " " + suffix
			items = append(items, map[string]any{
				"keyword":      kw,
				"keyword_info": mockVolume(kw),
			})
		}
		result = []any{map[string]any{"seed_keyword": seed, "items_count": len(items), "items": items}}
	case EndpointInstantPages:
		url := fmt.Sprint(params["url"])
		result = []any{map[string]any{
			"crawl_progress": "finished",
			"items": []any{map[string]any{
				"url":          url,
				"status_code":  200,
				"onpage_score": 87.5,
				"meta": map[string]any{
					"title":       "Sandbox page",
					"description": "Sandbox description for " + url,
					"htags":       map[string]any{"h1": []string{"Sandbox page"}},
				},
				"checks": map[string]any{
					"no_description":    false,
					"no_h1_tag":         false,
					"is_https":          strings.HasPrefix(url, "https://"),
					"high_loading_time": false,
					"no_image_alt":      true,
				},
			}},
		}}
	default:
		result = []any{}
	}

	out, _ := sonic.ConfigStd.Marshal(map[string]any{
		"version":        "0.1.sandbox",
		"status_code":    StatusOK,
		"status_message": "Ok.",
		"cost":           0,
		"tasks_count":    1,
		"tasks_error":    0,
		"tasks": []any{map[string]any{
			"status_code":    StatusOK,
			"status_message": "Ok.",
			"path":           strings.Split(endpoint, "/"),
			"result":         result,
		}},
	})
	return out
}

// mockVolume derives stable fake metrics from the keyword text.
func mockVolume(kw string) map[string]any {
	n := len(kw)
	return map[string]any{
		"keyword":       kw,
		"search_volume": n * 110,
		"competition":   float64(n%10) / 10,
		"cpc":           float64(n%7) + 0.5,
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return []string{t}
	}
	return nil
}

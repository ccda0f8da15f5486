package dataforseo

import (
	"context"
	"fmt"

	"ai-task-platform/internal/apiservice"
)

type envelope[T any] struct {
	StatusCode    int     `json:"status_code"`
	StatusMessage string  `json:"status_message"`
	Cost          float64 `json:"cost"`
	Tasks         []struct {
		StatusCode    int    `json:"status_code"`
		StatusMessage string `json:"status_message"`
		Result        []T    `json:"result"`
	} `json:"tasks"`
}

// firstTask checks the body and task status codes and returns the first task's result.
func firstTask[T any](endpoint string, resp *apiservice.Response) ([]T, error) {
	var env envelope[T]
	if err := resp.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	if env.StatusCode != StatusOK {
		return nil, &apiservice.Error{Code: apiservice.CodeInvalidResponse, Service: ServiceName, Endpoint: endpoint, Message: fmt.Sprintf("status %d: %s", env.StatusCode, env.StatusMessage)}
	}
	if len(env.Tasks) == 0 {
		return nil, &apiservice.Error{Code: apiservice.CodeInvalidResponse, Service: ServiceName, Endpoint: endpoint, Message: "response has no tasks"}
	}
	task := env.Tasks[0]
	if task.StatusCode != StatusOK {
		return nil, &apiservice.Error{Code: apiservice.CodeInvalidResponse, Service: ServiceName, Endpoint: endpoint, Message: fmt.Sprintf("task status %d: %s", task.StatusCode, task.StatusMessage)}
	}
	return task.Result, nil
}

type KeywordVolume struct {
	Keyword      string  `json:"keyword"`
	SearchVolume int64   `json:"search_volume"`
	Competition  float64 `json:"competition"`
	CPC          float64 `json:"cpc"`
}

type KeywordSuggestion struct {
	Keyword     string        `json:"keyword"`
	KeywordInfo KeywordVolume `json:"keyword_info"`
}

type PageAudit struct {
	URL         string          `json:"url"`
	StatusCode  int             `json:"status_code"`
	OnPageScore float64         `json:"onpage_score"`
	Meta        PageMeta        `json:"meta"`
	Checks      map[string]bool `json:"checks"`
}

type PageMeta struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Locale selects the market; zero values mean United States / English.
type Locale struct {
	LocationCode int
	LanguageCode string
}

func (l Locale) params() map[string]any {
	if l.LocationCode == 0 {
		l.LocationCode = 2840
	}
	if l.LanguageCode == "" {
		l.LanguageCode = "en"
	}
	return map[string]any{"location_code": l.LocationCode, "language_code": l.LanguageCode}
}

// Client exposes typed DataForSEO operations over an apiservice.Service.
type Client struct {
	svc *apiservice.Service
}

func NewClient(svc *apiservice.Service) *Client {
	return &Client{svc: svc}
}

func (c *Client) SearchVolume(ctx context.Context, userID uint, keywords []string, loc Locale) ([]KeywordVolume, error) {
	params := loc.params()
	params["keywords"] = keywords
	resp, err := c.svc.RequestWithCache(ctx, apiservice.Request{UserID: userID, Endpoint: EndpointSearchVolume, Params: params})
	if err != nil {
		return nil, err
	}
	return firstTask[KeywordVolume](EndpointSearchVolume, resp)
}

type suggestionResult struct {
	Items []KeywordSuggestion `json:"items"`
}

func (c *Client) KeywordSuggestions(ctx context.Context, userID uint, keyword string, loc Locale, limit int) ([]KeywordSuggestion, error) {
	params := loc.params()
	params["keyword"] = keyword
	if limit > 0 {
		params["limit"] = limit
	}
	resp, err := c.svc.RequestWithCache(ctx, apiservice.Request{UserID: userID, Endpoint: EndpointKeywordSuggestions, Params: params})
	if err != nil {
		return nil, err
	}
	results, err := firstTask[suggestionResult](EndpointKeywordSuggestions, resp)
	if err != nil {
		return nil, err
	}
	var out []KeywordSuggestion
	for _, r := range results {
		out = append(out, r.Items...)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type instantPagesResult struct {
	Items []PageAudit `json:"items"`
}

func (c *Client) InstantPage(ctx context.Context, userID uint, url string) (*PageAudit, error) {
	params := map[string]any{"url": url, "enable_javascript": false}
	resp, err := c.svc.RequestWithCache(ctx, apiservice.Request{UserID: userID, Endpoint: EndpointInstantPages, Params: params})
	if err != nil {
		return nil, err
	}
	results, err := firstTask[instantPagesResult](EndpointInstantPages, resp)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if len(r.Items) > 0 {
			return &r.Items[0], nil
		}
	}
	return nil, &apiservice.Error{Code: apiservice.CodeInvalidResponse, Service: ServiceName, Endpoint: EndpointInstantPages, Message: "no page in result"}
}

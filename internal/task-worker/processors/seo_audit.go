package processors

import (
	"context"
	"errors"
	"sort"
	"strings"

	"ai-task-platform/internal/apiservice/dataforseo"
	"ai-task-platform/internal/task-manager/db"
	"ai-task-platform/pkg/validation"
)

const seoAuditSchema = `{
	"type": "object",
	"properties": {
		"url": {"type": "string", "pattern": "^https?://[^\\s]+$"},
		"target_keywords": {"type": "array", "items": {"type": "string", "minLength": 1}, "maxItems": 20}
	},
	"required": ["url"]
}`

// positiveChecks are on-page checks where true is the healthy value. Every
// other check flags a problem when true.
var positiveChecks = map[string]bool{
	"is_https":         true,
	"has_html_doctype": true,
	"seo_friendly_url": true,
	"has_meta_title":   true,
}

type SEOAuditInputs struct {
	URL            string   `json:"url"`
	TargetKeywords []string `json:"target_keywords"`
}

type SEOAuditOutputs struct {
	URL             string          `json:"url"`
	StatusCode      int             `json:"status_code"`
	OnPageScore     float64         `json:"onpage_score"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Issues          []string        `json:"issues"`
	KeywordCoverage map[string]bool `json:"keyword_coverage,omitempty"`
}

// SEOAudit runs an on-page audit of one URL.
type SEOAudit struct {
	schemaInputs
	client *dataforseo.Client
}

func NewSEOAudit(client *dataforseo.Client) *SEOAudit {
	return &SEOAudit{
		schemaInputs: schemaInputs{validation.MustCompile("seo_audit.json", seoAuditSchema)},
		client:       client,
	}
}

func (p *SEOAudit) Process(ctx context.Context, task *db.Task) (any, error) {
	if p.client == nil {
		return nil, errors.New("dataforseo client is not configured")
	}
	var in SEOAuditInputs
	if err := decodeInputs(task.Inputs, &in); err != nil {
		return nil, err
	}

	page, err := p.client.InstantPage(ctx, systemUser, in.URL)
	if err != nil {
		return nil, err
	}
	out := SEOAuditOutputs{
		URL:         page.URL,
		StatusCode:  page.StatusCode,
		OnPageScore: page.OnPageScore,
		Title:       page.Meta.Title,
		Description: page.Meta.Description,
		Issues:      failedChecks(page.Checks),
	}
	if len(in.TargetKeywords) > 0 {
		haystack := strings.ToLower(page.Meta.Title + " " + page.Meta.Description)
		out.KeywordCoverage = make(map[string]bool, len(in.TargetKeywords))
		for _, kw := range in.TargetKeywords {
			out.KeywordCoverage[kw] = strings.Contains(haystack, strings.ToLower(kw))
		}
	}
	return out, nil
}

func failedChecks(checks map[string]bool) []string {
	issues := []string{}
	for name, value := range checks {
		if value != positiveChecks[name] {
			issues = append(issues, name)
		}
	}
	sort.Strings(issues)
	return issues
}

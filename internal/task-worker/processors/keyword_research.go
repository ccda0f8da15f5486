package processors

import (
	"context"
	"errors"

	"ai-task-platform/internal/apiservice/dataforseo"
	"ai-task-platform/internal/task-manager/db"
	"ai-task-platform/pkg/validation"
)

const keywordResearchSchema = `{
	"type": "object",
	"properties": {
		"keywords": {
			"type": "array",
			"items": {"type": "string", "minLength": 1},
			"minItems": 1,
			"maxItems": 100
		},
		"location_code": {"type": "integer", "minimum": 1},
		"language_code": {"type": "string", "minLength": 2},
		"suggestions_limit": {"type": "integer", "minimum": 0, "maximum": 100}
	},
	"required": ["keywords"]
}`

const defaultSuggestionsLimit = 10

type KeywordResearchInputs struct {
	Keywords         []string `json:"keywords"`
	LocationCode     int      `json:"location_code"`
	LanguageCode     string   `json:"language_code"`
	SuggestionsLimit *int     `json:"suggestions_limit"`
}

type KeywordResearchOutputs struct {
	Keywords    []dataforseo.KeywordVolume     `json:"keywords"`
	Suggestions []dataforseo.KeywordSuggestion `json:"suggestions"`
	TotalVolume int64                          `json:"total_volume"`
}

// KeywordResearch fetches search volume for every keyword and suggestions
// seeded from the first one.
type KeywordResearch struct {
	schemaInputs
	client *dataforseo.Client
}

func NewKeywordResearch(client *dataforseo.Client) *KeywordResearch {
	return &KeywordResearch{
		schemaInputs: schemaInputs{validation.MustCompile("keyword_research.json", keywordResearchSchema)},
		client:       client,
	}
}

func (p *KeywordResearch) Process(ctx context.Context, task *db.Task) (any, error) {
	if p.client == nil {
		return nil, errors.New("dataforseo client is not configured")
	}
	var in KeywordResearchInputs
	if err := decodeInputs(task.Inputs, &in); err != nil {
		return nil, err
	}
	loc := dataforseo.Locale{LocationCode: in.LocationCode, LanguageCode: in.LanguageCode}

	volumes, err := p.client.SearchVolume(ctx, systemUser, in.Keywords, loc)
	if err != nil {
		return nil, err
	}
	out := KeywordResearchOutputs{Keywords: volumes, Suggestions: []dataforseo.KeywordSuggestion{}}
	for _, v := range volumes {
		out.TotalVolume += v.SearchVolume
	}

	limit := defaultSuggestionsLimit
	if in.SuggestionsLimit != nil {
		limit = *in.SuggestionsLimit
	}
	if limit > 0 {
		suggestions, err := p.client.KeywordSuggestions(ctx, systemUser, in.Keywords[0], loc, limit)
		if err != nil {
			return nil, err
		}
		out.Suggestions = append(out.Suggestions, suggestions...)
	}
	return out, nil
}

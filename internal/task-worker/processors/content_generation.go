package processors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ai-task-platform/internal/apiservice/openai"
	"ai-task-platform/internal/task-manager/db"
	"ai-task-platform/pkg/validation"
)

const contentGenerationSchema = `{
	"type": "object",
	"properties": {
		"topic": {"type": "string", "minLength": 3},
		"keywords": {"type": "array", "items": {"type": "string"}, "maxItems": 20},
		"tone": {"enum": ["professional", "casual", "friendly", "authoritative", "informative"]},
		"word_count": {"type": "integer", "minimum": 100, "maximum": 5000},
		"model": {"type": "string"}
	},
	"required": ["topic"]
}`

const (
	defaultTone      = "professional"
	defaultWordCount = 800
)

type ContentGenerationInputs struct {
	Topic     string   `json:"topic"`
	Keywords  []string `json:"keywords"`
	Tone      string   `json:"tone"`
	WordCount int      `json:"word_count"`
	Model     string   `json:"model"`
}

type ContentGenerationOutputs struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	WordCount        int    `json:"word_count"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// ContentGeneration writes an article with a chat completion.
type ContentGeneration struct {
	schemaInputs
	client *openai.Client
}

func NewContentGeneration(client *openai.Client) *ContentGeneration {
	return &ContentGeneration{
		schemaInputs: schemaInputs{validation.MustCompile("content_generation.json", contentGenerationSchema)},
		client:       client,
	}
}

func (p *ContentGeneration) Process(ctx context.Context, task *db.Task) (any, error) {
	if p.client == nil {
		return nil, errors.New("openai client is not configured")
	}
	var in ContentGenerationInputs
	if err := decodeInputs(task.Inputs, &in); err != nil {
		return nil, err
	}
	if in.Tone == "" {
		in.Tone = defaultTone
	}
	if in.WordCount == 0 {
		in.WordCount = defaultWordCount
	}

	res, err := p.client.ChatCompletion(ctx, systemUser, openai.ChatRequest{
		Model:       in.Model,
		Messages:    contentPrompt(in),
		MaxTokens:   in.WordCount*4/3 + 200,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}
	return ContentGenerationOutputs{
		Content:          res.Content,
		Model:            res.Model,
		WordCount:        len(strings.Fields(res.Content)),
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		TotalTokens:      res.TotalTokens,
	}, nil
}

func contentPrompt(in ContentGenerationInputs) []openai.Message {
	var user strings.Builder
	fmt.Fprintf(&user, "Write an article of about %d words on %q.", in.WordCount, in.Topic)
	if len(in.Keywords) > 0 {
		fmt.Fprintf(&user, " Naturally include these keywords: %s.", strings.Join(in.Keywords, ", "))
	}
	user.WriteString(" Use markdown headings.")
	return []openai.Message{
		{Role: "system", Content: fmt.Sprintf("You are an experienced SEO content writer. Write in a %s tone.", in.Tone)},
		{Role: "user", Content: user.String()},
	}
}

package openai

import (
	"context"
	"errors"
	"fmt"

	"ai-task-platform/internal/apiservice"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type ChatResult struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CreditsUsed      int64
	Cached           bool
	Sandbox          bool
}

// Client exposes typed OpenAI operations over an apiservice.Service.
type Client struct {
	svc          *apiservice.Service
	defaultModel string
}

func NewClient(svc *apiservice.Service, defaultModel string) *Client {
	return &Client{svc: svc, defaultModel: defaultModel}
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) ChatCompletion(ctx context.Context, userID uint, req ChatRequest) (*ChatResult, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("chat completion needs at least one message")
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]any{"role": m.Role, "content": m.Content})
	}
	params := map[string]any{"model": model, "messages": messages}
	if req.MaxTokens > 0 {
		params["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		params["temperature"] = req.Temperature
	}

	resp, err := c.svc.RequestWithCache(ctx, apiservice.Request{UserID: userID, Endpoint: EndpointChat, Params: params})
	if err != nil {
		return nil, err
	}
	var parsed chatResponse
	if err := resp.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode chat completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, &apiservice.Error{Code: apiservice.CodeInvalidResponse, Service: ServiceName, Endpoint: EndpointChat, Message: "response has no choices"}
	}
	if parsed.Model == "" {
		parsed.Model = model
	}
	return &ChatResult{
		Content:          parsed.Choices[0].Message.Content,
		Model:            parsed.Model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
		CreditsUsed:      resp.CreditsUsed,
		Cached:           resp.Cached,
		Sandbox:          resp.Sandbox,
	}, nil
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embeddings returns one vector per input, in input order.
func (c *Client) Embeddings(ctx context.Context, userID uint, model string, input []string) ([][]float64, error) {
	if model == "" {
		model = "text-embedding-3-small"
	}
	resp, err := c.svc.RequestWithCache(ctx, apiservice.Request{
		UserID:   userID,
		Endpoint: EndpointEmbeddings,
		Params:   map[string]any{"model": model, "input": input},
	})
	if err != nil {
		return nil, err
	}
	var parsed embeddingResponse
	if err := resp.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embeddings: %w", err)
	}
	out := make([][]float64, len(parsed.Data))
	for i, d := range parsed.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
			continue
		}
		out[i] = d.Embedding
	}
	return out, nil
}

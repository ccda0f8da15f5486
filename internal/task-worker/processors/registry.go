// Package processors holds the task processors for the built-in task types.
package processors

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"ai-task-platform/internal/apiservice/dataforseo"
	"ai-task-platform/internal/apiservice/openai"
	"ai-task-platform/internal/models"
	"ai-task-platform/internal/task-manager/engine"
	"ai-task-platform/pkg/validation"
)

// systemUser is the user id processors call API services with. The task's
// own cost, debited at creation, pays for the calls.
const systemUser uint = 0

// Services are the API clients processors call.
type Services struct {
	OpenAI     *openai.Client
	DataForSEO *dataforseo.Client
}

type Registrar interface {
	RegisterTaskType(t models.TaskType) error
	RegisterTaskProcessor(key models.TaskTypeKey, p engine.Processor) error
}

// Definition pairs a task type with the processor that runs it.
type Definition struct {
	Type models.TaskType
	New  func(Services) engine.Processor
}

func Definitions() []Definition {
	return []Definition{
		{
			Type: models.TaskType{
				Key:         models.TaskTypeKeywordResearch,
				Name:        "Keyword Research",
				Description: "Search volume, competition and suggestions for a keyword list.",
				CreditsCost: 2,
				Category:    "seo",
				Icon:        "search",
				InputSchema: keywordResearchSchema,
			},
			New: func(s Services) engine.Processor { return NewKeywordResearch(s.DataForSEO) },
		},
		{
			Type: models.TaskType{
				Key:              models.TaskTypeContentGeneration,
				Name:             "Content Generation",
				Description:      "Generate an SEO article for a topic and keyword set.",
				CreditsCost:      5,
				RequiresApproval: true,
				Category:         "content",
				Icon:             "edit",
				InputSchema:      contentGenerationSchema,
			},
			New: func(s Services) engine.Processor { return NewContentGeneration(s.OpenAI) },
		},
		{
			Type: models.TaskType{
				Key:         models.TaskTypeSEOAudit,
				Name:        "SEO Audit",
				Description: "On-page audit of a single URL.",
				CreditsCost: 3,
				Category:    "seo",
				Icon:        "chart",
				InputSchema: seoAuditSchema,
			},
			New: func(s Services) engine.Processor { return NewSEOAudit(s.DataForSEO) },
		},
	}
}

// RegisterAll registers every built-in task type and its processor.
func RegisterAll(r Registrar, svc Services) error {
	for _, d := range Definitions() {
		if err := r.RegisterTaskType(d.Type); err != nil {
			return err
		}
		if err := r.RegisterTaskProcessor(d.Type.Key, d.New(svc)); err != nil {
			return err
		}
	}
	return nil
}

// schemaInputs validates inputs against a compiled JSON schema.
type schemaInputs struct {
	schema *validation.Schema
}

func (s schemaInputs) ValidateInputs(inputs json.RawMessage) error {
	return s.schema.Validate(inputs)
}

func decodeInputs(raw []byte, v any) error {
	if err := sonic.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode inputs: %w", err)
	}
	return nil
}

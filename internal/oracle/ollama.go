package oracle

import (
	"context"

	"github.com/kalambet/dashbot/internal/command"
	"github.com/kalambet/dashbot/internal/ollama"
)

// OllamaChatter is the part of the Ollama client the backend needs.
type OllamaChatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, schema *ollama.Schema) (string, error)
}

// OllamaBackend adapts a local Ollama model to Backend, constraining its
// output with the command JSON schema.
type OllamaBackend struct {
	client OllamaChatter
	model  string
}

func NewOllamaBackend(client OllamaChatter, model string) *OllamaBackend {
	return &OllamaBackend{client: client, model: model}
}

func (b *OllamaBackend) Complete(ctx context.Context, system, user string) (string, error) {
	return b.client.Chat(ctx, b.model, []ollama.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, commandSchema())
}

func commandSchema() *ollama.Schema {
	categories := []string{string(command.Unknown)}
	for _, c := range command.Categories {
		categories = append(categories, string(c))
	}
	return &ollama.Schema{
		Type: "object",
		Properties: map[string]ollama.Schema{
			"action":                 {Type: "string", Enum: []string{string(command.ActionAdd), string(command.ActionRemove)}},
			"category":               {Type: "string", Enum: categories},
			"data":                   {Type: "object", Description: "Category-specific fields"},
			"confidence":             {Type: "number", Description: "Between 0 and 1"},
			"needs_clarification":    {Type: "boolean"},
			"clarification_question": {Type: "string"},
		},
		Required: []string{"action", "category", "data", "confidence", "needs_clarification"},
	}
}

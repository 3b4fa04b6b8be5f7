package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIGenerator produces script content via the OpenAI Chat Completions API.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

// NewOpenAIGenerator creates an OpenAI-backed generator. An empty model
// selects a default; an empty apiKey falls back to the SDK's environment
// lookup.
func NewOpenAIGenerator(model, apiKey string) *OpenAIGenerator {
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &OpenAIGenerator{
		client: openai.NewClient(clientOpts...),
		model:  model,
	}
}

// Generate implements ContentGenerator.
func (g *OpenAIGenerator) Generate(ctx context.Context, analysis Analysis, format string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(analysis, format)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("genai: openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("genai: openai: no choices returned")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("genai: openai: empty response")
	}
	return content, nil
}

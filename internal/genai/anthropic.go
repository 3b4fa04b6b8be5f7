package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicGenerator produces script content via the Anthropic Messages API.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicGenerator creates an Anthropic-backed generator. An empty
// model selects a default; an empty apiKey falls back to the SDK's
// environment lookup.
func NewAnthropicGenerator(model, apiKey string) *AnthropicGenerator {
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaudeSonnet4_20250514
	}
	return &AnthropicGenerator{
		client:    anthropic.NewClient(clientOpts...),
		model:     m,
		maxTokens: 4096,
	}
}

// Generate implements ContentGenerator.
func (g *AnthropicGenerator) Generate(ctx context.Context, analysis Analysis, format string) (string, error) {
	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(analysis, format))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("genai: anthropic: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		return "", fmt.Errorf("genai: anthropic: empty response")
	}
	return content, nil
}

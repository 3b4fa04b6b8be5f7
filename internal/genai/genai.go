// Package genai defines the content-generation capability used by the
// generator agent, with Anthropic, OpenAI and offline template providers.
// The pipeline only depends on the ContentGenerator interface, never on a
// specific provider.
package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/mbellotti/testyard/internal/config"
)

// Analysis is the structured description of a test produced by the analyzer
// and consumed by generation.
type Analysis struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"` // "api" or "ui"
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
	Assertions  []string `json:"assertions"`
}

// ContentGenerator produces script content for an analysis in a target
// format (pytest, playwright, yaml).
type ContentGenerator interface {
	Generate(ctx context.Context, analysis Analysis, format string) (string, error)
}

// NewFromConfig builds the configured provider.
func NewFromConfig(cfg config.GeneratorConfig) (ContentGenerator, error) {
	switch cfg.Provider {
	case "template":
		return NewTemplateGenerator(), nil
	case "anthropic":
		return NewAnthropicGenerator(cfg.Model, cfg.APIKey), nil
	case "openai":
		return NewOpenAIGenerator(cfg.Model, cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("genai: unknown provider %q", cfg.Provider)
	}
}

// buildPrompt renders the generation prompt sent to model providers.
func buildPrompt(analysis Analysis, format string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %s test script named %q.\n", format, analysis.Name)
	if analysis.Description != "" {
		fmt.Fprintf(&b, "Purpose: %s\n", analysis.Description)
	}
	if len(analysis.Steps) > 0 {
		b.WriteString("Steps:\n")
		for i, s := range analysis.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
	}
	if len(analysis.Assertions) > 0 {
		b.WriteString("Assertions:\n")
		for _, a := range analysis.Assertions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	b.WriteString("Return only the script content, no surrounding explanation.\n")
	return b.String()
}

const systemPrompt = "You are a senior test engineer. You write complete, runnable test scripts " +
	"and reply with raw script content only, with no markdown fences, no commentary."

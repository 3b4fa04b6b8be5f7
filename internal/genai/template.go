package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/mbellotti/testyard/internal/models"
)

// TemplateGenerator renders script skeletons offline from the analysis alone.
// It is the default provider and the test double for the model-backed ones.
type TemplateGenerator struct{}

// NewTemplateGenerator creates a TemplateGenerator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// Generate renders a runnable skeleton for the target format.
func (g *TemplateGenerator) Generate(_ context.Context, analysis Analysis, format string) (string, error) {
	switch format {
	case models.FormatPytest:
		return g.pytest(analysis), nil
	case models.FormatPlaywright:
		return g.playwright(analysis), nil
	case models.FormatYAML:
		return g.yamlSuite(analysis), nil
	default:
		return "", fmt.Errorf("genai: unsupported format %q", format)
	}
}

func (g *TemplateGenerator) pytest(a Analysis) string {
	var b strings.Builder
	b.WriteString("import pytest\nimport requests\n\n\n")
	fmt.Fprintf(&b, "def test_%s():\n", identifier(a.Name))
	fmt.Fprintf(&b, "    \"\"\"%s\"\"\"\n", a.Description)
	for _, s := range a.Steps {
		fmt.Fprintf(&b, "    # %s\n", s)
	}
	for _, assertion := range a.Assertions {
		fmt.Fprintf(&b, "    assert True, %q\n", assertion)
	}
	if len(a.Assertions) == 0 {
		b.WriteString("    assert True\n")
	}
	return b.String()
}

func (g *TemplateGenerator) playwright(a Analysis) string {
	var b strings.Builder
	b.WriteString("import { test, expect } from '@playwright/test';\n\n")
	fmt.Fprintf(&b, "test('%s', async ({ page }) => {\n", escapeSingle(a.Name))
	for _, s := range a.Steps {
		fmt.Fprintf(&b, "  // %s\n", s)
	}
	for _, assertion := range a.Assertions {
		fmt.Fprintf(&b, "  // expect: %s\n", assertion)
	}
	b.WriteString("  await expect(page).toBeDefined();\n});\n")
	return b.String()
}

func (g *TemplateGenerator) yamlSuite(a Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "name: %s\n", a.Name)
	fmt.Fprintf(&b, "description: %s\n", a.Description)
	b.WriteString("steps:\n")
	for _, s := range a.Steps {
		fmt.Fprintf(&b, "  - name: %s\n", s)
	}
	b.WriteString("assertions:\n")
	for _, assertion := range a.Assertions {
		fmt.Fprintf(&b, "  - %s\n", assertion)
	}
	return b.String()
}

// identifier converts a test name to a python identifier fragment.
func identifier(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := strings.Trim(b.String(), "_")
	if s == "" {
		return "generated"
	}
	return s
}

func escapeSingle(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

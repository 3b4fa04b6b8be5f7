package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mbellotti/testyard/internal/bus"
	"github.com/mbellotti/testyard/internal/genai"
	"github.com/mbellotti/testyard/internal/models"
	"github.com/mbellotti/testyard/internal/stream"
)

// uiKeywords mark a description as a UI test rather than an API test.
var uiKeywords = []string{"click", "page", "browser", "navigate", "button", "form", "screen", "ui"}

// Analyzer turns a raw test description into a structured analysis and
// forwards it to the generation stage.
type Analyzer struct {
	sink bus.EventSink
}

// NewAnalyzer creates an Analyzer emitting progress to sink.
func NewAnalyzer(sink bus.EventSink) *Analyzer {
	return &Analyzer{sink: sink}
}

// Name implements bus.Handler.
func (a *Analyzer) Name() string { return "analyzer" }

// Handle implements bus.Handler.
func (a *Analyzer) Handle(_ context.Context, msg bus.Message) ([]bus.Message, error) {
	req, ok := msg.Payload.(AnalysisRequest)
	if !ok {
		return nil, fmt.Errorf("agent: analyzer: unexpected payload %T", msg.Payload)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("agent: analyzer: empty description")
	}

	format := req.TargetFormat
	if format == "" {
		format = models.FormatPytest
	}

	analysis := Analyze(req.Text)
	emit(a.sink, msg, a.Name(), "analysis",
		fmt.Sprintf("analyzed %q: %d step(s), %d assertion(s)", analysis.Name, len(analysis.Steps), len(analysis.Assertions)),
		stream.RegionAnalysis, false)

	next := bus.NewMessage(TopicGeneration, a.Name(), msg.SessionID, GenerationRequest{
		Analysis:     analysis,
		TargetFormat: format,
		Execute:      req.Execute,
	})
	return []bus.Message{next}, nil
}

// assertionMarkers flag a line as an expected-outcome statement.
var assertionMarkers = []string{"should", "expect", "assert", "verify", "must"}

// Analyze extracts a structured analysis from free-form text. Lines reading
// like expectations become assertions; the rest become steps.
func Analyze(text string) genai.Analysis {
	lines := splitLines(text)

	name := lines[0]
	if len(name) > 64 {
		name = name[:64]
	}

	analysis := genai.Analysis{
		Name:        name,
		Kind:        classify(text),
		Description: strings.TrimSpace(text),
	}

	for _, line := range lines {
		if isAssertion(line) {
			analysis.Assertions = append(analysis.Assertions, line)
		} else {
			analysis.Steps = append(analysis.Steps, line)
		}
	}
	return analysis
}

// splitLines breaks text into trimmed, non-empty lines, falling back to
// sentence splitting for single-line input.
func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. ")); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 1 && strings.Contains(lines[0], ". ") {
		parts := strings.Split(lines[0], ". ")
		lines = lines[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(strings.TrimSuffix(p, ".")); p != "" {
				lines = append(lines, p)
			}
		}
	}
	if len(lines) == 0 {
		lines = []string{"generated test"}
	}
	return lines
}

func classify(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range uiKeywords {
		if strings.Contains(lower, kw) {
			return "ui"
		}
	}
	return "api"
}

func isAssertion(line string) bool {
	lower := strings.ToLower(line)
	for _, m := range assertionMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

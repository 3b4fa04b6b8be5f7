package agent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/mbellotti/testyard/internal/bus"
	"github.com/mbellotti/testyard/internal/executor"
	"github.com/mbellotti/testyard/internal/genai"
	"github.com/mbellotti/testyard/internal/stream"
)

// Generator produces script content for an analysis via the injected
// content-generation capability and forwards it to storage.
type Generator struct {
	gen  genai.ContentGenerator
	sink bus.EventSink
}

// NewGenerator creates a Generator.
func NewGenerator(gen genai.ContentGenerator, sink bus.EventSink) (*Generator, error) {
	if gen == nil {
		return nil, fmt.Errorf("agent: generator: content generator is required")
	}
	return &Generator{gen: gen, sink: sink}, nil
}

// Name implements bus.Handler.
func (g *Generator) Name() string { return "generator" }

// Handle implements bus.Handler.
func (g *Generator) Handle(ctx context.Context, msg bus.Message) ([]bus.Message, error) {
	req, ok := msg.Payload.(GenerationRequest)
	if !ok {
		return nil, fmt.Errorf("agent: generator: unexpected payload %T", msg.Payload)
	}

	content, err := g.gen.Generate(ctx, req.Analysis, req.TargetFormat)
	if err != nil {
		return nil, fmt.Errorf("agent: generate %s script: %w", req.TargetFormat, err)
	}

	scriptID, err := GenerateScriptID()
	if err != nil {
		return nil, err
	}

	emit(g.sink, msg, g.Name(), "generation",
		fmt.Sprintf("generated %s script %q (%d bytes)", req.TargetFormat, req.Analysis.Name, len(content)),
		stream.RegionGeneration, false)

	save := ScriptSaveRequest{
		ScriptID: scriptID,
		Name:     req.Analysis.Name,
		Format:   req.TargetFormat,
		Content:  content,
		Execute:  req.Execute,
	}
	if req.Execute {
		// Minted here, not at the execution stage, so a redelivered save
		// message reuses the same execution id.
		if save.ExecutionID, err = executor.GenerateExecutionID(); err != nil {
			return nil, err
		}
	}
	next := bus.NewMessage(TopicStorage, g.Name(), msg.SessionID, save)
	return []bus.Message{next}, nil
}

// GenerateScriptID creates a unique script ID in scr-xxxxxxxx format (8-char hex).
func GenerateScriptID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("agent: generate script ID: %w", err)
	}
	return "scr-" + hex.EncodeToString(b), nil
}

// Package agent implements the pipeline stages that cooperate over the
// message bus: analyzer, generator, saver and executor. Each agent is bound
// to one topic and constructed per session with that session's event channel.
package agent

import (
	"time"

	"github.com/mbellotti/testyard/internal/bus"
	"github.com/mbellotti/testyard/internal/genai"
	"github.com/mbellotti/testyard/internal/stream"
)

// Pipeline topics. Storage is the last stage of a generation-only run;
// execution is the last stage when the session asked for the script to run.
const (
	TopicAnalysis   bus.Topic = "analysis"
	TopicGeneration bus.Topic = "generation"
	TopicStorage    bus.Topic = "storage"
	TopicExecution  bus.Topic = "execution"
)

// AnalysisRequest starts the generation pipeline from a raw description.
// Execute asks for the saved script to be run as the pipeline's last stage.
type AnalysisRequest struct {
	Text         string
	TargetFormat string
	Execute      bool
}

// GenerationRequest carries the structured analysis to the generator.
type GenerationRequest struct {
	Analysis     genai.Analysis
	TargetFormat string
	Execute      bool
}

// ScriptSaveRequest carries generated content to storage. When Execute is
// set the saver forwards the script to the execution stage under the
// pre-minted ExecutionID, so redelivery cannot run the script twice.
type ScriptSaveRequest struct {
	ScriptID    string
	Name        string
	Format      string
	Content     string
	Execute     bool
	ExecutionID string
}

// ExecutionRequest asks the executor agent to run a script. ExecutionID is
// minted by the requester so redelivery cannot run the script twice.
type ExecutionRequest struct {
	ExecutionID    string
	ScriptID       string
	Format         string
	Content        string
	TimeoutSeconds int
}

// emit pushes one progress event onto the session channel.
func emit(sink bus.EventSink, msg bus.Message, source, typ, content, region string, final bool) {
	if sink == nil {
		return
	}
	sink.Push(stream.Event{
		MessageID: msg.ID,
		SessionID: msg.SessionID,
		Source:    source,
		Type:      typ,
		Content:   content,
		Region:    region,
		IsFinal:   final,
		Timestamp: time.Now(),
	})
}

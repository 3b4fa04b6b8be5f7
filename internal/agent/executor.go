package agent

import (
	"context"
	"fmt"

	"github.com/mbellotti/testyard/internal/bus"
	"github.com/mbellotti/testyard/internal/executor"
	"github.com/mbellotti/testyard/internal/models"
	"github.com/mbellotti/testyard/internal/stream"
)

// Executor is the terminal pipeline stage: it runs a script through the
// execution engine and reports the terminal record as the final event.
type Executor struct {
	engine *executor.Engine
	sink   bus.EventSink
}

// NewExecutor creates an Executor.
func NewExecutor(engine *executor.Engine, sink bus.EventSink) (*Executor, error) {
	if engine == nil {
		return nil, fmt.Errorf("agent: executor: engine is required")
	}
	return &Executor{engine: engine, sink: sink}, nil
}

// Name implements bus.Handler.
func (e *Executor) Name() string { return "executor" }

// Handle implements bus.Handler. The execution id rides in the request, so
// redelivery returns the already-terminal record instead of running twice.
func (e *Executor) Handle(ctx context.Context, msg bus.Message) ([]bus.Message, error) {
	req, ok := msg.Payload.(ExecutionRequest)
	if !ok {
		return nil, fmt.Errorf("agent: executor: unexpected payload %T", msg.Payload)
	}

	emit(e.sink, msg, e.Name(), "execution_started",
		fmt.Sprintf("executing script %s (%s)", req.ScriptID, req.Format),
		stream.RegionProcess, false)

	rec, err := e.engine.Execute(ctx, executor.Request{
		ExecutionID:    req.ExecutionID,
		ScriptID:       req.ScriptID,
		SessionID:      msg.SessionID,
		TriggerType:    models.TriggerManual,
		Content:        req.Content,
		Format:         req.Format,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: execute %s: %w", req.ScriptID, err)
	}

	content := fmt.Sprintf("execution %s %s: %d total, %d passed, %d failed, %d skipped",
		rec.ID, rec.Status, rec.Total, rec.Passed, rec.Failed, rec.Skipped)
	if rec.ErrorMessage != "" {
		content += ": " + rec.ErrorMessage
	}
	region := stream.RegionProcess
	if rec.Status != models.ExecStatusCompleted {
		region = stream.RegionError
	}
	emit(e.sink, msg, e.Name(), "execution_finished", content, region, true)
	return nil, nil
}

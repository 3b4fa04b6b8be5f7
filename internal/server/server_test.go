package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mbellotti/testyard/internal/config"
	"github.com/mbellotti/testyard/internal/db"
	"github.com/mbellotti/testyard/internal/executor"
	"github.com/mbellotti/testyard/internal/genai"
	"github.com/mbellotti/testyard/internal/models"
	"github.com/mbellotti/testyard/internal/scheduler"
	"github.com/mbellotti/testyard/internal/stream"
)

type testEnv struct {
	db     *gorm.DB
	server *Server
	router *gin.Engine
}

// newTestEnv builds a Server over sqlite with the engine running scripts
// through sh (yaml format), so test scripts are plain shell.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, genai.NewTemplateGenerator())
}

func newTestEnvWith(t *testing.T, generator genai.ContentGenerator) *testEnv {
	t.Helper()
	gdb, err := db.Connect(config.StorageConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "ty.db"),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	engine, err := executor.New(gdb, config.ExecutorConfig{
		MaxWorkers: 2,
		WorkRoot:   t.TempDir(),
		Commands:   map[string]string{models.FormatYAML: "sh {script}"},
	})
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	sched, err := scheduler.New(scheduler.Opts{
		DB:     gdb,
		Engine: engine,
		Config: config.SchedulerConfig{TickSeconds: 1},
	})
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	sessions := stream.NewManager(stream.ManagerOpts{})
	t.Cleanup(sessions.Stop)

	srv, err := New(Opts{
		DB:        gdb,
		Config:    config.ServerConfig{Port: 0, HeartbeatSeconds: 1},
		Sessions:  sessions,
		Engine:    engine,
		Scheduler: sched,
		Generator: generator,
		UploadDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{db: gdb, server: srv, router: srv.Router()}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createScript(t *testing.T, content string) models.Script {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/scripts", map[string]string{
		"name":    "sample",
		"format":  models.FormatYAML,
		"content": content,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create script = %d: %s", w.Code, w.Body.String())
	}
	var script models.Script
	if err := json.Unmarshal(w.Body.Bytes(), &script); err != nil {
		t.Fatalf("unmarshal script: %v", err)
	}
	return script
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
}

func TestScriptCRUD(t *testing.T) {
	env := newTestEnv(t)

	script := env.createScript(t, `echo "1 passed"`)
	if !strings.HasPrefix(script.ID, "scr-") {
		t.Errorf("script id = %q, want scr- prefix", script.ID)
	}

	w := env.do(t, http.MethodGet, "/api/scripts/"+script.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get script = %d", w.Code)
	}

	w = env.do(t, http.MethodPut, "/api/scripts/"+script.ID, map[string]string{"name": "renamed"})
	if w.Code != http.StatusOK {
		t.Fatalf("update script = %d: %s", w.Code, w.Body.String())
	}
	var updated models.Script
	json.Unmarshal(w.Body.Bytes(), &updated)
	if updated.Name != "renamed" {
		t.Errorf("name = %q, want renamed", updated.Name)
	}

	w = env.do(t, http.MethodGet, "/api/scripts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list scripts = %d", w.Code)
	}
	var scripts []models.Script
	json.Unmarshal(w.Body.Bytes(), &scripts)
	if len(scripts) != 1 {
		t.Errorf("scripts = %d, want 1", len(scripts))
	}

	w = env.do(t, http.MethodDelete, "/api/scripts/"+script.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete script = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/scripts/"+script.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get deleted script = %d, want 404", w.Code)
	}
}

func TestCreateScript_Validation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/scripts", map[string]string{"name": "x", "format": "ruby", "content": "y"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad format = %d, want 400", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/scripts", map[string]string{"format": models.FormatYAML})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing fields = %d, want 400", w.Code)
	}
}

func TestRunScript_AndQueryExecution(t *testing.T) {
	env := newTestEnv(t)
	script := env.createScript(t, `echo "3 passed, 1 failed"`)

	w := env.do(t, http.MethodPost, "/api/scripts/"+script.ID+"/run", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("run = %d: %s", w.Code, w.Body.String())
	}
	var accepted struct {
		ExecutionID string `json:"execution_id"`
	}
	json.Unmarshal(w.Body.Bytes(), &accepted)
	if !strings.HasPrefix(accepted.ExecutionID, "exec-") {
		t.Fatalf("execution id = %q", accepted.ExecutionID)
	}

	// Poll until the background run reaches a terminal state.
	var rec models.Execution
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		w = env.do(t, http.MethodGet, "/api/executions/"+accepted.ExecutionID, nil)
		if w.Code == http.StatusOK {
			json.Unmarshal(w.Body.Bytes(), &rec)
			if rec.Terminal() {
				break
			}
		}
		time.Sleep(25 * time.Millisecond)
	}
	if rec.Status != models.ExecStatusCompleted {
		t.Errorf("status = %q, want completed (case failures live in counters)", rec.Status)
	}
	if rec.Passed != 3 || rec.Failed != 1 {
		t.Errorf("summary = %d passed %d failed, want 3/1", rec.Passed, rec.Failed)
	}

	w = env.do(t, http.MethodGet, "/api/executions?script_id="+script.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list executions = %d", w.Code)
	}
	var recs []models.Execution
	json.Unmarshal(w.Body.Bytes(), &recs)
	if len(recs) != 1 {
		t.Errorf("executions = %d, want 1", len(recs))
	}
}

func TestStopExecution_NotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/executions/exec-missing/stop", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("stop missing = %d, want 404", w.Code)
	}
}

func TestTaskEndpoints(t *testing.T) {
	env := newTestEnv(t)
	script := env.createScript(t, `echo "1 passed"`)

	w := env.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"script_id":        script.ID,
		"schedule_type":    "interval",
		"interval_seconds": 3600,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create task = %d: %s", w.Code, w.Body.String())
	}
	var task models.ScheduledTask
	json.Unmarshal(w.Body.Bytes(), &task)
	if !strings.HasPrefix(task.ID, "task-") {
		t.Errorf("task id = %q", task.ID)
	}

	w = env.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"script_id":     script.ID,
		"schedule_type": "cron",
		"cron_expr":     "bogus",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad cron = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/pause", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pause = %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/resume", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resume = %d", w.Code)
	}

	// Manual run blocks until terminal and returns the record.
	w = env.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/run", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("run now = %d: %s", w.Code, w.Body.String())
	}
	var rec models.Execution
	json.Unmarshal(w.Body.Bytes(), &rec)
	if rec.Status != models.ExecStatusCompleted {
		t.Errorf("manual run status = %q, want completed", rec.Status)
	}
	if rec.TriggerType != models.TriggerManual {
		t.Errorf("trigger = %q, want manual", rec.TriggerType)
	}

	w = env.do(t, http.MethodDelete, "/api/tasks/"+task.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("disable = %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/run", nil)
	if w.Code == http.StatusOK {
		t.Error("ran a disabled task")
	}

	w = env.do(t, http.MethodGet, "/api/tasks/task-missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get missing task = %d, want 404", w.Code)
	}
}

// streamEvents drives the session's SSE handler to completion and returns
// the raw stream body.
func (e *testEnv) streamEvents(t *testing.T, sessionID string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sessionID+"/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.router.ServeHTTP(rec, req)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("SSE handler did not finish before deadline")
	}
	return rec.Body.String()
}

// lastStreamedEvent parses the last pipeline event in an SSE body.
func lastStreamedEvent(t *testing.T, body string) stream.Event {
	t.Helper()
	var lastData string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "session_id") {
			lastData = strings.TrimPrefix(line, "data: ")
		}
	}
	var ev stream.Event
	if err := json.Unmarshal([]byte(lastData), &ev); err != nil {
		t.Fatalf("unmarshal last event %q: %v", lastData, err)
	}
	return ev
}

func TestSessionLifecycleWithSSE(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/sessions", map[string]string{
		"text":          "User can log in. It should show the dashboard.",
		"target_format": models.FormatPytest,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("create session = %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)
	if !strings.HasPrefix(created.ID, "sess-") {
		t.Fatalf("session id = %q", created.ID)
	}
	if created.Status != stream.SessionProcessing {
		t.Errorf("status = %q, want processing", created.Status)
	}

	w = env.do(t, http.MethodGet, "/api/sessions/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get session = %d", w.Code)
	}

	// Stream events until the final one arrives.
	body := env.streamEvents(t, created.ID)
	if !strings.Contains(body, "event: connected") {
		t.Error("missing connected event")
	}
	// Pipeline events are named after their type.
	for _, name := range []string{"event: analysis", "event: generation", "event: script_saved"} {
		if !strings.Contains(body, name) {
			t.Errorf("missing %q in stream:\n%s", name, body)
		}
	}
	if !strings.Contains(body, `"is_final":true`) {
		t.Errorf("missing final event in stream:\n%s", body)
	}

	lastEvent := lastStreamedEvent(t, body)
	if !lastEvent.IsFinal {
		t.Errorf("last event = %+v, want final", lastEvent)
	}

	// The generated script was persisted.
	var count int64
	env.db.Model(&models.Script{}).Count(&count)
	if count != 1 {
		t.Errorf("scripts = %d, want 1", count)
	}

	// Streaming the final event completed the session.
	w = env.do(t, http.MethodGet, "/api/sessions/"+created.ID, nil)
	var info sessionResponse
	json.Unmarshal(w.Body.Bytes(), &info)
	if info.Status != stream.SessionCompleted {
		t.Errorf("session status = %q, want completed", info.Status)
	}

	w = env.do(t, http.MethodDelete, "/api/sessions/"+created.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete session = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/sessions/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get evicted session = %d, want 404", w.Code)
	}
}

// scriptedGenerator emits fixed content so generated scripts are runnable
// shell under the test engine.
type scriptedGenerator struct{ content string }

func (g scriptedGenerator) Generate(context.Context, genai.Analysis, string) (string, error) {
	return g.content, nil
}

func TestSessionWithExecute_FinalEventIsExecutionReport(t *testing.T) {
	env := newTestEnvWith(t, scriptedGenerator{content: `echo "1 passed"`})

	w := env.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"text":          "Smoke check. It should pass.",
		"target_format": models.FormatYAML,
		"execute":       true,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("create session = %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)

	body := env.streamEvents(t, created.ID)
	for _, name := range []string{"event: script_saved", "event: execution_started", "event: execution_finished"} {
		if !strings.Contains(body, name) {
			t.Errorf("missing %q in stream:\n%s", name, body)
		}
	}

	last := lastStreamedEvent(t, body)
	if !last.IsFinal {
		t.Errorf("last event = %+v, want final", last)
	}
	if last.Source != "executor" {
		t.Errorf("final source = %q, want executor", last.Source)
	}
	if last.Region != stream.RegionProcess {
		t.Errorf("final region = %q, want process", last.Region)
	}

	// The run left a terminal execution record.
	w = env.do(t, http.MethodGet, "/api/executions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list executions = %d", w.Code)
	}
	var recs []models.Execution
	json.Unmarshal(w.Body.Bytes(), &recs)
	if len(recs) != 1 {
		t.Fatalf("executions = %d, want 1", len(recs))
	}
	if recs[0].Status != models.ExecStatusCompleted {
		t.Errorf("execution status = %q, want completed", recs[0].Status)
	}

	// Streaming the final event completed the session.
	w = env.do(t, http.MethodGet, "/api/sessions/"+created.ID, nil)
	var info sessionResponse
	json.Unmarshal(w.Body.Bytes(), &info)
	if info.Status != stream.SessionCompleted {
		t.Errorf("session status = %q, want completed", info.Status)
	}
}

// brokenGenerator models an unavailable model backend.
type brokenGenerator struct{}

func (brokenGenerator) Generate(context.Context, genai.Analysis, string) (string, error) {
	return "", fmt.Errorf("model unavailable")
}

func TestSessionGeneratorFailure_DeliversFinalErrorEvent(t *testing.T) {
	env := newTestEnvWith(t, brokenGenerator{})

	w := env.do(t, http.MethodPost, "/api/sessions", map[string]string{
		"text": "User can log in. It should show the dashboard.",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("create session = %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	json.Unmarshal(w.Body.Bytes(), &created)

	// The stream must still terminate: the generator failure is the last
	// reachable stage, so its error event is final.
	body := env.streamEvents(t, created.ID)
	if !strings.Contains(body, "event: error") {
		t.Errorf("missing error event in stream:\n%s", body)
	}
	last := lastStreamedEvent(t, body)
	if !last.IsFinal {
		t.Errorf("last event = %+v, want final", last)
	}
	if last.Region != stream.RegionError {
		t.Errorf("final region = %q, want error", last.Region)
	}
	if !strings.Contains(last.Content, "model unavailable") {
		t.Errorf("final content = %q, want generator error", last.Content)
	}

	w = env.do(t, http.MethodGet, "/api/sessions/"+created.ID, nil)
	var info sessionResponse
	json.Unmarshal(w.Body.Bytes(), &info)
	if info.Status != stream.SessionFailed {
		t.Errorf("session status = %q, want failed", info.Status)
	}
}

func TestCreateSession_Validation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/sessions", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body = %d, want 400", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/sessions", map[string]string{"text": "x", "target_format": "ruby"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad format = %d, want 400", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/sessions", map[string]string{"document_id": "doc-missing"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing document = %d, want 400", w.Code)
	}
}

func TestDocumentUploadAndSessionFromDocument(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "requirements.txt")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fmt.Fprint(fw, "User can reset their password. It must send an email.")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d: %s", w.Code, w.Body.String())
	}
	var doc models.Document
	json.Unmarshal(w.Body.Bytes(), &doc)
	if !strings.HasPrefix(doc.ID, "doc-") || doc.Name != "requirements.txt" {
		t.Errorf("document = %+v", doc)
	}

	got := env.do(t, http.MethodGet, "/api/documents/"+doc.ID, nil)
	if got.Code != http.StatusOK {
		t.Errorf("get document = %d", got.Code)
	}

	created := env.do(t, http.MethodPost, "/api/sessions", map[string]string{"document_id": doc.ID})
	if created.Code != http.StatusAccepted {
		t.Errorf("session from document = %d: %s", created.Code, created.Body.String())
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Error("expected error for zero opts")
	}
}

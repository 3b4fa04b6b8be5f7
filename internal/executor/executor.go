// Package executor runs test scripts as external OS processes: it prepares
// an isolated working directory per execution, spawns the runner under a
// bounded worker pool, enforces a wall-clock timeout, captures output, and
// records the outcome exactly once.
package executor

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mbellotti/testyard/internal/config"
	"github.com/mbellotti/testyard/internal/models"
	"gorm.io/gorm"
)

// Engine executes scripts. Safe for concurrent use; the semaphore bounds the
// number of live OS processes regardless of how many sessions request work.
type Engine struct {
	db  *gorm.DB
	cfg config.ExecutorConfig
	sem chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	stopped map[string]bool
}

// Request describes one execution. ExecutionID may be pre-minted by the
// caller; re-sending a request with the same id returns the existing record
// instead of running twice.
type Request struct {
	ExecutionID       string
	ScriptID          string
	SessionID         string
	TaskID            *string
	TriggerType       string
	IsRetry           bool
	ParentExecutionID *string
	Content           string
	Format            string
	TimeoutSeconds    int // overrides the engine default when > 0
}

// New creates an Engine.
func New(db *gorm.DB, cfg config.ExecutorConfig) (*Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("executor: db is required")
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 300
	}
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = os.TempDir()
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 1 << 20
	}
	return &Engine{
		db:      db,
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxWorkers),
		cancels: make(map[string]context.CancelFunc),
		stopped: make(map[string]bool),
	}, nil
}

// GenerateExecutionID creates a unique execution ID in exec-xxxxxxxx format (8-char hex).
func GenerateExecutionID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("executor: generate execution ID: %w", err)
	}
	return "exec-" + hex.EncodeToString(b), nil
}

// InFlight returns the number of currently-running processes.
func (e *Engine) InFlight() int {
	return len(e.sem)
}

// Execute runs one script to a terminal state and returns its record. It
// blocks while queued behind the worker pool and while the process runs.
func (e *Engine) Execute(ctx context.Context, req Request) (*models.Execution, error) {
	if req.Content == "" {
		return nil, fmt.Errorf("executor: script content is required")
	}
	fileName, err := scriptFileName(req.Format)
	if err != nil {
		return nil, err
	}

	id := req.ExecutionID
	if id == "" {
		if id, err = GenerateExecutionID(); err != nil {
			return nil, err
		}
	}
	if req.TriggerType == "" {
		req.TriggerType = models.TriggerManual
	}

	now := time.Now()
	rec := models.Execution{
		ID:                id,
		ScriptID:          req.ScriptID,
		SessionID:         req.SessionID,
		TaskID:            req.TaskID,
		Status:            models.ExecStatusPending,
		TriggerType:       req.TriggerType,
		IsRetry:           req.IsRetry,
		ParentExecutionID: req.ParentExecutionID,
		StartTime:         now,
		CreatedAt:         now,
	}
	if err := e.db.Create(&rec).Error; err != nil {
		// At-least-once delivery: the same request id must not run twice.
		var existing models.Execution
		if getErr := e.db.First(&existing, "id = ?", id).Error; getErr == nil {
			return &existing, nil
		}
		return nil, fmt.Errorf("executor: create record %s: %w", id, err)
	}

	// Bounded worker pool: queue here rather than spawning unboundedly.
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return e.finalize(&rec, models.ExecStatusCancelled, nil, "cancelled while queued", Summary{}, "", "")
	}
	defer func() { <-e.sem }()

	// Cooperative stop: a Stop before spawn cancels without starting.
	if e.isStopped(id) {
		return e.finalize(&rec, models.ExecStatusCancelled, nil, "execution stopped by request", Summary{}, "", "")
	}

	return e.run(ctx, &rec, req, fileName)
}

// run prepares the working directory, spawns the process, and classifies the
// outcome.
func (e *Engine) run(ctx context.Context, rec *models.Execution, req Request, fileName string) (*models.Execution, error) {
	workDir, err := os.MkdirTemp(e.cfg.WorkRoot, "ty-"+rec.ID+"-")
	if err != nil {
		return e.finalize(rec, models.ExecStatusFailed, nil, fmt.Sprintf("prepare workdir: %v", err), Summary{}, "", "")
	}

	scriptPath := filepath.Join(workDir, fileName)
	if err := os.WriteFile(scriptPath, []byte(req.Content), 0o644); err != nil {
		return e.finalize(rec, models.ExecStatusFailed, nil, fmt.Sprintf("write script: %v", err), Summary{}, "", "")
	}
	resultPath := filepath.Join(workDir, "result.json")

	timeout := time.Duration(e.cfg.TimeoutSeconds) * time.Second
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	e.registerCancel(rec.ID, cancel)
	defer e.clearCancel(rec.ID)

	rec.WorkDir = workDir
	rec.Status = models.ExecStatusRunning
	if err := e.db.Model(&models.Execution{}).Where("id = ?", rec.ID).
		Updates(map[string]any{"status": models.ExecStatusRunning, "work_dir": workDir}).Error; err != nil {
		log.Printf("executor: mark %s running: %v", rec.ID, err)
	}

	cmd, err := buildCommand(runCtx, req.Format, workDir, scriptPath, resultPath, e.cfg.Commands)
	if err != nil {
		return e.finalize(rec, models.ExecStatusFailed, nil, err.Error(), Summary{}, "", "")
	}

	outBuf := newCappedBuffer(e.cfg.MaxOutputBytes)
	errBuf := newCappedBuffer(e.cfg.MaxOutputBytes)
	cmd.Stdout = outBuf
	cmd.Stderr = errBuf

	runErr := cmd.Run()

	stdout := outBuf.String()
	stderr := errBuf.String()

	var exitCode *int
	if cmd.ProcessState != nil {
		code := cmd.ProcessState.ExitCode()
		exitCode = &code
	}

	switch {
	case e.isStopped(rec.ID):
		return e.finalize(rec, models.ExecStatusCancelled, exitCode, "execution stopped by request", Summary{}, stdout, stderr)
	case runCtx.Err() == context.DeadlineExceeded:
		msg := fmt.Sprintf("timed out after %s", timeout)
		return e.finalize(rec, models.ExecStatusTimeout, exitCode, msg, Summary{}, stdout, stderr)
	case runErr != nil && cmd.ProcessState == nil:
		return e.finalize(rec, models.ExecStatusFailed, nil, fmt.Sprintf("start process: %v", runErr), Summary{}, stdout, stderr)
	}

	summary, parsed := e.parseResults(resultPath, stdout)
	if _, statErr := os.Stat(resultPath); statErr == nil {
		rec.ReportPath = resultPath
	}

	if runErr != nil {
		msg := fmt.Sprintf("process exited with code %d", cmd.ProcessState.ExitCode())
		if tail := lastLines(stderr, 5); tail != "" {
			msg += ": " + tail
		}
		return e.finalize(rec, models.ExecStatusFailed, exitCode, msg, summary, stdout, stderr)
	}
	if !parsed {
		msg := "no parsable result"
		if tail := lastLines(stdout, 10); tail != "" {
			msg += "; raw output: " + tail
		}
		return e.finalize(rec, models.ExecStatusFailed, exitCode, msg, summary, stdout, stderr)
	}
	return e.finalize(rec, models.ExecStatusCompleted, exitCode, "", summary, stdout, stderr)
}

// parseResults applies the layered fallback: structured result file, then
// summary-line heuristics over stdout.
func (e *Engine) parseResults(resultPath, stdout string) (Summary, bool) {
	if s, err := ParseResultFile(resultPath); err == nil {
		return s, true
	}
	if s, ok := ParseOutput(stdout); ok {
		return s, true
	}
	return Summary{}, false
}

// finalize writes the terminal state exactly once. If another writer already
// terminated the record, the stored record wins and is returned unchanged.
func (e *Engine) finalize(rec *models.Execution, status string, exitCode *int, errMsg string, s Summary, stdout, stderr string) (*models.Execution, error) {
	end := time.Now()
	updates := map[string]any{
		"status":        status,
		"end_time":      end,
		"duration_ms":   end.Sub(rec.StartTime).Milliseconds(),
		"error_message": errMsg,
		"stdout":        stdout,
		"stderr":        stderr,
		"total":         s.Total,
		"passed":        s.Passed,
		"failed":        s.Failed,
		"skipped":       s.Skipped,
		"report_path":   rec.ReportPath,
	}
	if exitCode != nil {
		updates["exit_code"] = *exitCode
	}

	res := e.db.Model(&models.Execution{}).
		Where("id = ? AND status IN ?", rec.ID, []string{models.ExecStatusPending, models.ExecStatusRunning}).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("executor: finalize %s: %w", rec.ID, res.Error)
	}

	var final models.Execution
	if err := e.db.First(&final, "id = ?", rec.ID).Error; err != nil {
		return nil, fmt.Errorf("executor: reload %s: %w", rec.ID, err)
	}
	if res.RowsAffected == 0 {
		log.Printf("executor: %s already terminal (%s), keeping stored state", rec.ID, final.Status)
	}
	return &final, nil
}

// Stop requests cancellation of an execution. A running process receives
// SIGTERM via its context; a queued execution is cancelled before spawn.
func (e *Engine) Stop(executionID string) error {
	var rec models.Execution
	if err := e.db.First(&rec, "id = ?", executionID).Error; err != nil {
		return fmt.Errorf("executor: execution not found: %s", executionID)
	}
	if rec.Terminal() {
		return fmt.Errorf("executor: execution %s already %s", executionID, rec.Status)
	}

	e.mu.Lock()
	e.stopped[executionID] = true
	cancel := e.cancels[executionID]
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (e *Engine) registerCancel(id string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels[id] = cancel
}

func (e *Engine) clearCancel(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, id)
	delete(e.stopped, id)
}

func (e *Engine) isStopped(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped[id]
}

// cappedBuffer is an io.Writer that retains at most max bytes. Writes past
// the cap are counted but discarded so a chatty process cannot exhaust memory.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.max - b.buf.Len()
	if room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	if b.truncated {
		s += "\n[output truncated]"
	}
	return s
}

// lastLines returns the last n non-empty lines of s joined by " | ".
func lastLines(s string, n int) string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

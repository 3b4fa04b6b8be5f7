// Package scheduler runs scripts on cron, fixed-interval, or one-shot
// schedules, with bounded retries on failure. It polls the scheduled_tasks
// table so tasks survive restarts without any in-memory timer state.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/mbellotti/testyard/internal/config"
	"github.com/mbellotti/testyard/internal/executor"
	"github.com/mbellotti/testyard/internal/models"
)

// Notifier receives an alert when a task has exhausted its retries.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Scheduler polls for due tasks and dispatches them to the execution engine.
type Scheduler struct {
	db       *gorm.DB
	engine   *executor.Engine
	notifier Notifier
	tick     time.Duration

	wg sync.WaitGroup
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	DB       *gorm.DB
	Engine   *executor.Engine
	Notifier Notifier // optional
	Config   config.SchedulerConfig
}

// New creates a Scheduler.
func New(opts Opts) (*Scheduler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("scheduler: db is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("scheduler: engine is required")
	}
	tick := time.Duration(opts.Config.TickSeconds) * time.Second
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{
		db:       opts.DB,
		engine:   opts.Engine,
		notifier: opts.Notifier,
		tick:     tick,
	}, nil
}

// Run polls for due tasks until the context is cancelled, then waits for
// in-flight task runs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("scheduler: running, tick %s", s.tick)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("scheduler: stopping, waiting for in-flight runs")
			s.wg.Wait()
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue claims every enabled active task whose next fire time has
// passed and runs each in its own goroutine. The claim advances (or clears)
// next_execution_time before the run starts so a slow script cannot make the
// same fire time dispatch twice.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := time.Now()
	var due []models.ScheduledTask
	err := s.db.
		Where("is_enabled = ? AND status = ? AND next_execution_time <= ?", true, models.TaskStatusActive, now).
		Find(&due).Error
	if err != nil {
		log.Printf("scheduler: scan due tasks: %v", err)
		return
	}

	for i := range due {
		task := due[i]
		if err := s.claim(&task, now); err != nil {
			log.Printf("scheduler: claim task %s: %v", task.ID, err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runTask(ctx, &task, models.TriggerScheduled, true)
		}()
	}
}

// claim advances the task's next fire time, marking once tasks disabled so
// they never fire again. The update is guarded on the previous fire time so
// two pollers cannot claim the same slot.
func (s *Scheduler) claim(task *models.ScheduledTask, now time.Time) error {
	updates := map[string]any{}
	if task.ScheduleType == models.ScheduleOnce {
		updates["next_execution_time"] = nil
		updates["status"] = models.TaskStatusDisabled
		updates["is_enabled"] = false
	} else {
		updates["next_execution_time"] = nextRun(task, now)
	}
	res := s.db.Model(&models.ScheduledTask{}).
		Where("id = ? AND next_execution_time = ?", task.ID, task.NextExecutionTime).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("already claimed")
	}
	return nil
}

// ExecuteNow runs a task immediately, outside its schedule. Manual runs
// never retry. The task may be paused; only disabled tasks are refused.
func (s *Scheduler) ExecuteNow(ctx context.Context, taskID string) (*models.Execution, error) {
	task, err := s.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskStatusDisabled {
		return nil, fmt.Errorf("scheduler: task %s is disabled", taskID)
	}
	return s.runTask(ctx, task, models.TriggerManual, false), nil
}

// runTask executes the task's script once and, when retry is set, re-runs it
// up to MaxRetries times on failure. Returns the last execution record, or
// nil when the script could not be loaded.
func (s *Scheduler) runTask(ctx context.Context, task *models.ScheduledTask, trigger string, retry bool) *models.Execution {
	var script models.Script
	if err := s.db.First(&script, "id = ?", task.ScriptID).Error; err != nil {
		log.Printf("scheduler: task %s: load script %s: %v", task.ID, task.ScriptID, err)
		s.recordOutcome(task, models.ExecStatusFailed)
		return nil
	}

	rec := s.execute(ctx, task, &script, executor.Request{
		TriggerType: trigger,
	})
	if rec == nil {
		return nil
	}

	attempts := 0
	parentID := rec.ID
	for retry && rec.Status != models.ExecStatusCompleted && rec.Status != models.ExecStatusCancelled && attempts < task.MaxRetries {
		attempts++
		if task.RetryIntervalSeconds > 0 {
			select {
			case <-ctx.Done():
				return rec
			case <-time.After(time.Duration(task.RetryIntervalSeconds) * time.Second):
			}
		}
		log.Printf("scheduler: task %s: retry %d/%d after %s", task.ID, attempts, task.MaxRetries, rec.Status)
		pid := parentID
		next := s.execute(ctx, task, &script, executor.Request{
			TriggerType:       models.TriggerRetry,
			IsRetry:           true,
			ParentExecutionID: &pid,
		})
		if next == nil {
			break
		}
		rec = next
	}

	if retry && rec != nil && rec.Status != models.ExecStatusCompleted && rec.Status != models.ExecStatusCancelled {
		s.alert(ctx, task, rec, attempts)
	}
	return rec
}

// execute runs one attempt and folds its outcome into the task counters.
func (s *Scheduler) execute(ctx context.Context, task *models.ScheduledTask, script *models.Script, req executor.Request) *models.Execution {
	req.ScriptID = script.ID
	req.SessionID = script.SessionID
	req.TaskID = &task.ID
	req.Content = script.Content
	req.Format = script.Format

	rec, err := s.engine.Execute(ctx, req)
	if err != nil {
		log.Printf("scheduler: task %s: execute: %v", task.ID, err)
		s.recordOutcome(task, models.ExecStatusFailed)
		return nil
	}
	s.recordOutcome(task, rec.Status)
	return rec
}

// recordOutcome bumps the task's execution counters.
func (s *Scheduler) recordOutcome(task *models.ScheduledTask, status string) {
	now := time.Now()
	updates := map[string]any{
		"total_executions":      gorm.Expr("total_executions + 1"),
		"last_execution_time":   now,
		"last_execution_status": status,
	}
	if status == models.ExecStatusCompleted {
		updates["success_executions"] = gorm.Expr("success_executions + 1")
	} else {
		updates["failed_executions"] = gorm.Expr("failed_executions + 1")
	}
	if err := s.db.Model(&models.ScheduledTask{}).Where("id = ?", task.ID).Updates(updates).Error; err != nil {
		log.Printf("scheduler: task %s: record outcome: %v", task.ID, err)
	}
}

// alert notifies about a task whose retries are exhausted.
func (s *Scheduler) alert(ctx context.Context, task *models.ScheduledTask, rec *models.Execution, attempts int) {
	if s.notifier == nil {
		return
	}
	subject := fmt.Sprintf("task %s (%s) failed", task.ID, task.Name)
	body := fmt.Sprintf("execution %s ended %s after %d attempt(s): %s",
		rec.ID, rec.Status, attempts+1, rec.ErrorMessage)
	if err := s.notifier.Notify(ctx, subject, body); err != nil {
		log.Printf("scheduler: notify for task %s: %v", task.ID, err)
	}
}

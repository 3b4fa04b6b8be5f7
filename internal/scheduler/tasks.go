package scheduler

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mbellotti/testyard/internal/models"
)

// ErrTaskNotFound is returned when a task ID does not exist.
var ErrTaskNotFound = errors.New("scheduler: task not found")

// GenerateTaskID creates a unique task ID in task-xxxxxxxx format (8-char hex).
func GenerateTaskID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("scheduler: generate task ID: %w", err)
	}
	return "task-" + hex.EncodeToString(b), nil
}

// CreateTaskOpts holds parameters for creating a scheduled task.
type CreateTaskOpts struct {
	ScriptID             string
	Name                 string
	ScheduleType         string
	CronExpr             string
	IntervalSeconds      int
	RunAt                *time.Time
	MaxRetries           int
	RetryIntervalSeconds int
}

// CreateTask validates opts, computes the first fire time, and persists the
// task in active/enabled state.
func (s *Scheduler) CreateTask(opts CreateTaskOpts) (*models.ScheduledTask, error) {
	if opts.ScriptID == "" {
		return nil, fmt.Errorf("scheduler: script id is required")
	}
	var script models.Script
	if err := s.db.First(&script, "id = ?", opts.ScriptID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("scheduler: script %s not found", opts.ScriptID)
		}
		return nil, fmt.Errorf("scheduler: load script %s: %w", opts.ScriptID, err)
	}

	switch opts.ScheduleType {
	case models.ScheduleCron:
		if err := ValidateCron(opts.CronExpr); err != nil {
			return nil, err
		}
	case models.ScheduleInterval:
		if opts.IntervalSeconds <= 0 {
			return nil, fmt.Errorf("scheduler: interval must be positive, got %d", opts.IntervalSeconds)
		}
	case models.ScheduleOnce:
		if opts.RunAt == nil {
			return nil, fmt.Errorf("scheduler: once task requires a run time")
		}
		if !opts.RunAt.After(time.Now()) {
			return nil, fmt.Errorf("scheduler: run time %s is in the past", opts.RunAt.Format(time.RFC3339))
		}
	default:
		return nil, fmt.Errorf("scheduler: unknown schedule type %q", opts.ScheduleType)
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("scheduler: max retries must not be negative")
	}

	id, err := GenerateTaskID()
	if err != nil {
		return nil, err
	}
	name := opts.Name
	if name == "" {
		name = script.Name
	}

	task := models.ScheduledTask{
		ID:                   id,
		ScriptID:             opts.ScriptID,
		Name:                 name,
		ScheduleType:         opts.ScheduleType,
		CronExpr:             opts.CronExpr,
		IntervalSeconds:      opts.IntervalSeconds,
		RunAt:                opts.RunAt,
		Status:               models.TaskStatusActive,
		IsEnabled:            true,
		MaxRetries:           opts.MaxRetries,
		RetryIntervalSeconds: opts.RetryIntervalSeconds,
	}
	if task.ScheduleType == models.ScheduleOnce {
		task.NextExecutionTime = opts.RunAt
	} else {
		task.NextExecutionTime = nextRun(&task, time.Now())
	}
	if err := s.db.Create(&task).Error; err != nil {
		return nil, fmt.Errorf("scheduler: create task: %w", err)
	}
	return &task, nil
}

// GetTask loads one task by ID.
func (s *Scheduler) GetTask(id string) (*models.ScheduledTask, error) {
	var task models.ScheduledTask
	if err := s.db.First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("scheduler: load task %s: %w", id, err)
	}
	return &task, nil
}

// ListTasks returns all tasks, newest first.
func (s *Scheduler) ListTasks() ([]models.ScheduledTask, error) {
	var tasks []models.ScheduledTask
	if err := s.db.Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("scheduler: list tasks: %w", err)
	}
	return tasks, nil
}

// PauseTask stops an active task from firing while keeping its schedule.
func (s *Scheduler) PauseTask(id string) error {
	return s.setTaskStatus(id, models.TaskStatusPaused, false)
}

// ResumeTask re-enables a paused task and recomputes its next fire time so
// missed windows do not fire retroactively.
func (s *Scheduler) ResumeTask(id string) error {
	task, err := s.GetTask(id)
	if err != nil {
		return err
	}
	if task.Status == models.TaskStatusDisabled {
		return fmt.Errorf("scheduler: task %s is disabled", id)
	}
	next := nextRun(task, time.Now())
	updates := map[string]any{
		"status":              models.TaskStatusActive,
		"is_enabled":          true,
		"next_execution_time": next,
	}
	if err := s.db.Model(&models.ScheduledTask{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("scheduler: resume task %s: %w", id, err)
	}
	return nil
}

// DisableTask permanently retires a task. Its execution history remains.
func (s *Scheduler) DisableTask(id string) error {
	return s.setTaskStatus(id, models.TaskStatusDisabled, false)
}

func (s *Scheduler) setTaskStatus(id, status string, enabled bool) error {
	res := s.db.Model(&models.ScheduledTask{}).Where("id = ?", id).Updates(map[string]any{
		"status":     status,
		"is_enabled": enabled,
	})
	if res.Error != nil {
		return fmt.Errorf("scheduler: update task %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

package models

import "time"

// Schedule types for tasks.
const (
	ScheduleCron     = "cron"
	ScheduleInterval = "interval"
	ScheduleOnce     = "once"
)

// Task statuses. Disabled tasks are kept for execution-history linkage and
// are never deleted by the scheduler.
const (
	TaskStatusActive   = "active"
	TaskStatusPaused   = "paused"
	TaskStatusDisabled = "disabled"
)

// ScheduledTask is a recurring or one-shot trigger for script execution.
type ScheduledTask struct {
	ID                   string `gorm:"primaryKey;size:32"`
	ScriptID             string `gorm:"size:32;index"`
	Name                 string `gorm:"size:128"`
	ScheduleType         string `gorm:"size:16"`
	CronExpr             string `gorm:"size:64"`
	IntervalSeconds      int
	RunAt                *time.Time
	Status               string `gorm:"size:16;index"`
	IsEnabled            bool   `gorm:"default:true"`
	MaxRetries           int
	RetryIntervalSeconds int
	TotalExecutions      int
	SuccessExecutions    int
	FailedExecutions     int
	LastExecutionTime    *time.Time
	LastExecutionStatus  string     `gorm:"size:16"`
	NextExecutionTime    *time.Time `gorm:"index"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

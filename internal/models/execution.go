package models

import "time"

// Execution statuses. Terminal statuses are Completed, Failed, Timeout
// and Cancelled; once set they are never overwritten.
const (
	ExecStatusPending   = "pending"
	ExecStatusRunning   = "running"
	ExecStatusCompleted = "completed"
	ExecStatusFailed    = "failed"
	ExecStatusTimeout   = "timeout"
	ExecStatusCancelled = "cancelled"
)

// Trigger types for executions.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerRetry     = "retry"
)

// Execution records one run of a script as an external process.
type Execution struct {
	ID                string  `gorm:"primaryKey;size:32"`
	ScriptID          string  `gorm:"size:32;index"`
	SessionID         string  `gorm:"size:64;index"`
	TaskID            *string `gorm:"size:32;index"`
	Status            string  `gorm:"size:16;index"`
	TriggerType       string  `gorm:"size:16;default:manual"`
	IsRetry           bool    `gorm:"default:false"`
	ParentExecutionID *string `gorm:"size:32"`
	StartTime         time.Time
	EndTime           *time.Time
	DurationMs        int64
	ExitCode          *int
	ErrorMessage      string `gorm:"type:text"`
	Stdout            string `gorm:"type:mediumtext"`
	Stderr            string `gorm:"type:mediumtext"`
	Total             int
	Passed            int
	Failed            int
	Skipped           int
	ReportPath        string `gorm:"size:512"`
	WorkDir           string `gorm:"size:512"`
	CreatedAt         time.Time
}

// Terminal reports whether the execution has reached a terminal status.
func (e *Execution) Terminal() bool {
	switch e.Status {
	case ExecStatusCompleted, ExecStatusFailed, ExecStatusTimeout, ExecStatusCancelled:
		return true
	}
	return false
}

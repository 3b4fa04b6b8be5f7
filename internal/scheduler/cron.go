package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mbellotti/testyard/internal/models"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron reports whether expr is a parsable 5-field cron expression.
func ValidateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("scheduler: parse cron %q: %w", expr, err)
	}
	return nil
}

// nextRun computes the next fire time for a task strictly after from.
// Returns nil when the task has no future fire time (a once task that has
// already run, or an unparsable cron expression).
func nextRun(task *models.ScheduledTask, from time.Time) *time.Time {
	switch task.ScheduleType {
	case models.ScheduleCron:
		sched, err := cronParser.Parse(task.CronExpr)
		if err != nil {
			return nil
		}
		next := sched.Next(from)
		return &next
	case models.ScheduleInterval:
		if task.IntervalSeconds <= 0 {
			return nil
		}
		next := from.Add(time.Duration(task.IntervalSeconds) * time.Second)
		return &next
	case models.ScheduleOnce:
		if task.RunAt == nil || !task.RunAt.After(from) {
			return nil
		}
		return task.RunAt
	}
	return nil
}

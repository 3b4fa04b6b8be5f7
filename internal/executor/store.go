package executor

import (
	"errors"
	"fmt"

	"github.com/mbellotti/testyard/internal/models"
	"gorm.io/gorm"
)

// Filter narrows execution queries. Zero values match everything.
type Filter struct {
	ScriptID  string
	SessionID string
	TaskID    string
	Status    string
	Limit     int
}

// Get retrieves an execution by ID.
func Get(db *gorm.DB, executionID string) (*models.Execution, error) {
	var rec models.Execution
	if err := db.First(&rec, "id = ?", executionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("executor: execution not found: %s", executionID)
		}
		return nil, fmt.Errorf("executor: get %s: %w", executionID, err)
	}
	return &rec, nil
}

// List returns executions matching the filter, newest first.
func List(db *gorm.DB, f Filter) ([]models.Execution, error) {
	q := db.Model(&models.Execution{}).Order("start_time DESC")
	if f.ScriptID != "" {
		q = q.Where("script_id = ?", f.ScriptID)
	}
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.TaskID != "" {
		q = q.Where("task_id = ?", f.TaskID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var recs []models.Execution
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("executor: list executions: %w", err)
	}
	return recs, nil
}

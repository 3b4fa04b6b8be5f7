package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbellotti/testyard/internal/scheduler"
)

type taskRequest struct {
	ScriptID             string     `json:"script_id"`
	Name                 string     `json:"name"`
	ScheduleType         string     `json:"schedule_type"`
	CronExpr             string     `json:"cron_expr"`
	IntervalSeconds      int        `json:"interval_seconds"`
	RunAt                *time.Time `json:"run_at"`
	MaxRetries           int        `json:"max_retries"`
	RetryIntervalSeconds int        `json:"retry_interval_seconds"`
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	task, err := s.sched.CreateTask(scheduler.CreateTaskOpts{
		ScriptID:             req.ScriptID,
		Name:                 req.Name,
		ScheduleType:         req.ScheduleType,
		CronExpr:             req.CronExpr,
		IntervalSeconds:      req.IntervalSeconds,
		RunAt:                req.RunAt,
		MaxRetries:           req.MaxRetries,
		RetryIntervalSeconds: req.RetryIntervalSeconds,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.sched.ListTasks()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.sched.GetTask(c.Param("id"))
	if err != nil {
		s.taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handlePauseTask(c *gin.Context) {
	if err := s.sched.PauseTask(c.Param("id")); err != nil {
		s.taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": "paused"})
}

func (s *Server) handleResumeTask(c *gin.Context) {
	if err := s.sched.ResumeTask(c.Param("id")); err != nil {
		s.taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": "active"})
}

func (s *Server) handleDisableTask(c *gin.Context) {
	if err := s.sched.DisableTask(c.Param("id")); err != nil {
		s.taskError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleRunTask triggers one immediate run, outside the task's schedule and
// without retries. It blocks until the run reaches a terminal state.
func (s *Server) handleRunTask(c *gin.Context) {
	rec, err := s.sched.ExecuteNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.taskError(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "execution did not start"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) taskError(c *gin.Context, err error) {
	if errors.Is(err, scheduler.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
}

package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mbellotti/testyard/internal/agent"
	"github.com/mbellotti/testyard/internal/executor"
	"github.com/mbellotti/testyard/internal/models"
)

type scriptRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Format      string `json:"format"`
	Content     string `json:"content"`
	Tags        string `json:"tags"`
}

func validFormat(format string) bool {
	switch format {
	case models.FormatPytest, models.FormatPlaywright, models.FormatYAML:
		return true
	}
	return false
}

func (s *Server) handleListScripts(c *gin.Context) {
	q := s.db.Model(&models.Script{}).Order("created_at DESC")
	if format := c.Query("format"); format != "" {
		q = q.Where("format = ?", format)
	}
	if sessionID := c.Query("session_id"); sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	var scripts []models.Script
	if err := q.Find(&scripts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, scripts)
}

func (s *Server) handleCreateScript(c *gin.Context) {
	var req scriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Name == "" || req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and content are required"})
		return
	}
	if !validFormat(req.Format) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown format"})
		return
	}
	id, err := agent.GenerateScriptID()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	script := models.Script{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Format:      req.Format,
		Content:     req.Content,
		Tags:        req.Tags,
	}
	if err := s.db.Create(&script).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, script)
}

func (s *Server) handleGetScript(c *gin.Context) {
	var script models.Script
	if err := s.db.First(&script, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "script not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, script)
}

func (s *Server) handleUpdateScript(c *gin.Context) {
	var script models.Script
	if err := s.db.First(&script, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "script not found"})
		return
	}
	var req scriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Format != "" && !validFormat(req.Format) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown format"})
		return
	}
	if req.Name != "" {
		script.Name = req.Name
	}
	if req.Description != "" {
		script.Description = req.Description
	}
	if req.Format != "" {
		script.Format = req.Format
	}
	if req.Content != "" {
		script.Content = req.Content
	}
	if req.Tags != "" {
		script.Tags = req.Tags
	}
	if err := s.db.Save(&script).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, script)
}

func (s *Server) handleDeleteScript(c *gin.Context) {
	res := s.db.Delete(&models.Script{}, "id = ?", c.Param("id"))
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error.Error()})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "script not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleRunScript starts an ad-hoc execution of a stored script. The
// execution ID is returned immediately; the run proceeds in the background
// and is queryable through the executions API.
func (s *Server) handleRunScript(c *gin.Context) {
	var script models.Script
	if err := s.db.First(&script, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "script not found"})
		return
	}

	execID, err := executor.GenerateExecutionID()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	req := executor.Request{
		ExecutionID: execID,
		ScriptID:    script.ID,
		SessionID:   script.SessionID,
		TriggerType: models.TriggerManual,
		Content:     script.Content,
		Format:      script.Format,
	}
	// The request context dies with the response; the run must not.
	go s.engine.Execute(context.Background(), req)

	c.JSON(http.StatusAccepted, gin.H{"execution_id": execID, "status": models.ExecStatusPending})
}

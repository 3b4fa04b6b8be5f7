package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbellotti/testyard/internal/agent"
	"github.com/mbellotti/testyard/internal/bus"
	"github.com/mbellotti/testyard/internal/models"
	"github.com/mbellotti/testyard/internal/stream"
)

type createSessionRequest struct {
	Text         string `json:"text"`
	DocumentID   string `json:"document_id"`
	TargetFormat string `json:"target_format"`
	// Execute runs the saved script through the execution stage, making
	// the execution report the session's final event.
	Execute bool `json:"execute"`
}

type sessionResponse struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Queued       int       `json:"queued_events"`
}

// handleCreateSession starts a new orchestration run: it creates the session
// with its event channel, wires the agent pipeline, and publishes the
// analysis request. Progress streams from GET /sessions/:id/events.
func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	text := req.Text
	if text == "" && req.DocumentID != "" {
		var err error
		if text, err = s.documentText(req.DocumentID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text or document_id is required"})
		return
	}
	format := req.TargetFormat
	if format == "" {
		format = models.FormatPytest
	}
	switch format {
	case models.FormatPytest, models.FormatPlaywright, models.FormatYAML:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown target format %q", format)})
		return
	}

	session, err := s.sessions.Create("")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	rt, err := s.startPipeline(session)
	if err != nil {
		s.sessions.Evict(session.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	msg := bus.NewMessage(agent.TopicAnalysis, "api", session.ID, agent.AnalysisRequest{
		Text:         text,
		TargetFormat: format,
		Execute:      req.Execute,
	})
	if err := rt.Publish(msg); err != nil {
		s.sessions.Evict(session.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.sessions.SetStatus(session.ID, stream.SessionProcessing)

	c.JSON(http.StatusAccepted, gin.H{
		"id":     session.ID,
		"status": stream.SessionProcessing,
	})
}

// startPipeline builds the per-session message bus with all four agents
// registered and binds its runtime to the session for eviction teardown.
func (s *Server) startPipeline(session *stream.Session) (*bus.Runtime, error) {
	gen, err := agent.NewGenerator(s.generator, session.Channel)
	if err != nil {
		return nil, err
	}
	saver, err := agent.NewSaver(s.db, s.exporter, session.Channel)
	if err != nil {
		return nil, err
	}
	execAgent, err := agent.NewExecutor(s.engine, session.Channel)
	if err != nil {
		return nil, err
	}

	router := bus.NewRouter()
	router.Register(agent.TopicAnalysis, agent.NewAnalyzer(session.Channel))
	router.Register(agent.TopicGeneration, gen)
	router.Register(agent.TopicStorage, saver)
	router.Register(agent.TopicExecution, execAgent)

	rt, err := bus.NewRuntime(bus.RuntimeOpts{
		SessionID: session.ID,
		Router:    router,
		Sink:      session.Channel,
	})
	if err != nil {
		return nil, err
	}
	rt.Start(context.Background())
	s.sessions.BindRuntime(session.ID, rt)
	return rt, nil
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sessionResponse{
		ID:           session.ID,
		Status:       session.Status,
		CreatedAt:    session.CreatedAt,
		LastActivity: session.LastActivity,
		Queued:       session.Channel.Len(),
	})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.sessions.Get(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.sessions.Evict(id)
	c.Status(http.StatusNoContent)
}

// documentText loads an uploaded document's content for analysis.
func (s *Server) documentText(documentID string) (string, error) {
	var doc models.Document
	if err := s.db.First(&doc, "id = ?", documentID).Error; err != nil {
		return "", fmt.Errorf("document not found: %s", documentID)
	}
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return "", fmt.Errorf("read document %s: %w", documentID, err)
	}
	return string(data), nil
}

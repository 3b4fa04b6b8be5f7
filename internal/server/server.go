// Package server exposes the HTTP API: session orchestration with SSE
// progress streaming, script and execution management, scheduled tasks, and
// document upload.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mbellotti/testyard/internal/agent"
	"github.com/mbellotti/testyard/internal/config"
	"github.com/mbellotti/testyard/internal/executor"
	"github.com/mbellotti/testyard/internal/genai"
	"github.com/mbellotti/testyard/internal/scheduler"
	"github.com/mbellotti/testyard/internal/stream"
)

// Server wires the HTTP API to the orchestration subsystems.
type Server struct {
	db        *gorm.DB
	cfg       config.ServerConfig
	sessions  *stream.Manager
	engine    *executor.Engine
	sched     *scheduler.Scheduler
	generator genai.ContentGenerator
	exporter  agent.Exporter
	uploadDir string
}

// Opts holds parameters for creating a Server.
type Opts struct {
	DB        *gorm.DB
	Config    config.ServerConfig
	Sessions  *stream.Manager
	Engine    *executor.Engine
	Scheduler *scheduler.Scheduler
	Generator genai.ContentGenerator
	Exporter  agent.Exporter // optional
	UploadDir string         // defaults to <tmp>/testyard-uploads
}

// New creates a Server.
func New(opts Opts) (*Server, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("server: db is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("server: session manager is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("server: execution engine is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("server: scheduler is required")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("server: content generator is required")
	}
	uploadDir := opts.UploadDir
	if uploadDir == "" {
		uploadDir = filepath.Join(os.TempDir(), "testyard-uploads")
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("server: create upload dir: %w", err)
	}
	if opts.Config.HeartbeatSeconds <= 0 {
		opts.Config.HeartbeatSeconds = 15
	}
	return &Server{
		db:        opts.DB,
		cfg:       opts.Config,
		sessions:  opts.Sessions,
		engine:    opts.Engine,
		sched:     opts.Scheduler,
		generator: opts.Generator,
		exporter:  opts.Exporter,
		uploadDir: uploadDir,
	}, nil
}

// Router builds the Gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.POST("/sessions", s.handleCreateSession)
		api.GET("/sessions/:id", s.handleGetSession)
		api.DELETE("/sessions/:id", s.handleDeleteSession)
		api.GET("/sessions/:id/events", s.handleSessionEvents)

		api.GET("/scripts", s.handleListScripts)
		api.POST("/scripts", s.handleCreateScript)
		api.GET("/scripts/:id", s.handleGetScript)
		api.PUT("/scripts/:id", s.handleUpdateScript)
		api.DELETE("/scripts/:id", s.handleDeleteScript)
		api.POST("/scripts/:id/run", s.handleRunScript)

		api.GET("/executions", s.handleListExecutions)
		api.GET("/executions/:id", s.handleGetExecution)
		api.POST("/executions/:id/stop", s.handleStopExecution)

		api.POST("/tasks", s.handleCreateTask)
		api.GET("/tasks", s.handleListTasks)
		api.GET("/tasks/:id", s.handleGetTask)
		api.POST("/tasks/:id/pause", s.handlePauseTask)
		api.POST("/tasks/:id/resume", s.handleResumeTask)
		api.POST("/tasks/:id/run", s.handleRunTask)
		api.DELETE("/tasks/:id", s.handleDisableTask)

		api.POST("/documents", s.handleUploadDocument)
		api.GET("/documents/:id", s.handleGetDocument)
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

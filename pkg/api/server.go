// Package api exposes the agent over HTTP: task submission and control on a
// JSON API, live task progress as server-sent events.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/sigil-dev/sigil/pkg/agent/controller"
	"github.com/sigil-dev/sigil/pkg/config"
	"github.com/sigil-dev/sigil/pkg/events"
	"github.com/sigil-dev/sigil/pkg/store"
)

// Server wires the execution engine and the event manager into HTTP handlers.
type Server struct {
	engine *controller.Engine
	store  store.Store
	events *events.Manager
	cfg    config.ServerConfig

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	http *http.Server
}

// NewServer creates an API server over its collaborators.
func NewServer(engine *controller.Engine, st store.Store, ev *events.Manager, cfg config.ServerConfig) *Server {
	return &Server{
		engine:  engine,
		store:   st,
		events:  ev,
		cfg:     cfg,
		cancels: map[string]context.CancelFunc{},
	}
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger())

	r.GET("/healthz", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/tasks", s.createTask)
		v1.GET("/tasks/:id", s.getTask)
		v1.POST("/tasks/:id/continue", s.continueTask)
		v1.POST("/tasks/:id/cancel", s.cancelTask)
		v1.GET("/tasks/:id/events", s.streamTaskEvents)
		v1.GET("/workspaces", s.listWorkspaces)
	}
	return r
}

// Start begins serving. It blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.http = &http.Server{Addr: s.cfg.Addr, Handler: s.Router()}
	slog.Info("API server listening", "addr", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener, cancels running tasks, and waits for in-flight
// requests up to the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for id, cancel := range s.cancels {
		slog.Info("Cancelling task for shutdown", "task_id", id)
		cancel()
	}
	s.mu.Unlock()

	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) registerTask(taskID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[taskID] = cancel
}

func (s *Server) unregisterTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, taskID)
}

// cancelRunning cancels a registered task, reporting whether it was found.
func (s *Server) cancelRunning(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.cancels[taskID]
	if ok {
		cancel()
	}
	return ok
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

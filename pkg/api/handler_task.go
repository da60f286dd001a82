package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sigil-dev/sigil/pkg/agent/controller"
	"github.com/sigil-dev/sigil/pkg/memory"
	"github.com/sigil-dev/sigil/pkg/store"
)

// createTaskRequest is the body of POST /api/v1/tasks.
type createTaskRequest struct {
	Query          string `json:"query"`
	UserID         string `json:"user_id" binding:"required"`
	ConversationID string `json:"conversation_id"`
	Mode           string `json:"mode"`
	MaxIterations  int    `json:"max_iterations"`
	OutputSchema   string `json:"output_schema"`
	// Sync makes the request block until the task finishes and returns the
	// full result instead of 202.
	Sync bool `json:"sync"`
}

// continueTaskRequest is the body of POST /api/v1/tasks/:id/continue.
type continueTaskRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	MaxIterations int    `json:"max_iterations"`
	OutputSchema  string `json:"output_schema"`
	Sync          bool   `json:"sync"`
}

// createTask handles POST /api/v1/tasks.
func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Rejected up front: an empty query must create no task state at all.
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query must not be empty"})
		return
	}

	opts := controller.Options{
		TaskID:         uuid.New().String(),
		ConversationID: req.ConversationID,
		Mode:           memory.Mode(req.Mode),
		MaxIterations:  req.MaxIterations,
		OutputSchema:   req.OutputSchema,
	}

	if req.Sync {
		result, err := s.engine.StartTask(c.Request.Context(), req.Query, req.UserID, opts)
		if err != nil {
			s.taskError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.registerTask(opts.TaskID, cancel)
	go func() {
		defer cancel()
		defer s.unregisterTask(opts.TaskID)
		if _, err := s.engine.StartTask(ctx, req.Query, req.UserID, opts); err != nil {
			slog.Error("Background task failed", "task_id", opts.TaskID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"task_id": opts.TaskID, "status": "running"})
}

// continueTask handles POST /api/v1/tasks/:id/continue. The task must have a
// persisted workspace; it resumes with a fresh iteration budget.
func (s *Server) continueTask(c *gin.Context) {
	taskID := c.Param("id")
	var req continueTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Resolve existence before dispatching so async callers still get a 404.
	if _, err := s.store.LoadWorkspace(c.Request.Context(), taskID, req.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	opts := controller.Options{
		TaskID:        taskID,
		MaxIterations: req.MaxIterations,
		OutputSchema:  req.OutputSchema,
	}

	if req.Sync {
		result, err := s.engine.ContinueTask(c.Request.Context(), taskID, req.UserID, opts)
		if err != nil {
			s.taskError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.registerTask(taskID, cancel)
	go func() {
		defer cancel()
		defer s.unregisterTask(taskID)
		if _, err := s.engine.ContinueTask(ctx, taskID, req.UserID, opts); err != nil {
			slog.Error("Background task continuation failed", "task_id", taskID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID, "status": "running"})
}

// getTask handles GET /api/v1/tasks/:id. It returns the persisted workspace,
// which is the authoritative view of the task's progress.
func (s *Server) getTask(c *gin.Context) {
	taskID := c.Param("id")
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return
	}

	ws, err := s.store.LoadWorkspace(c.Request.Context(), taskID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	_, running := s.cancels[taskID]
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"workspace": ws, "running": running})
}

// cancelTask handles POST /api/v1/tasks/:id/cancel.
func (s *Server) cancelTask(c *gin.Context) {
	taskID := c.Param("id")
	if !s.cancelRunning(taskID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no running task with that id"})
		return
	}
	slog.Info("Task cancelled via API", "task_id", taskID)
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

// listWorkspaces handles GET /api/v1/workspaces?user_id=...
func (s *Server) listWorkspaces(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return
	}
	list, err := s.store.ListWorkspaces(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspaces": list})
}

// taskError maps engine errors onto HTTP statuses.
func (s *Server) taskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, controller.ErrEmptyQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, controller.ErrTaskBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "task cancelled"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/example/taskforge/internal/intent"
	"github.com/example/taskforge/internal/models"
	"github.com/example/taskforge/internal/store"
)

// Server exposes the task queue over HTTP. Execution happens in the worker
// process; the API only creates, inspects, and re-queues tasks.
type Server struct {
	Store store.Store
}

func NewServer(st store.Store) *Server {
	return &Server{Store: st}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	r.POST("/tasks", s.createTask)
	r.GET("/tasks", s.listTasks)
	r.GET("/tasks/:id", s.getTask)
	r.POST("/tasks/:id/retry", s.retryTask)

	return r
}

type createTaskRequest struct {
	Goal    string         `json:"goal" binding:"required"`
	Type    string         `json:"type"`
	UserID  string         `json:"user_id"`
	Context map[string]any `json:"context"`
}

func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	taskType := models.TaskType(req.Type)
	switch taskType {
	case models.TaskCoding, models.TaskImage, models.TaskMixed:
	case "":
		taskType = declaredType(req.Goal)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown task type: " + req.Type})
		return
	}

	now := time.Now().UTC()
	t := &models.Task{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Goal:      req.Goal,
		Type:      taskType,
		Context:   req.Context,
		Status:    models.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.CreateTask(t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.Store.ListTasks(100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) getTask(c *gin.Context) {
	id := c.Param("id")
	t, err := s.Store.GetTask(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	steps, err := s.Store.ListSteps(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	artifacts, err := s.Store.ListArtifacts(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task":      t,
		"steps":     steps,
		"artifacts": artifacts,
	})
}

// retryTask resets a finished task back to QUEUED, clearing its previous
// plan, step results, and artifacts. The worker picks it up on its next poll.
func (s *Server) retryTask(c *gin.Context) {
	id := c.Param("id")
	t, err := s.Store.GetTask(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if t.Status == models.StatusRunning || t.Status == models.StatusQueued {
		c.JSON(http.StatusConflict, gin.H{"error": "task is " + string(t.Status)})
		return
	}
	if err := s.Store.ForceRetry(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": models.StatusQueued})
}

// declaredType maps the classifier's verdict onto the coarse task type used
// for storage and reporting.
func declaredType(goal string) models.TaskType {
	cls := intent.Classify(goal)
	switch {
	case cls.IsComposite:
		return models.TaskMixed
	case cls.ExpectedOutput == intent.ExpectImage:
		return models.TaskImage
	default:
		return models.TaskCoding
	}
}

// Package store persists tasks, step records and artifact records. The
// engine core only depends on this interface; the sqlite implementation is
// the default backend.
package store

import (
	"github.com/example/taskforge/internal/models"
)

type Store interface {
	CreateTask(t *models.Task) error
	GetTask(id string) (*models.Task, error)
	UpdateTask(t *models.Task) error
	ListTasks(limit int) ([]*models.Task, error)
	// NextQueued returns the oldest QUEUED task id, or "" when none exist.
	NextQueued() (string, error)

	SavePlan(taskID string, plan *models.ExecutionPlan) error
	GetPlan(taskID string) (*models.ExecutionPlan, error)

	UpsertStep(taskID string, step *models.PlanStep, res *models.StepResult) error
	ListSteps(taskID string) ([]StepRecord, error)

	RecordArtifact(taskID string, a models.Artifact) error
	ListArtifacts(taskID string) ([]models.Artifact, error)

	// ForceRetry resets a terminal task to QUEUED and clears its dependent
	// step and artifact rows.
	ForceRetry(taskID string) error

	Migrate() error
	Close() error
}

// StepRecord is one persisted step row: the planned step plus its latest
// result, if any.
type StepRecord struct {
	TaskID string             `json:"task_id"`
	Step   *models.PlanStep   `json:"step"`
	Result *models.StepResult `json:"result,omitempty"`
}

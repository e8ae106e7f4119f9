package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/taskforge/internal/models"
)

// MemoryStore is a process-local Store for tests and single-shot runs. Task
// order is tracked explicitly so NextQueued stays FIFO.
type MemoryStore struct {
	mu        sync.Mutex
	order     []string
	tasks     map[string]*models.Task
	plans     map[string]*models.ExecutionPlan
	steps     map[string][]StepRecord
	artifacts map[string][]models.Artifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:     map[string]*models.Task{},
		plans:     map[string]*models.ExecutionPlan{},
		steps:     map[string][]StepRecord{},
		artifacts: map[string][]models.Artifact{},
	}
}

func (m *MemoryStore) CreateTask(t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.StatusQueued
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	cp := *t
	m.tasks[t.ID] = &cp
	m.order = append(m.order, t.ID)
	return nil
}

func (m *MemoryStore) GetTask(id string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) UpdateTask(t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return fmt.Errorf("task %s not found", t.ID)
	}
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *MemoryStore) ListTasks(limit int) ([]*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]*models.Task, 0, len(m.order))
	// newest first, like the sqlite listing
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.tasks[m.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) NextQueued() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if m.tasks[id].Status == models.StatusQueued {
			return id, nil
		}
	}
	return "", nil
}

func (m *MemoryStore) SavePlan(taskID string, plan *models.ExecutionPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[taskID] = plan
	return nil
}

func (m *MemoryStore) GetPlan(taskID string) (*models.ExecutionPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[taskID]
	if !ok {
		return nil, fmt.Errorf("plan for task %s not found", taskID)
	}
	return p, nil
}

func (m *MemoryStore) UpsertStep(taskID string, step *models.PlanStep, res *models.StepResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.steps[taskID]
	for i, r := range recs {
		if r.Step.ID == step.ID {
			recs[i] = StepRecord{TaskID: taskID, Step: step, Result: res}
			return nil
		}
	}
	m.steps[taskID] = append(recs, StepRecord{TaskID: taskID, Step: step, Result: res})
	return nil
}

func (m *MemoryStore) ListSteps(taskID string) ([]StepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StepRecord(nil), m.steps[taskID]...), nil
}

func (m *MemoryStore) RecordArtifact(taskID string, a models.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[taskID] = append(m.artifacts[taskID], a)
	return nil
}

func (m *MemoryStore) ListArtifacts(taskID string) ([]models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Artifact(nil), m.artifacts[taskID]...), nil
}

func (m *MemoryStore) ForceRetry(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	t.Status = models.StatusQueued
	t.Result = nil
	t.Error = ""
	t.UpdatedAt = time.Now().UTC()
	delete(m.plans, taskID)
	delete(m.steps, taskID)
	delete(m.artifacts, taskID)
	return nil
}

func (m *MemoryStore) Migrate() error { return nil }
func (m *MemoryStore) Close() error   { return nil }

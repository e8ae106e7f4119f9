package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/example/taskforge/internal/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT DEFAULT '',
		goal TEXT NOT NULL,
		type TEXT NOT NULL,
		context TEXT DEFAULT '',
		status TEXT NOT NULL,
		workspace TEXT DEFAULT '',
		result TEXT DEFAULT '',
		error TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS plans (
		task_id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS steps (
		task_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		step TEXT NOT NULL,
		result TEXT DEFAULT '',
		status TEXT DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (task_id, step_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_artifacts_task ON artifacts(task_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTask(t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = models.StatusQueued
	}
	ctxJSON, _ := json.Marshal(t.Context)
	resJSON, _ := json.Marshal(t.Result)
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, user_id, goal, type, context, status, workspace, result, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Goal, string(t.Type), string(ctxJSON), string(t.Status), t.Workspace, string(resJSON), t.Error, now, now)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTask(id string) (*models.Task, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, goal, type, context, status, workspace, result, error, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

func (s *SQLiteStore) UpdateTask(t *models.Task) error {
	t.UpdatedAt = time.Now().UTC()
	ctxJSON, _ := json.Marshal(t.Context)
	resJSON, _ := json.Marshal(t.Result)
	res, err := s.db.Exec(`
		UPDATE tasks SET user_id = ?, goal = ?, type = ?, context = ?, status = ?, workspace = ?, result = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, t.UserID, t.Goal, string(t.Type), string(ctxJSON), string(t.Status), t.Workspace, string(resJSON), t.Error, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s not found", t.ID)
	}
	return nil
}

func (s *SQLiteStore) ListTasks(limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, user_id, goal, type, context, status, workspace, result, error, created_at, updated_at
		FROM tasks ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) NextQueued() (string, error) {
	var id string
	err := s.db.QueryRow(`
		SELECT id FROM tasks WHERE status = ? ORDER BY created_at ASC LIMIT 1
	`, string(models.StatusQueued)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) SavePlan(taskID string, plan *models.ExecutionPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO plans (task_id, data) VALUES (?, ?)
		ON CONFLICT(task_id) DO UPDATE SET data = excluded.data
	`, taskID, string(data))
	return err
}

func (s *SQLiteStore) GetPlan(taskID string) (*models.ExecutionPlan, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM plans WHERE task_id = ?`, taskID).Scan(&data)
	if err != nil {
		return nil, err
	}
	var plan models.ExecutionPlan
	if err := json.Unmarshal([]byte(data), &plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	return &plan, nil
}

func (s *SQLiteStore) UpsertStep(taskID string, step *models.PlanStep, res *models.StepResult) error {
	stepJSON, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("marshal step: %w", err)
	}
	resJSON := ""
	status := ""
	if res != nil {
		b, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("marshal step result: %w", err)
		}
		resJSON = string(b)
		status = string(res.Status)
	}
	_, err = s.db.Exec(`
		INSERT INTO steps (task_id, step_id, step, result, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id, step_id) DO UPDATE SET
			step = excluded.step,
			result = excluded.result,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, taskID, step.ID, string(stepJSON), resJSON, status, time.Now().UTC())
	return err
}

func (s *SQLiteStore) ListSteps(taskID string) ([]StepRecord, error) {
	rows, err := s.db.Query(`
		SELECT step, result FROM steps WHERE task_id = ? ORDER BY rowid ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StepRecord
	for rows.Next() {
		var stepJSON, resJSON string
		if err := rows.Scan(&stepJSON, &resJSON); err != nil {
			return nil, err
		}
		rec := StepRecord{TaskID: taskID, Step: &models.PlanStep{}}
		if err := json.Unmarshal([]byte(stepJSON), rec.Step); err != nil {
			return nil, fmt.Errorf("unmarshal step: %w", err)
		}
		if resJSON != "" {
			rec.Result = &models.StepResult{}
			if err := json.Unmarshal([]byte(resJSON), rec.Result); err != nil {
				return nil, fmt.Errorf("unmarshal step result: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordArtifact(taskID string, a models.Artifact) error {
	_, err := s.db.Exec(`
		INSERT INTO artifacts (id, task_id, step_id, name, type, path, size)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), taskID, a.StepID, a.Name, a.Type, a.Path, a.Size)
	return err
}

func (s *SQLiteStore) ListArtifacts(taskID string) ([]models.Artifact, error) {
	rows, err := s.db.Query(`
		SELECT step_id, name, type, path, size FROM artifacts WHERE task_id = ? ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Artifact
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.StepID, &a.Name, &a.Type, &a.Path, &a.Size); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ForceRetry(taskID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM artifacts WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM steps WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM plans WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	res, err := tx.Exec(`
		UPDATE tasks SET status = ?, result = '', error = '', updated_at = ? WHERE id = ?
	`, string(models.StatusQueued), time.Now().UTC(), taskID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s not found", taskID)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	t := &models.Task{}
	var typ, status, ctxJSON, resJSON string
	if err := row.Scan(&t.ID, &t.UserID, &t.Goal, &typ, &ctxJSON, &status, &t.Workspace, &resJSON, &t.Error, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Type = models.TaskType(typ)
	t.Status = models.TaskStatus(status)
	if ctxJSON != "" && ctxJSON != "null" {
		_ = json.Unmarshal([]byte(ctxJSON), &t.Context)
	}
	if resJSON != "" && resJSON != "null" {
		_ = json.Unmarshal([]byte(resJSON), &t.Result)
	}
	return t, nil
}

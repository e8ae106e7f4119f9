package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/example/taskforge/internal/models"
	"github.com/example/taskforge/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateTask(t *testing.T) {
	st := store.NewMemoryStore()
	router := NewServer(st).Router()

	w := doJSON(t, router, http.MethodPost, "/tasks", map[string]any{
		"goal":    "generate an image of a red fox, 1:1",
		"user_id": "alice",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var created models.Task
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.Status != models.StatusQueued {
		t.Errorf("created task: %+v", created)
	}
	if created.Type != models.TaskImage {
		t.Errorf("pure image goal should declare IMAGE, got %s", created.Type)
	}

	stored, err := st.GetTask(created.ID)
	if err != nil {
		t.Fatalf("task not in store: %v", err)
	}
	if stored.UserID != "alice" {
		t.Errorf("user id lost: %q", stored.UserID)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	router := NewServer(store.NewMemoryStore()).Router()

	w := doJSON(t, router, http.MethodPost, "/tasks", map[string]any{"goal": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty goal: status %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/tasks", map[string]any{"goal": "x", "type": "BOGUS"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bogus type: status %d", w.Code)
	}
}

func TestGetTaskWithStepsAndArtifacts(t *testing.T) {
	st := store.NewMemoryStore()
	task := &models.Task{Goal: "g", Type: models.TaskCoding, Status: models.StatusSucceeded}
	if err := st.CreateTask(task); err != nil {
		t.Fatal(err)
	}
	step := &models.PlanStep{ID: "s1", Type: models.StepCodeGen, Tool: models.ToolLLM}
	if err := st.UpsertStep(task.ID, step, &models.StepResult{StepID: "s1", Status: models.StepCompleted}); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordArtifact(task.ID, models.Artifact{Name: "a.go", Type: "text/x-go", Path: "/x/a.go", Size: 10, StepID: "s1"}); err != nil {
		t.Fatal(err)
	}

	router := NewServer(st).Router()
	w := doJSON(t, router, http.MethodGet, "/tasks/"+task.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Task      models.Task        `json:"task"`
		Steps     []store.StepRecord `json:"steps"`
		Artifacts []models.Artifact  `json:"artifacts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Task.ID != task.ID || len(resp.Steps) != 1 || len(resp.Artifacts) != 1 {
		t.Errorf("response: %+v", resp)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	router := NewServer(store.NewMemoryStore()).Router()
	w := doJSON(t, router, http.MethodGet, "/tasks/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d", w.Code)
	}
}

func TestRetryTask(t *testing.T) {
	st := store.NewMemoryStore()
	task := &models.Task{Goal: "g", Type: models.TaskCoding, Status: models.StatusFailed, Error: "broke"}
	if err := st.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	router := NewServer(st).Router()
	w := doJSON(t, router, http.MethodPost, "/tasks/"+task.ID+"/retry", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	got, err := st.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusQueued || got.Error != "" {
		t.Errorf("task not requeued: %+v", got)
	}
}

func TestRetryTaskConflict(t *testing.T) {
	st := store.NewMemoryStore()
	task := &models.Task{Goal: "g", Type: models.TaskCoding, Status: models.StatusRunning}
	if err := st.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	router := NewServer(st).Router()
	w := doJSON(t, router, http.MethodPost, "/tasks/"+task.ID+"/retry", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status %d", w.Code)
	}
}

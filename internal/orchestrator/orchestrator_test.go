package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/taskforge/internal/critic"
	"github.com/example/taskforge/internal/executor"
	"github.com/example/taskforge/internal/models"
	"github.com/example/taskforge/internal/planner"
	"github.com/example/taskforge/internal/store"
	"github.com/example/taskforge/internal/tooling"
	"github.com/example/taskforge/internal/workspace"
)

// planClient returns a canned plan and, when set, a canned critic verdict.
type planClient struct {
	plan    string
	verdict string
}

func (c *planClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	return c.plan, nil
}

func (c *planClient) Judge(ctx context.Context, prompt, output string) (bool, string, error) {
	if c.verdict == "" {
		return true, `{"passed": true, "confidence": 0.9, "reason": "ok"}`, nil
	}
	return true, c.verdict, nil
}

type scriptedAdapter struct {
	tool    models.Tool
	results []*models.ToolResult
	calls   int
}

func (a *scriptedAdapter) Name() models.Tool { return a.tool }

func (a *scriptedAdapter) Execute(ctx context.Context, in tooling.Input) (*models.ToolResult, error) {
	a.calls++
	i := a.calls - 1
	if i >= len(a.results) {
		i = len(a.results) - 1
	}
	return a.results[i], nil
}

func queuedTask(id, goal string) *models.Task {
	now := time.Now().UTC()
	return &models.Task{
		ID:        id,
		Goal:      goal,
		Type:      models.TaskCoding,
		Status:    models.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func buildOrchestrator(t *testing.T, st store.Store, client *planClient, adapters ...tooling.Adapter) *Orchestrator {
	t.Helper()
	registry := tooling.NewRegistry()
	for _, a := range adapters {
		registry.Register(a)
	}
	return New(st, planner.New(client), executor.New(registry, st), critic.New(client), nil, t.TempDir())
}

const twoStepPlan = `[
	{"id":"s1","type":"CODE_GEN","tool":"LLM","input":{"prompt":"write a note"}},
	{"id":"s2","type":"VERIFY","tool":"NONE","depends_on":["s1"]}
]`

func TestRunHappyPath(t *testing.T) {
	st := store.NewMemoryStore()
	task := queuedTask("t1", "draft a short note about the release")
	if err := st.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	llmTool := &scriptedAdapter{tool: models.ToolLLM, results: []*models.ToolResult{{Success: true, Output: "the note"}}}
	o := buildOrchestrator(t, st, &planClient{plan: twoStepPlan}, llmTool)

	if err := o.Run(context.Background(), "t1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := st.GetTask("t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusSucceeded {
		t.Fatalf("status %s, error %q", got.Status, got.Error)
	}
	if got.Error != "" {
		t.Errorf("succeeded task carries error %q", got.Error)
	}

	// the plan is persisted both on disk and in the store
	if _, err := os.Stat(filepath.Join(got.Workspace, workspace.PlanFile)); err != nil {
		t.Errorf("plan.json missing: %v", err)
	}
	if _, err := st.GetPlan("t1"); err != nil {
		t.Errorf("stored plan missing: %v", err)
	}
	recs, err := st.ListSteps("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 step rows, got %d", len(recs))
	}
	if recs[0].Result == nil || recs[0].Result.Status != models.StepCompleted {
		t.Errorf("first step record: %+v", recs[0].Result)
	}
}

func TestRunRejectsNonQueuedTask(t *testing.T) {
	st := store.NewMemoryStore()
	task := queuedTask("t1", "anything")
	task.Status = models.StatusRunning
	if err := st.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	o := buildOrchestrator(t, st, &planClient{plan: twoStepPlan})
	if err := o.Run(context.Background(), "t1"); err == nil {
		t.Fatalf("running task must be rejected")
	}

	got, _ := st.GetTask("t1")
	if got.Status != models.StatusRunning {
		t.Errorf("rejected run must not change status, got %s", got.Status)
	}
}

func TestRunDependencyGating(t *testing.T) {
	st := store.NewMemoryStore()
	task := queuedTask("t1", "draft a short note about the release")
	if err := st.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	plan := `[
		{"id":"s1","type":"CODE_GEN","tool":"LLM","input":{"prompt":"a"}},
		{"id":"s2","type":"CODE_GEN","tool":"LLM","input":{"prompt":"b"},"depends_on":["s1"]},
		{"id":"s3","type":"VERIFY","tool":"NONE","depends_on":["s2"]}
	]`
	llmTool := &scriptedAdapter{tool: models.ToolLLM, results: []*models.ToolResult{{Success: false, Error: "broken"}}}
	o := buildOrchestrator(t, st, &planClient{plan: plan}, llmTool)

	if err := o.Run(context.Background(), "t1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := st.GetTask("t1")
	if got.Status != models.StatusFailed {
		t.Fatalf("status %s", got.Status)
	}

	recs, _ := st.ListSteps("t1")
	byID := map[string]*models.StepResult{}
	for _, r := range recs {
		byID[r.Step.ID] = r.Result
	}
	if byID["s1"] == nil || byID["s1"].Status != models.StepFailed {
		t.Errorf("s1: %+v", byID["s1"])
	}
	if byID["s2"] == nil || byID["s2"].Status != models.StepSkipped {
		t.Errorf("s2 should be skipped after s1 failed: %+v", byID["s2"])
	}
	if byID["s3"] == nil || byID["s3"].Status != models.StepSkipped {
		t.Errorf("s3 should cascade the skip: %+v", byID["s3"])
	}

	// s1 ran once, then once more in the bounded final retry; the failing
	// adapter backs only s1, s2 was never dispatched.
	if llmTool.calls != 2 {
		t.Errorf("adapter calls %d, want 2", llmTool.calls)
	}
	if got.Error == "" {
		t.Errorf("failed task should carry the critic's suggestions")
	}
}

func TestRunCriticTriggeredRetry(t *testing.T) {
	st := store.NewMemoryStore()
	task := queuedTask("t1", "draft a short note about the release")
	if err := st.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	llmTool := &scriptedAdapter{tool: models.ToolLLM, results: []*models.ToolResult{
		{Success: true, Output: "weak draft"},
		{Success: true, Output: "better draft"},
	}}
	client := &planClient{
		plan:    twoStepPlan,
		verdict: `{"passed": false, "confidence": 0.8, "reason": "too thin"}`,
	}
	o := buildOrchestrator(t, st, client, llmTool)

	if err := o.Run(context.Background(), "t1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := st.GetTask("t1")
	if got.Status != models.StatusSucceeded {
		t.Fatalf("status %s, error %q", got.Status, got.Error)
	}
	if llmTool.calls != 2 {
		t.Fatalf("adapter calls %d, want 2 (one critic retry)", llmTool.calls)
	}

	recs, _ := st.ListSteps("t1")
	var s1 *models.StepResult
	for _, r := range recs {
		if r.Step.ID == "s1" {
			s1 = r.Result
		}
	}
	if s1 == nil || s1.Attempt != 2 || s1.TriggeredBy != models.RetryByCritic {
		t.Fatalf("retried step record: %+v", s1)
	}
}

func TestRunCriticRetrySkippedWhenBudgetUsed(t *testing.T) {
	st := store.NewMemoryStore()
	task := queuedTask("t1", "draft a short note about the release")
	if err := st.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	// s1 fails once, recovers via its own retry, then the critic dislikes the
	// output. The step already spent its budget, so no third invocation.
	plan := `[
		{"id":"s1","type":"CODE_GEN","tool":"LLM","input":{"prompt":"a"},"on_fail":{"retry":1}},
		{"id":"s2","type":"VERIFY","tool":"NONE","depends_on":["s1"]}
	]`
	llmTool := &scriptedAdapter{tool: models.ToolLLM, results: []*models.ToolResult{
		{Success: false, Error: "flaky"},
		{Success: true, Output: "recovered"},
	}}
	client := &planClient{
		plan:    plan,
		verdict: `{"passed": false, "confidence": 0.8, "reason": "still weak"}`,
	}
	o := buildOrchestrator(t, st, client, llmTool)

	if err := o.Run(context.Background(), "t1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if llmTool.calls != 2 {
		t.Fatalf("adapter calls %d, want 2 (no critic retry after tool retry)", llmTool.calls)
	}
}

func TestRunConstraintsFromTaskContext(t *testing.T) {
	st := store.NewMemoryStore()
	task := queuedTask("t1", "draft a short note about the release")
	task.Context = map[string]any{
		"constraints": map[string]any{"max_steps": 2},
	}
	if err := st.CreateTask(task); err != nil {
		t.Fatal(err)
	}

	plan := `[
		{"id":"s1","type":"CODE_GEN","tool":"LLM","input":{"prompt":"a"}},
		{"id":"s2","type":"CODE_GEN","tool":"LLM","input":{"prompt":"b"}},
		{"id":"s3","type":"CODE_GEN","tool":"LLM","input":{"prompt":"c"}},
		{"id":"s4","type":"VERIFY","tool":"NONE"}
	]`
	llmTool := &scriptedAdapter{tool: models.ToolLLM, results: []*models.ToolResult{{Success: true, Output: "x"}}}
	o := buildOrchestrator(t, st, &planClient{plan: plan}, llmTool)

	if err := o.Run(context.Background(), "t1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stored, err := st.GetPlan("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Steps) != 2 {
		t.Fatalf("context constraints must cap the plan, got %d steps", len(stored.Steps))
	}
	if stored.Constraints.MaxSteps != 2 {
		t.Errorf("plan constraints: %+v", stored.Constraints)
	}
	if stored.Steps[1].Type != models.StepVerify {
		t.Errorf("capped plan still ends with VERIFY, got %s", stored.Steps[1].Type)
	}
}

package critic

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/example/taskforge/internal/models"
	"github.com/example/taskforge/internal/workspace"
)

type stubClient struct {
	verdict string
	err     error
}

func (s *stubClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	return "", nil
}

func (s *stubClient) Judge(ctx context.Context, prompt, output string) (bool, string, error) {
	return true, s.verdict, s.err
}

func completed(stepID string, tr *models.ToolResult) *models.StepResult {
	return &models.StepResult{StepID: stepID, Status: models.StepCompleted, Result: tr}
}

func TestShouldEvaluate(t *testing.T) {
	c := New(&stubClient{})
	cases := []struct {
		typ  models.StepType
		want bool
	}{
		{models.StepCodeGen, true},
		{models.StepImageGen, true},
		{models.StepFSWrite, false},
		{models.StepFSRead, false},
		{models.StepVerify, false},
		{models.StepTerminalRun, true},
		{models.StepBrowserCheck, true},
	}
	for _, tc := range cases {
		got := c.ShouldEvaluate(&models.PlanStep{Type: tc.typ})
		if got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.typ, got, tc.want)
		}
	}
}

func TestEvaluateToolFailure(t *testing.T) {
	c := New(&stubClient{})
	step := &models.PlanStep{ID: "s1", Type: models.StepCodeGen, Tool: models.ToolLLM}
	ev := c.Evaluate(context.Background(), step, completed("s1", &models.ToolResult{Success: false, Error: "boom"}), "goal")
	if ev.Passed {
		t.Fatalf("failed tool result must never pass evaluation")
	}
	if ev.Reason != "boom" {
		t.Errorf("reason %q", ev.Reason)
	}
}

func TestEvaluateFSTrusted(t *testing.T) {
	c := New(&stubClient{err: errors.New("must not be called")})
	step := &models.PlanStep{ID: "s1", Type: models.StepPlan, Tool: models.ToolFS}
	ev := c.Evaluate(context.Background(), step, completed("s1", &models.ToolResult{Success: true}), "goal")
	if !ev.Passed {
		t.Fatalf("successful FS op should pass without judgment")
	}
}

func TestEvaluateTerminalExitCode(t *testing.T) {
	c := New(&stubClient{})
	step := &models.PlanStep{ID: "s1", Type: models.StepTerminalRun, Tool: models.ToolTerminal}

	ok := completed("s1", &models.ToolResult{Success: true, Meta: map[string]any{"exit_code": 0}})
	if ev := c.Evaluate(context.Background(), step, ok, "goal"); !ev.Passed {
		t.Errorf("exit 0 should pass: %s", ev.Reason)
	}

	bad := completed("s1", &models.ToolResult{Success: true, Meta: map[string]any{"exit_code": float64(2)}})
	if ev := c.Evaluate(context.Background(), step, bad, "goal"); ev.Passed {
		t.Errorf("nonzero exit must fail even when the tool reported success")
	}
}

func TestEvaluateImageNeedsImageArtifact(t *testing.T) {
	c := New(&stubClient{})
	step := &models.PlanStep{ID: "s1", Type: models.StepImageGen, Tool: models.ToolImage}

	none := completed("s1", &models.ToolResult{Success: true})
	if ev := c.Evaluate(context.Background(), step, none, "goal"); ev.Passed {
		t.Errorf("image step without image artifact must fail")
	}

	with := completed("s1", &models.ToolResult{
		Success:   true,
		Artifacts: []models.Artifact{{Name: "a.png", Type: "image/png", Path: "/x/a.png"}},
	})
	if ev := c.Evaluate(context.Background(), step, with, "goal"); !ev.Passed {
		t.Errorf("image artifact should pass: %s", ev.Reason)
	}
}

func TestEvaluateBrowserNeedsScreenshot(t *testing.T) {
	c := New(&stubClient{})
	step := &models.PlanStep{ID: "s1", Type: models.StepBrowserCheck, Tool: models.ToolBrowser}

	bare := completed("s1", &models.ToolResult{Success: true, Output: map[string]any{"title": "x"}})
	if ev := c.Evaluate(context.Background(), step, bare, "goal"); ev.Passed {
		t.Errorf("browser result without screenshot must fail")
	}

	shot := completed("s1", &models.ToolResult{Success: true, Output: map[string]any{"screenshot": "outputs/browser/shot.png"}})
	if ev := c.Evaluate(context.Background(), step, shot, "goal"); !ev.Passed {
		t.Errorf("screenshot should pass: %s", ev.Reason)
	}
}

func TestEvaluateJudgeFailsOpen(t *testing.T) {
	c := New(&stubClient{err: errors.New("provider down")})
	step := &models.PlanStep{ID: "s1", Type: models.StepCodeGen, Tool: models.ToolLLM}
	ev := c.Evaluate(context.Background(), step, completed("s1", &models.ToolResult{Success: true, Output: "text"}), "goal")
	if !ev.Passed {
		t.Fatalf("unavailable critic must fail open")
	}
	if ev.Confidence >= 0.5 {
		t.Errorf("fail-open verdict should carry reduced confidence, got %f", ev.Confidence)
	}
}

func TestEvaluateJudgeParsesVerdict(t *testing.T) {
	c := New(&stubClient{verdict: "```json\n{\"passed\": false, \"confidence\": 0.9, \"reason\": \"wrong colors\", \"suggestions\": [\"redo\"]}\n```"})
	step := &models.PlanStep{ID: "s1", Type: models.StepCodeGen, Tool: models.ToolLLM}
	ev := c.Evaluate(context.Background(), step, completed("s1", &models.ToolResult{Success: true, Output: "text"}), "goal")
	if ev.Passed {
		t.Fatalf("explicit negative verdict must fail")
	}
	if ev.Reason != "wrong colors" || !reflect.DeepEqual(ev.Suggestions, []string{"redo"}) {
		t.Errorf("verdict fields: %+v", ev)
	}
}

func TestVerifyPlanExecutionPasses(t *testing.T) {
	root := t.TempDir()
	if err := workspace.Init(root); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(root, workspace.ImagesDir, "out.png"), "png")

	c := New(&stubClient{})
	results := []*models.StepResult{
		completed("s1", &models.ToolResult{Success: true}),
		completed("s2", &models.ToolResult{Success: true}),
	}
	v := c.VerifyPlanExecution("goal", []models.OutputKind{models.OutImage}, results, root)
	if !v.Passed {
		t.Fatalf("clean run with artifact should pass: %+v", v)
	}
	if v.Confidence != 0.95 {
		t.Errorf("confidence %f", v.Confidence)
	}
}

func TestVerifyPlanExecutionMissingArtifactFails(t *testing.T) {
	root := t.TempDir()
	if err := workspace.Init(root); err != nil {
		t.Fatal(err)
	}

	c := New(&stubClient{})
	results := []*models.StepResult{completed("s1", &models.ToolResult{Success: true})}
	v := c.VerifyPlanExecution("goal", []models.OutputKind{models.OutImage}, results, root)
	if v.Passed {
		t.Fatalf("missing artifact must fail even with no failed steps")
	}
	if !reflect.DeepEqual(v.MissingArtifacts, []models.OutputKind{models.OutImage}) {
		t.Errorf("missing: %v", v.MissingArtifacts)
	}
	if len(v.RetrySteps) != 0 {
		t.Errorf("no failed steps means nothing to retry, got %v", v.RetrySteps)
	}
}

func TestVerifyPlanExecutionRetryBound(t *testing.T) {
	root := t.TempDir()
	if err := workspace.Init(root); err != nil {
		t.Fatal(err)
	}
	c := New(&stubClient{})

	fail := func(id string) *models.StepResult {
		return &models.StepResult{StepID: id, Status: models.StepFailed, Result: &models.ToolResult{Success: false}}
	}

	two := []*models.StepResult{fail("s1"), fail("s2"), completed("s3", &models.ToolResult{Success: true})}
	v := c.VerifyPlanExecution("goal", nil, two, root)
	if !v.CanRetry || !reflect.DeepEqual(v.RetrySteps, []string{"s1", "s2"}) {
		t.Fatalf("two failed steps should be retryable: %+v", v)
	}

	three := []*models.StepResult{fail("s1"), fail("s2"), fail("s3")}
	v = c.VerifyPlanExecution("goal", nil, three, root)
	if v.CanRetry {
		t.Fatalf("three failed steps must not be retryable")
	}
}

func TestVerifyPlanExecutionSkippedIsNotFailed(t *testing.T) {
	root := t.TempDir()
	if err := workspace.Init(root); err != nil {
		t.Fatal(err)
	}
	c := New(&stubClient{})

	results := []*models.StepResult{
		completed("s1", &models.ToolResult{Success: true}),
		{StepID: "s2", Status: models.StepSkipped},
	}
	v := c.VerifyPlanExecution("goal", nil, results, root)
	if len(v.FailedSteps) != 0 {
		t.Fatalf("skipped steps are not failed steps: %v", v.FailedSteps)
	}
	if !v.Passed {
		t.Fatalf("run with only skips and no expected artifacts should pass")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

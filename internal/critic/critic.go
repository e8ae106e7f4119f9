// Package critic judges step quality and whole-plan completeness. The step
// evaluator fails open when its own generative call is unavailable; the plan
// verifier is the authoritative final gate and never does: no artifact, no
// success.
package critic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/taskforge/internal/models"
	"github.com/example/taskforge/internal/providers/llm"
	"github.com/example/taskforge/internal/workspace"
)

// retryCeiling is the most failed steps a run may have and still be offered
// a bounded re-execution.
const retryCeiling = 2

type Critic struct {
	Client llm.Client
}

func New(client llm.Client) *Critic {
	return &Critic{Client: client}
}

// Evaluation is the per-step verdict.
type Evaluation struct {
	Passed      bool     `json:"passed"`
	Confidence  float64  `json:"confidence"`
	Reason      string   `json:"reason"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ShouldEvaluate reports whether a step type warrants a quality check at
// all: generation steps always, plumbing steps never, the rest by default.
func (c *Critic) ShouldEvaluate(step *models.PlanStep) bool {
	switch step.Type {
	case models.StepCodeGen, models.StepImageGen:
		return true
	case models.StepFSWrite, models.StepFSRead, models.StepVerify:
		return false
	default:
		return true
	}
}

// Evaluate checks whether a completed step actually achieved its intent.
// Mechanical outcomes short-circuit without a generative call; only
// subjective text output falls through to the judgment prompt.
func (c *Critic) Evaluate(ctx context.Context, step *models.PlanStep, res *models.StepResult, goal string) Evaluation {
	tr := res.Result
	if tr == nil || !tr.Success {
		reason := "tool reported failure"
		if tr != nil && tr.Error != "" {
			reason = tr.Error
		}
		return Evaluation{Passed: false, Confidence: 1, Reason: reason}
	}

	switch step.Tool {
	case models.ToolFS:
		return Evaluation{Passed: true, Confidence: 1, Reason: "file operation succeeded"}
	case models.ToolTerminal:
		if exitCode(tr) == 0 {
			return Evaluation{Passed: true, Confidence: 1, Reason: "command exited 0"}
		}
		return Evaluation{Passed: false, Confidence: 1, Reason: fmt.Sprintf("command exited %d", exitCode(tr))}
	case models.ToolImage:
		for _, a := range tr.Artifacts {
			if strings.HasPrefix(a.Type, "image/") {
				return Evaluation{Passed: true, Confidence: 1, Reason: "image artifact produced"}
			}
		}
		return Evaluation{Passed: false, Confidence: 1, Reason: "no image artifact produced"}
	case models.ToolBrowser:
		if out, ok := tr.Output.(map[string]any); ok {
			if shot, _ := out["screenshot"].(string); shot != "" {
				return Evaluation{Passed: true, Confidence: 1, Reason: "screenshot captured"}
			}
		}
		return Evaluation{Passed: false, Confidence: 1, Reason: "no screenshot in output"}
	}

	return c.judge(ctx, step, tr, goal)
}

func (c *Critic) judge(ctx context.Context, step *models.PlanStep, tr *models.ToolResult, goal string) Evaluation {
	prompt := buildRubricPrompt(step, goal)
	_, verdict, err := c.Client.Judge(ctx, prompt, previewOutput(tr.Output))
	if err != nil {
		// The critic's own availability must never block the pipeline.
		return Evaluation{Passed: true, Confidence: 0.3, Reason: "critic unavailable, passing by default"}
	}

	var ev struct {
		Passed      *bool    `json:"passed"`
		Confidence  float64  `json:"confidence"`
		Reason      string   `json:"reason"`
		Suggestions []string `json:"suggestions"`
	}
	if json.Unmarshal([]byte(normalizeVerdict(verdict)), &ev) == nil && ev.Passed != nil {
		return Evaluation{Passed: *ev.Passed, Confidence: ev.Confidence, Reason: ev.Reason, Suggestions: ev.Suggestions}
	}
	// Unparseable verdict is treated like an unavailable critic.
	return Evaluation{Passed: true, Confidence: 0.3, Reason: "unparseable critic verdict, passing by default"}
}

func buildRubricPrompt(step *models.PlanStep, goal string) string {
	b, _ := json.Marshal(map[string]any{
		"goal":                goal,
		"step_description":    step.Description,
		"expected_output":     step.ExpectedOutput,
		"acceptance_criteria": step.AcceptanceCrit,
	})
	return fmt.Sprintf(`You are a strict reviewer. Judge whether the output below satisfies the step's intent for the overall goal.
Respond with JSON only: {"passed": true|false, "confidence": 0.0-1.0, "reason": "...", "suggestions": ["..."]}.
Task and step: %s`, string(b))
}

// Verification is the whole-plan verdict.
type Verification struct {
	Passed           bool                `json:"passed"`
	Confidence       float64             `json:"confidence"`
	MissingArtifacts []models.OutputKind `json:"missing_artifacts,omitempty"`
	FailedSteps      []string            `json:"failed_steps,omitempty"`
	Suggestions      []string            `json:"suggestions,omitempty"`
	CanRetry         bool                `json:"can_retry"`
	RetrySteps       []string            `json:"retry_steps,omitempty"`
}

// VerifyPlanExecution is the final gate. It passes only when no step failed
// AND every promised artifact category has a file on disk. A clean step log
// with a missing artifact is still a failure.
func (c *Critic) VerifyPlanExecution(goal string, expected []models.OutputKind, results []*models.StepResult, workspacePath string) Verification {
	var failed []string
	for _, r := range results {
		if r.Status == models.StepFailed {
			failed = append(failed, r.StepID)
		}
	}

	missing := workspace.Missing(workspacePath, expected)

	v := Verification{
		MissingArtifacts: missing,
		FailedSteps:      failed,
		Passed:           len(missing) == 0 && len(failed) == 0,
	}
	if v.Passed {
		v.Confidence = 0.95
		return v
	}
	v.Confidence = 0.2

	for _, m := range missing {
		v.Suggestions = append(v.Suggestions, fmt.Sprintf("expected %s artifact was not produced", m))
	}
	for _, id := range failed {
		v.Suggestions = append(v.Suggestions, fmt.Sprintf("step %s failed", id))
	}

	if len(failed) <= retryCeiling {
		v.CanRetry = true
		v.RetrySteps = failed
		if len(v.RetrySteps) > retryCeiling {
			v.RetrySteps = v.RetrySteps[:retryCeiling]
		}
	}
	return v
}

func exitCode(tr *models.ToolResult) int {
	if tr.Meta != nil {
		switch t := tr.Meta["exit_code"].(type) {
		case int:
			return t
		case float64:
			return int(t)
		}
	}
	if out, ok := tr.Output.(map[string]any); ok {
		switch t := out["exit_code"].(type) {
		case int:
			return t
		case float64:
			return int(t)
		}
	}
	return -1
}

func previewOutput(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	default:
		b, _ := json.Marshal(t)
		s = string(b)
	}
	if len(s) > 4000 {
		s = s[:4000]
	}
	return s
}

func normalizeVerdict(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```")
		if idx := strings.IndexByte(t, '\n'); idx != -1 {
			t = t[idx+1:]
		}
		if j := strings.LastIndex(t, "```"); j != -1 {
			t = t[:j]
		}
	}
	return strings.TrimSpace(t)
}

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/example/taskforge/internal/critic"
	"github.com/example/taskforge/internal/executor"
	"github.com/example/taskforge/internal/guardrails"
	"github.com/example/taskforge/internal/intent"
	"github.com/example/taskforge/internal/models"
	"github.com/example/taskforge/internal/planner"
	"github.com/example/taskforge/internal/store"
	"github.com/example/taskforge/internal/telemetry"
	"github.com/example/taskforge/internal/workspace"
)

// Orchestrator owns the full lifecycle of a task: QUEUED -> RUNNING ->
// PLANNED -> RUNNING -> SUCCEEDED|FAILED. It is the only writer of task
// status and of the per-run ExecutionContext.
type Orchestrator struct {
	Store    store.Store
	Planner  *planner.Planner
	Executor *executor.Executor
	Critic   *critic.Critic
	Guard    *guardrails.Guard
	Root     string

	tasksStarted   metric.Float64Counter
	tasksSucceeded metric.Float64Counter
	tasksFailed    metric.Float64Counter
}

func New(st store.Store, p *planner.Planner, ex *executor.Executor, cr *critic.Critic, guard *guardrails.Guard, root string) *Orchestrator {
	o := &Orchestrator{
		Store:    st,
		Planner:  p,
		Executor: ex,
		Critic:   cr,
		Guard:    guard,
		Root:     root,
	}
	o.tasksStarted, _ = telemetry.InitializeFloatCounter("taskforge.tasks.started", "Number of task runs started", "{task}")
	o.tasksSucceeded, _ = telemetry.InitializeFloatCounter("taskforge.tasks.succeeded", "Number of task runs that verified clean", "{task}")
	o.tasksFailed, _ = telemetry.InitializeFloatCounter("taskforge.tasks.failed", "Number of task runs that ended failed", "{task}")
	return o
}

// Run executes a single task to completion. Only QUEUED tasks are accepted;
// a forced re-run goes through Store.ForceRetry first, which resets the task
// back to QUEUED. Run returns an error only for infrastructure failures; a
// task that fails verification is recorded as FAILED and returns nil.
func (o *Orchestrator) Run(ctx context.Context, taskID string) error {
	t, err := o.Store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if t.Status != models.StatusQueued {
		return fmt.Errorf("task %s is %s, want %s", taskID, t.Status, models.StatusQueued)
	}

	constraints := o.constraintsFor(t)

	var reservation *guardrails.Reservation
	if o.Guard != nil {
		reservation, err = o.Guard.Begin(t.UserID, constraints)
		if err != nil {
			return o.fail(t, fmt.Sprintf("guardrails rejected run: %v", err))
		}
	}

	o.count(o.tasksStarted)
	telemetry.Logf(slog.LevelInfo, "task run started", "task_id", t.ID, "goal", t.Goal)

	t.Workspace = filepath.Join(o.Root, t.ID)
	t.Status = models.StatusRunning
	if err := o.Store.UpdateTask(t); err != nil {
		return err
	}
	if err := workspace.Init(t.Workspace); err != nil {
		return o.fail(t, fmt.Sprintf("workspace init: %v", err))
	}

	cls := intent.Classify(t.Goal)
	telemetry.Logf(slog.LevelInfo, "goal classified",
		"task_id", t.ID,
		"expected_output", string(cls.ExpectedOutput),
		"composite", cls.IsComposite,
		"confidence", cls.Confidence)

	plan, err := o.Planner.CreatePlan(ctx, t.ID, t.Goal, t.Context, t.Type, &constraints)
	if err != nil {
		return o.fail(t, fmt.Sprintf("planning failed: %v", err))
	}
	if err := o.persistPlan(t, plan); err != nil {
		return o.fail(t, fmt.Sprintf("persist plan: %v", err))
	}

	t.Status = models.StatusRunning
	if err := o.Store.UpdateTask(t); err != nil {
		return err
	}

	ec := models.NewExecutionContext(t.ID, t.Workspace, t.Goal, constraints)
	if reservation != nil {
		defer func() { reservation.Settle(ec.StepCount) }()
	}

	for _, step := range plan.Steps {
		if ec.Elapsed() >= time.Duration(constraints.MaxSeconds)*time.Second {
			return o.fail(t, fmt.Sprintf("time budget exhausted after %d steps (%ds)", ec.StepCount, constraints.MaxSeconds))
		}
		if !depsCompleted(step, ec) {
			skipped := &models.StepResult{
				StepID:    step.ID,
				Status:    models.StepSkipped,
				StartedAt: time.Now().UTC(),
				EndedAt:   time.Now().UTC(),
			}
			ec.StepResults[step.ID] = skipped
			if err := o.Store.UpsertStep(t.ID, step, skipped); err != nil {
				return err
			}
			telemetry.Logf(slog.LevelWarn, "step skipped, dependency not completed", "task_id", t.ID, "step_id", step.ID)
			continue
		}

		res := o.Executor.ExecuteStep(ctx, step, ec)
		res = o.critique(ctx, t, step, res, ec)

		if err := o.Store.UpsertStep(t.ID, step, res); err != nil {
			return err
		}
	}

	v := o.verifyAndRetry(ctx, t, plan, ec)

	succeeded := v.Passed
	if succeeded {
		t.Status = models.StatusSucceeded
		t.Result = map[string]any{
			"expected_outputs": plan.ExpectedOutputs,
			"confidence":       v.Confidence,
			"steps_executed":   ec.StepCount,
		}
		t.Error = ""
		o.count(o.tasksSucceeded)
		telemetry.Logf(slog.LevelInfo, "task succeeded", "task_id", t.ID, "steps", ec.StepCount)
		return o.Store.UpdateTask(t)
	}

	msg := strings.Join(v.Suggestions, "; ")
	if msg == "" {
		msg = "verification failed"
	}
	return o.fail(t, msg)
}

// critique runs the selective post-step evaluation. A negative verdict earns
// the step one more attempt, but only when its own retry budget went unused.
func (o *Orchestrator) critique(ctx context.Context, t *models.Task, step *models.PlanStep, res *models.StepResult, ec *models.ExecutionContext) *models.StepResult {
	if o.Critic == nil || res.Status != models.StepCompleted || !o.Critic.ShouldEvaluate(step) {
		return res
	}
	ev := o.Critic.Evaluate(ctx, step, res, t.Goal)
	if ev.Passed {
		return res
	}
	telemetry.Logf(slog.LevelWarn, "critic rejected step output",
		"task_id", t.ID, "step_id", step.ID, "reason", ev.Reason)
	if res.Retries > 0 || res.Attempt > 1 {
		return res
	}
	return o.Executor.ReExecuteStep(ctx, step, ec, models.RetryByCritic)
}

// verifyAndRetry runs the final plan verification and, when the critic names
// recoverable steps, re-executes at most two of them once before verifying
// again.
func (o *Orchestrator) verifyAndRetry(ctx context.Context, t *models.Task, plan *models.ExecutionPlan, ec *models.ExecutionContext) critic.Verification {
	v := o.Critic.VerifyPlanExecution(t.Goal, plan.ExpectedOutputs, orderedResults(plan, ec), t.Workspace)
	if v.Passed || !v.CanRetry || len(v.RetrySteps) == 0 {
		return v
	}

	retried := false
	for _, id := range v.RetrySteps {
		step := plan.Step(id)
		if step == nil {
			continue
		}
		if ec.Elapsed() >= time.Duration(ec.Constraints.MaxSeconds)*time.Second {
			break
		}
		telemetry.Logf(slog.LevelInfo, "re-executing failed step", "task_id", t.ID, "step_id", id)
		res := o.Executor.ReExecuteStep(ctx, step, ec, models.RetryByCritic)
		if err := o.Store.UpsertStep(t.ID, step, res); err != nil {
			telemetry.Log("persist retried step: "+err.Error(), slog.LevelError)
		}
		retried = true
	}
	if !retried {
		return v
	}
	return o.Critic.VerifyPlanExecution(t.Goal, plan.ExpectedOutputs, orderedResults(plan, ec), t.Workspace)
}

// persistPlan writes plan.json into the workspace and mirrors the plan and
// its pending steps into the store, moving the task through PLANNED.
func (o *Orchestrator) persistPlan(t *models.Task, plan *models.ExecutionPlan) error {
	raw, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(t.Workspace, workspace.PlanFile), raw, 0o644); err != nil {
		return err
	}
	if err := o.Store.SavePlan(t.ID, plan); err != nil {
		return err
	}
	for _, step := range plan.Steps {
		if err := o.Store.UpsertStep(t.ID, step, nil); err != nil {
			return err
		}
	}
	t.Status = models.StatusPlanned
	return o.Store.UpdateTask(t)
}

func (o *Orchestrator) constraintsFor(t *models.Task) models.TaskConstraints {
	raw, ok := t.Context["constraints"]
	if !ok {
		return guardrails.Resolve(nil)
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return guardrails.Resolve(nil)
	}
	var patch guardrails.ConstraintPatch
	if err := json.Unmarshal(buf, &patch); err != nil {
		return guardrails.Resolve(nil)
	}
	return guardrails.Resolve(&patch)
}

func (o *Orchestrator) fail(t *models.Task, msg string) error {
	t.Status = models.StatusFailed
	t.Error = msg
	o.count(o.tasksFailed)
	telemetry.Logf(slog.LevelError, "task failed", "task_id", t.ID, "error", msg)
	return o.Store.UpdateTask(t)
}

func (o *Orchestrator) count(c metric.Float64Counter) {
	if c != nil {
		c.Add(context.Background(), 1)
	}
}

// depsCompleted reports whether every dependency of step finished COMPLETED.
// A skipped or failed dependency disqualifies the step permanently.
func depsCompleted(step *models.PlanStep, ec *models.ExecutionContext) bool {
	for _, dep := range step.DependsOn {
		res, ok := ec.StepResults[dep]
		if !ok || res.Status != models.StepCompleted {
			return false
		}
	}
	return true
}

// orderedResults returns the run's step results in plan order, which keeps
// failed-step reporting deterministic.
func orderedResults(plan *models.ExecutionPlan, ec *models.ExecutionContext) []*models.StepResult {
	out := make([]*models.StepResult, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		if res, ok := ec.StepResults[step.ID]; ok {
			out = append(out, res)
		}
	}
	return out
}

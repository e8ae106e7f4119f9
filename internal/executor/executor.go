// Package executor runs one plan step at a time: budget circuit breakers,
// input enrichment, tool dispatch, bounded retry and artifact registration.
// Tool errors never propagate past this boundary; they become failed step
// results.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/example/taskforge/internal/models"
	"github.com/example/taskforge/internal/telemetry"
	"github.com/example/taskforge/internal/tooling"
	"github.com/example/taskforge/internal/workspace"
)

const outputPreviewLimit = 2000

// ArtifactSink receives verified artifact records. The sqlite store
// implements it; a nil sink skips persistence.
type ArtifactSink interface {
	RecordArtifact(taskID string, a models.Artifact) error
}

type Executor struct {
	Registry *tooling.Registry
	Sink     ArtifactSink

	stepsExecuted metric.Float64Counter
	stepsRetried  metric.Float64Counter
}

func New(registry *tooling.Registry, sink ArtifactSink) *Executor {
	e := &Executor{Registry: registry, Sink: sink}
	e.stepsExecuted, _ = telemetry.InitializeFloatCounter("taskforge.steps.executed", "Number of plan steps executed", "{step}")
	e.stepsRetried, _ = telemetry.InitializeFloatCounter("taskforge.steps.retried", "Number of step retries, tool-level and critic-triggered", "{step}")
	return e
}

// ExecuteStep runs a step's first attempt, including the tool-level retry if
// the step's on-fail policy grants one.
func (e *Executor) ExecuteStep(ctx context.Context, step *models.PlanStep, ec *models.ExecutionContext) *models.StepResult {
	return e.run(ctx, step, ec, 1, "")
}

// ReExecuteStep runs a second attempt on behalf of the critic or the final
// verification pass. The retry provenance is recorded on the result.
func (e *Executor) ReExecuteStep(ctx context.Context, step *models.PlanStep, ec *models.ExecutionContext, trigger models.RetryTrigger) *models.StepResult {
	return e.run(ctx, step, ec, 2, trigger)
}

func (e *Executor) run(ctx context.Context, step *models.PlanStep, ec *models.ExecutionContext, attempt int, trigger models.RetryTrigger) *models.StepResult {
	res := &models.StepResult{
		StepID:      step.ID,
		Attempt:     attempt,
		TriggeredBy: trigger,
		StartedAt:   time.Now(),
	}

	// Pre-dispatch circuit breakers. These never interrupt in-flight work;
	// a step that got past them runs to completion.
	if ec.StepCount >= ec.Constraints.MaxSteps {
		e.finish(step, ec, res, &models.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("step budget exhausted (%d steps)", ec.Constraints.MaxSteps),
		})
		return res
	}
	if ec.Elapsed() >= time.Duration(ec.Constraints.MaxSeconds)*time.Second {
		e.finish(step, ec, res, &models.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("time budget exhausted (%ds)", ec.Constraints.MaxSeconds),
		})
		return res
	}

	enriched := enrichInput(step.Input, ec.PreviousOutputs)

	tr := e.dispatch(ctx, step, ec, enriched)
	if !tr.Success && attempt == 1 && step.OnFail != nil && step.OnFail.Retry > 0 {
		// Exactly one built-in retry, with the already-enriched input.
		res.Retries = 1
		tr = e.dispatch(ctx, step, ec, enriched)
	}

	e.finish(step, ec, res, tr)
	return res
}

func (e *Executor) dispatch(ctx context.Context, step *models.PlanStep, ec *models.ExecutionContext, input map[string]any) *models.ToolResult {
	// Permission failures never reach the adapter and are never retried
	// into it either: the same check runs on both attempts.
	switch step.Tool {
	case models.ToolTerminal:
		if !ec.Constraints.AllowTerminal {
			return &models.ToolResult{Success: false, Error: "terminal tool not allowed by constraints"}
		}
	case models.ToolBrowser:
		if !ec.Constraints.AllowBrowser {
			return &models.ToolResult{Success: false, Error: "browser tool not allowed by constraints"}
		}
	case models.ToolNone:
		return e.verifyArtifacts(step, ec, input)
	}

	adapter, ok := e.Registry.Get(step.Tool)
	if !ok {
		return &models.ToolResult{Success: false, Error: fmt.Sprintf("no adapter for tool %s", step.Tool)}
	}

	in := tooling.Input{StepID: step.ID, Workspace: ec.Workspace, Fields: input}
	start := time.Now()
	tr, err := adapter.Execute(ctx, in)
	if err != nil {
		return &models.ToolResult{Success: false, Error: err.Error(), DurationMs: time.Since(start).Milliseconds()}
	}
	return tr
}

// verifyArtifacts is the NONE-tool verification subroutine: each category in
// the step's expectedOutputs must have a matching file in the workspace.
func (e *Executor) verifyArtifacts(step *models.PlanStep, ec *models.ExecutionContext, input map[string]any) *models.ToolResult {
	kinds := outputKinds(input["expectedOutputs"])
	missing := workspace.Missing(ec.Workspace, kinds)
	out := map[string]any{"checked": kindStrings(kinds), "missing": kindStrings(missing)}
	if len(missing) > 0 {
		return &models.ToolResult{
			Success: false,
			Output:  out,
			Error:   fmt.Sprintf("missing artifacts: %v", kindStrings(missing)),
		}
	}
	return &models.ToolResult{Success: true, Output: out}
}

// finish records the outcome into the context, registers verified artifacts,
// and writes the per-step execution log.
func (e *Executor) finish(step *models.PlanStep, ec *models.ExecutionContext, res *models.StepResult, tr *models.ToolResult) {
	if tr.Success {
		tr.Artifacts = e.registerArtifacts(ec.TaskID, tr.Artifacts)
	}

	res.Result = tr
	res.EndedAt = time.Now()
	if tr.Success {
		res.Status = models.StepCompleted
		// Failed steps never populate this map: dependents resolve their
		// references to nothing and a later VERIFY catches the gap.
		ec.PreviousOutputs[step.ID] = tr.Output
	} else {
		res.Status = models.StepFailed
	}

	ec.StepResults[step.ID] = res
	ec.StepCount++

	e.count(e.stepsExecuted)
	if res.Retries > 0 || res.Attempt > 1 {
		e.count(e.stepsRetried)
	}

	e.writeLog(step, ec, res)
}

func (e *Executor) count(c metric.Float64Counter) {
	if c != nil {
		c.Add(context.Background(), 1)
	}
}

// registerArtifacts keeps only artifacts whose file exists on disk with
// non-zero size. An artifact record is never created for an unverifiable
// file.
func (e *Executor) registerArtifacts(taskID string, artifacts []models.Artifact) []models.Artifact {
	var kept []models.Artifact
	for _, a := range artifacts {
		info, err := os.Stat(a.Path)
		if err != nil || info.Size() == 0 {
			continue
		}
		a.Size = info.Size()
		if e.Sink != nil {
			_ = e.Sink.RecordArtifact(taskID, a)
		}
		kept = append(kept, a)
	}
	return kept
}

type stepLog struct {
	TaskID        string             `json:"task_id"`
	StepID        string             `json:"step_id"`
	Type          models.StepType    `json:"type"`
	Tool          models.Tool        `json:"tool"`
	Status        models.StepStatus  `json:"status"`
	Error         string             `json:"error,omitempty"`
	Retries       int                `json:"retries"`
	Attempt       int                `json:"attempt"`
	DurationMs    int64              `json:"duration_ms"`
	OutputPreview string             `json:"output_preview,omitempty"`
	Artifacts     []models.Artifact  `json:"artifacts,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	EndedAt       time.Time          `json:"ended_at"`
}

func (e *Executor) writeLog(step *models.PlanStep, ec *models.ExecutionContext, res *models.StepResult) {
	entry := stepLog{
		TaskID:    ec.TaskID,
		StepID:    step.ID,
		Type:      step.Type,
		Tool:      step.Tool,
		Status:    res.Status,
		Retries:   res.Retries,
		Attempt:   res.Attempt,
		StartedAt: res.StartedAt,
		EndedAt:   res.EndedAt,
	}
	if res.Result != nil {
		entry.Error = res.Result.Error
		entry.DurationMs = res.Result.DurationMs
		entry.Artifacts = res.Result.Artifacts
		entry.OutputPreview = preview(res.Result.Output, outputPreviewLimit)
	}
	dir := filepath.Join(ec.Workspace, workspace.LogsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return
	}
	name := fmt.Sprintf("step_%s_attempt%d.json", step.ID, res.Attempt)
	_ = os.WriteFile(filepath.Join(dir, name), b, 0o644)
}

func preview(v any, limit int) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = t
	default:
		b, _ := json.Marshal(t)
		s = string(b)
	}
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

func outputKinds(v any) []models.OutputKind {
	var kinds []models.OutputKind
	add := func(s string) {
		switch k := models.OutputKind(s); k {
		case models.OutCode, models.OutImage, models.OutText, models.OutFiles,
			models.OutWebResult, models.OutBrowserCheck, models.OutTerminal:
			kinds = append(kinds, k)
		}
	}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, s := range t {
			add(s)
		}
	}
	return kinds
}

func kindStrings(kinds []models.OutputKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

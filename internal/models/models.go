package models

import (
	"time"
)

type TaskStatus string

const (
	StatusQueued    TaskStatus = "QUEUED"
	StatusPlanned   TaskStatus = "PLANNED"
	StatusRunning   TaskStatus = "RUNNING"
	StatusSucceeded TaskStatus = "SUCCEEDED"
	StatusFailed    TaskStatus = "FAILED"
)

type TaskType string

const (
	TaskCoding TaskType = "CODING"
	TaskImage  TaskType = "IMAGE"
	TaskMixed  TaskType = "MIXED"
)

// Task is one user-submitted unit of work. Created QUEUED by the API layer,
// mutated only by the orchestrator, terminal once SUCCEEDED or FAILED.
type Task struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Goal      string         `json:"goal"`
	Type      TaskType       `json:"type"`
	Context   map[string]any `json:"context,omitempty"`
	Status    TaskStatus     `json:"status"`
	Workspace string         `json:"workspace"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type StepType string

const (
	StepPlan         StepType = "PLAN"
	StepWebResearch  StepType = "WEB_RESEARCH"
	StepImageGen     StepType = "IMAGE_GEN"
	StepCodeGen      StepType = "CODE_GEN"
	StepTerminalRun  StepType = "TERMINAL_RUN"
	StepBrowserCheck StepType = "BROWSER_CHECK"
	StepFSWrite      StepType = "FS_WRITE"
	StepFSRead       StepType = "FS_READ"
	StepVerify       StepType = "VERIFY"
)

type Tool string

const (
	ToolLLM      Tool = "LLM"
	ToolImage    Tool = "IMAGE"
	ToolFS       Tool = "FS"
	ToolTerminal Tool = "TERMINAL"
	ToolBrowser  Tool = "BROWSER"
	ToolNone     Tool = "NONE"
)

// OutputKind is one artifact category a plan promises to produce.
type OutputKind string

const (
	OutCode         OutputKind = "code"
	OutImage        OutputKind = "image"
	OutText         OutputKind = "text"
	OutFiles        OutputKind = "files"
	OutWebResult    OutputKind = "web_result"
	OutBrowserCheck OutputKind = "browser_check"
	OutTerminal     OutputKind = "terminal"
)

// OnFail carries a step's failure policy as declared by the planner.
type OnFail struct {
	Retry    int    `json:"retry,omitempty"`
	Fallback string `json:"fallback,omitempty"`
}

// PlanStep is a single unit of planned work bound to exactly one tool.
// Type and Tool are kept mutually consistent by the planner's repair pass.
type PlanStep struct {
	ID             string         `json:"id"`
	Type           StepType       `json:"type"`
	Tool           Tool           `json:"tool"`
	Description    string         `json:"description,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	ExpectedOutput string         `json:"expected_output,omitempty"`
	AcceptanceCrit []string       `json:"acceptance_criteria,omitempty"`
	OnFail         *OnFail        `json:"on_fail,omitempty"`
	DependsOn      []string       `json:"depends_on,omitempty"`
}

// ExecutionPlan is immutable once created within a run. Step IDs are unique
// and every DependsOn names an earlier step.
type ExecutionPlan struct {
	Goal            string          `json:"goal"`
	ExpectedOutputs []OutputKind    `json:"expected_outputs"`
	Steps           []*PlanStep     `json:"steps"`
	Constraints     TaskConstraints `json:"constraints"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Step returns the plan step with the given id, or nil.
func (p *ExecutionPlan) Step(id string) *PlanStep {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// TaskConstraints are the budget and permission ceilings for a single run.
type TaskConstraints struct {
	MaxSteps      int  `json:"max_steps"`
	MaxSeconds    int  `json:"max_seconds"`
	AllowTerminal bool `json:"allow_terminal"`
	AllowBrowser  bool `json:"allow_browser"`
	AllowWeb      bool `json:"allow_web"`
}

// DefaultConstraints returns the fixed defaults callers merge over.
func DefaultConstraints() TaskConstraints {
	return TaskConstraints{
		MaxSteps:      12,
		MaxSeconds:    600,
		AllowTerminal: true,
		AllowBrowser:  true,
		AllowWeb:      false,
	}
}

// Artifact is a file produced by a step. A record is only created after the
// file was confirmed to exist on disk with non-zero size.
type Artifact struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	StepID string `json:"step_id"`
}

// ToolResult is the uniform envelope every adapter returns.
type ToolResult struct {
	Success    bool           `json:"success"`
	Output     any            `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Artifacts  []Artifact     `json:"artifacts,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

type StepStatus string

const (
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
)

// RetryTrigger records which layer asked for a step's second attempt.
type RetryTrigger string

const (
	RetryByTool   RetryTrigger = "tool"
	RetryByCritic RetryTrigger = "critic"
)

// StepResult is created once per step attempt and immutable after being
// written into the execution context.
type StepResult struct {
	StepID      string       `json:"step_id"`
	Status      StepStatus   `json:"status"`
	Result      *ToolResult  `json:"result,omitempty"`
	Retries     int          `json:"retries"`
	Attempt     int          `json:"attempt"`
	TriggeredBy RetryTrigger `json:"triggered_by,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	EndedAt     time.Time    `json:"ended_at"`
}

// ExecutionContext is the per-run mutable state owned by the orchestrator and
// written only by the executor. Steps run strictly sequentially, so no
// locking is needed by construction.
type ExecutionContext struct {
	TaskID          string
	Workspace       string
	Goal            string
	Constraints     TaskConstraints
	PreviousOutputs map[string]any
	StepResults     map[string]*StepResult
	StepCount       int
	StartedAt       time.Time
}

func NewExecutionContext(taskID, workspace, goal string, c TaskConstraints) *ExecutionContext {
	return &ExecutionContext{
		TaskID:          taskID,
		Workspace:       workspace,
		Goal:            goal,
		Constraints:     c,
		PreviousOutputs: map[string]any{},
		StepResults:     map[string]*StepResult{},
		StartedAt:       time.Now(),
	}
}

// Elapsed reports wall-clock time since the run started.
func (c *ExecutionContext) Elapsed() time.Duration {
	return time.Since(c.StartedAt)
}

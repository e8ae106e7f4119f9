// Package planner turns a goal into an ExecutionPlan. Unambiguous pure-image
// goals get a fixed two-step plan with no generative call; everything else is
// planned by the LLM provider and then validated and repaired, never trusted
// verbatim.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/example/taskforge/internal/intent"
	"github.com/example/taskforge/internal/models"
	"github.com/example/taskforge/internal/providers/llm"
)

type Planner struct {
	Client llm.Client
}

func New(client llm.Client) *Planner {
	return &Planner{Client: client}
}

// CreatePlan builds the plan for one task. constraints may be nil, in which
// case the fixed defaults apply.
func (p *Planner) CreatePlan(ctx context.Context, taskID, goal string, taskCtx map[string]any, declared models.TaskType, constraints *models.TaskConstraints) (*models.ExecutionPlan, error) {
	resolved := models.DefaultConstraints()
	if constraints != nil {
		resolved = *constraints
	}

	cls := intent.Classify(goal)
	if cls.ExpectedOutput == intent.ExpectImage {
		return p.imagePlan(goal, resolved), nil
	}

	inferred := intent.InferOutputs(goal)
	raw, declaredOutputs := p.generateSteps(ctx, goal, taskCtx, inferred, resolved)
	steps := repairSteps(raw, resolved)
	steps = truncateSteps(steps, resolved.MaxSteps)

	outputs := unionOutputs(inferred, declaredOutputs)
	steps = ensureVerify(steps, outputs, resolved.MaxSteps)
	defaultDependencies(steps)

	return &models.ExecutionPlan{
		Goal:            goal,
		ExpectedOutputs: outputs,
		Steps:           steps,
		Constraints:     resolved,
		CreatedAt:       time.Now(),
	}, nil
}

// imagePlan is the non-generative fast path: one IMAGE_GEN step with the
// verbatim goal as prompt, then a VERIFY step depending on it. Pure-image
// goals are unambiguous, so a planning call would only add latency and
// failure surface.
func (p *Planner) imagePlan(goal string, c models.TaskConstraints) *models.ExecutionPlan {
	w, h := Dimensions(goal)
	return &models.ExecutionPlan{
		Goal:            goal,
		ExpectedOutputs: []models.OutputKind{models.OutImage},
		Steps: []*models.PlanStep{
			{
				ID:          "s1",
				Type:        models.StepImageGen,
				Tool:        models.ToolImage,
				Description: "Generate the requested image",
				Input:       map[string]any{"prompt": goal, "width": w, "height": h},
				OnFail:      &models.OnFail{Retry: 1},
			},
			{
				ID:          "s2",
				Type:        models.StepVerify,
				Tool:        models.ToolNone,
				Description: "Verify an image artifact exists",
				Input:       map[string]any{"expectedOutputs": []any{string(models.OutImage)}},
				DependsOn:   []string{"s1"},
			},
		},
		Constraints: c,
		CreatedAt:   time.Now(),
	}
}

var ratioRe = regexp.MustCompile(`(\d+):(\d+)`)

var ratioDims = map[string][2]int{
	"16:9": {1920, 1080},
	"9:16": {1080, 1920},
	"1:1":  {1024, 1024},
	"4:3":  {1600, 1200},
	"3:4":  {1200, 1600},
	"21:9": {2560, 1080},
	"3:2":  {1920, 1280},
	"2:3":  {1280, 1920},
}

// Dimensions derives image width/height from any aspect-ratio token in the
// goal. Unknown ratios get width 1920 with proportional height. Without a
// ratio the default is 1024x1024, bumped to 1920x1080 when the goal asks for
// high resolution.
func Dimensions(goal string) (int, int) {
	m := ratioRe.FindStringSubmatch(goal)
	if m == nil {
		g := strings.ToLower(goal)
		if strings.Contains(g, "high-resolution") || strings.Contains(g, "high resolution") || strings.Contains(g, "4k") {
			return 1920, 1080
		}
		return 1024, 1024
	}
	if d, ok := ratioDims[m[0]]; ok {
		return d[0], d[1]
	}
	var a, b int
	fmt.Sscanf(m[0], "%d:%d", &a, &b)
	if a <= 0 || b <= 0 {
		return 1024, 1024
	}
	return 1920, 1920 * b / a
}

type rawStep struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Tool           string         `json:"tool"`
	Description    string         `json:"description"`
	Input          map[string]any `json:"input"`
	Inputs         map[string]any `json:"inputs"`
	ExpectedOutput string         `json:"expected_output"`
	Acceptance     []string       `json:"acceptance_criteria"`
	OnFail         *models.OnFail `json:"on_fail"`
	DependsOn      []string       `json:"depends_on"`
	Deps           []string       `json:"deps"`
}

// generateSteps asks the provider for a JSON step list. Any failure (call
// error, empty response, unparseable JSON) degrades to a conservative
// single-step plan rather than failing the task.
func (p *Planner) generateSteps(ctx context.Context, goal string, taskCtx map[string]any, inferred []models.OutputKind, c models.TaskConstraints) ([]rawStep, []models.OutputKind) {
	raw, err := p.Client.Generate(ctx, "", buildPlanPrompt(goal, taskCtx, inferred, c))
	if err != nil || strings.TrimSpace(raw) == "" {
		return fallbackSteps(goal, inferred), nil
	}

	text := normalizeJSONText(raw)
	var steps []rawStep
	var declared []models.OutputKind
	if err := json.Unmarshal([]byte(text), &steps); err != nil {
		var wrapper struct {
			Steps           []rawStep `json:"steps"`
			ExpectedOutputs []string  `json:"expected_outputs"`
		}
		if err := json.Unmarshal([]byte(text), &wrapper); err == nil && len(wrapper.Steps) > 0 {
			steps = wrapper.Steps
			for _, o := range wrapper.ExpectedOutputs {
				if k, ok := parseOutputKind(o); ok {
					declared = append(declared, k)
				}
			}
		}
		if len(steps) == 0 {
			if arr := extractJSONArray(text); arr != "" {
				_ = json.Unmarshal([]byte(arr), &steps)
			}
		}
	}
	if len(steps) == 0 {
		return fallbackSteps(goal, inferred), nil
	}
	return steps, declared
}

func fallbackSteps(goal string, inferred []models.OutputKind) []rawStep {
	return []rawStep{{
		ID:          "s1",
		Type:        string(models.StepCodeGen),
		Tool:        string(models.ToolLLM),
		Description: "Work on the goal directly",
		Input:       map[string]any{"prompt": goal},
	}}
}

func buildPlanPrompt(goal string, taskCtx map[string]any, inferred []models.OutputKind, c models.TaskConstraints) string {
	outs := make([]string, len(inferred))
	for i, o := range inferred {
		outs[i] = string(o)
	}
	tools := "LLM, IMAGE, FS, NONE"
	if c.AllowTerminal {
		tools += ", TERMINAL"
	}
	if c.AllowBrowser {
		tools += ", BROWSER"
	}
	return fmt.Sprintf(`You are a planning agent for a constrained tool runner.
Output ONLY a JSON array of step objects, no prose, no code fences.

Step types: PLAN, WEB_RESEARCH, IMAGE_GEN, CODE_GEN, TERMINAL_RUN, BROWSER_CHECK, FS_WRITE, FS_READ, VERIFY.
Tools you may use: %s.

Rules:
- Produce at most %d ordered steps.
- IMAGE_GEN must use tool IMAGE; TERMINAL_RUN must use TERMINAL; VERIFY must use NONE.
- Use "depends_on" to express order (e.g. s2 depends on s1).
- To pass a previous step's output into a later step, set a string input field to the exact template: $step[ID].output
- Generated files must be written under outputs/ (code under outputs/code/).
- End with a VERIFY step whose input lists "expectedOutputs": %s.

Schema per step: {"id": "sN", "type": "...", "tool": "...", "description": "...", "input": { ... }, "depends_on": ["sK"], "on_fail": {"retry": 0|1}}

Goal: %s
Expected outputs: %s
Context: %v`, tools, c.MaxSteps, jsonList(outs), goal, strings.Join(outs, ", "), taskCtx)
}

func jsonList(items []string) string {
	b, _ := json.Marshal(items)
	return string(b)
}

func unionOutputs(inferred, declared []models.OutputKind) []models.OutputKind {
	seen := map[models.OutputKind]bool{}
	var out []models.OutputKind
	for _, k := range append(append([]models.OutputKind{}, inferred...), declared...) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func parseOutputKind(s string) (models.OutputKind, bool) {
	switch models.OutputKind(strings.ToLower(strings.TrimSpace(s))) {
	case models.OutCode:
		return models.OutCode, true
	case models.OutImage:
		return models.OutImage, true
	case models.OutText:
		return models.OutText, true
	case models.OutFiles:
		return models.OutFiles, true
	case models.OutWebResult:
		return models.OutWebResult, true
	case models.OutBrowserCheck:
		return models.OutBrowserCheck, true
	case models.OutTerminal:
		return models.OutTerminal, true
	}
	return "", false
}

func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(s); i++ {
		if s[i] == '[' {
			depth++
		}
		if s[i] == ']' {
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func normalizeJSONText(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```")
		if idx := strings.IndexByte(t, '\n'); idx != -1 {
			t = t[idx+1:]
		}
		if j := strings.LastIndex(t, "```"); j != -1 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}
	if !strings.HasPrefix(t, "[") && !strings.HasPrefix(t, "{") {
		if arr := extractJSONArray(t); arr != "" {
			return arr
		}
	}
	return t
}

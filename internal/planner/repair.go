package planner

import (
	"fmt"
	"strings"

	"github.com/example/taskforge/internal/models"
)

var typeToTool = map[models.StepType]models.Tool{
	models.StepPlan:         models.ToolLLM,
	models.StepWebResearch:  models.ToolLLM,
	models.StepImageGen:     models.ToolImage,
	models.StepCodeGen:      models.ToolLLM,
	models.StepTerminalRun:  models.ToolTerminal,
	models.StepBrowserCheck: models.ToolBrowser,
	models.StepFSWrite:      models.ToolFS,
	models.StepFSRead:       models.ToolFS,
	models.StepVerify:       models.ToolNone,
}

var toolToType = map[models.Tool]models.StepType{
	models.ToolLLM:      models.StepCodeGen,
	models.ToolImage:    models.StepImageGen,
	models.ToolTerminal: models.StepTerminalRun,
	models.ToolBrowser:  models.StepBrowserCheck,
	models.ToolFS:       models.StepFSWrite,
	models.ToolNone:     models.StepVerify,
}

// repairSteps converts the raw generative output into structurally valid plan
// steps. Malformed fields are corrected, never rejected: the planner must
// always hand the orchestrator a plan it is allowed to run.
func repairSteps(raw []rawStep, c models.TaskConstraints) []*models.PlanStep {
	steps := make([]*models.PlanStep, 0, len(raw))
	seen := map[string]bool{}

	for i, r := range raw {
		s := &models.PlanStep{
			ID:             strings.TrimSpace(r.ID),
			Description:    r.Description,
			ExpectedOutput: r.ExpectedOutput,
			AcceptanceCrit: r.Acceptance,
			OnFail:         r.OnFail,
		}
		for n := i + 1; s.ID == "" || seen[s.ID]; n++ {
			s.ID = fmt.Sprintf("s%d", n)
		}
		seen[s.ID] = true

		s.Input = r.Input
		if s.Input == nil {
			s.Input = r.Inputs
		}
		if s.Input == nil {
			s.Input = map[string]any{}
		}

		s.Type = parseStepType(r.Type)
		s.Tool = parseTool(r.Tool)
		switch {
		case s.Type == "" && s.Tool == "":
			s.Type = models.StepCodeGen
			s.Tool = models.ToolLLM
		case s.Type == "":
			s.Type = toolToType[s.Tool]
		case s.Tool == "":
			s.Tool = typeToTool[s.Type]
		}
		// Type wins over whatever tool the model claimed. IMAGE_GEN with
		// tool LLM would otherwise plan a step the executor cannot satisfy.
		if want := typeToTool[s.Type]; s.Tool != want {
			s.Tool = want
		}

		// The plan must never contain a step the executor is forbidden to
		// run: disallowed tools degrade to a no-op verification step.
		if (s.Tool == models.ToolTerminal && !c.AllowTerminal) ||
			(s.Tool == models.ToolBrowser && !c.AllowBrowser) {
			s.Type = models.StepVerify
			s.Tool = models.ToolNone
			s.Description = "Skipped: tool not permitted by constraints"
			s.Input = map[string]any{}
		}

		deps := r.DependsOn
		if deps == nil {
			deps = r.Deps
		}
		// keep only backward references to known steps
		for _, d := range deps {
			d = strings.TrimSpace(d)
			if d != "" && d != s.ID && seen[d] {
				s.DependsOn = append(s.DependsOn, d)
			}
		}

		steps = append(steps, s)
	}
	return steps
}

func truncateSteps(steps []*models.PlanStep, maxSteps int) []*models.PlanStep {
	if maxSteps > 0 && len(steps) > maxSteps {
		return steps[:maxSteps]
	}
	return steps
}

// ensureVerify guarantees the plan ends with a VERIFY step requiring every
// expected output category. At the step cap, the last step is replaced.
func ensureVerify(steps []*models.PlanStep, outputs []models.OutputKind, maxSteps int) []*models.PlanStep {
	if n := len(steps); n > 0 && steps[n-1].Type == models.StepVerify {
		return steps
	}
	outs := make([]any, len(outputs))
	for i, o := range outputs {
		outs[i] = string(o)
	}
	taken := map[string]bool{}
	for _, s := range steps {
		taken[s.ID] = true
	}
	id := fmt.Sprintf("s%d", len(steps)+1)
	for n := len(steps) + 2; taken[id]; n++ {
		id = fmt.Sprintf("s%d", n)
	}
	verify := &models.PlanStep{
		ID:          id,
		Type:        models.StepVerify,
		Tool:        models.ToolNone,
		Description: "Verify all expected outputs exist",
		Input:       map[string]any{"expectedOutputs": outs},
	}
	if maxSteps > 0 && len(steps) >= maxSteps {
		verify.ID = steps[len(steps)-1].ID
		steps[len(steps)-1] = verify
		return steps
	}
	return append(steps, verify)
}

// defaultDependencies chains each step without explicit dependencies to the
// immediately preceding step.
func defaultDependencies(steps []*models.PlanStep) {
	for i, s := range steps {
		if i > 0 && len(s.DependsOn) == 0 {
			s.DependsOn = []string{steps[i-1].ID}
		}
	}
}

func parseStepType(s string) models.StepType {
	switch models.StepType(strings.ToUpper(strings.TrimSpace(s))) {
	case models.StepPlan:
		return models.StepPlan
	case models.StepWebResearch:
		return models.StepWebResearch
	case models.StepImageGen:
		return models.StepImageGen
	case models.StepCodeGen:
		return models.StepCodeGen
	case models.StepTerminalRun:
		return models.StepTerminalRun
	case models.StepBrowserCheck:
		return models.StepBrowserCheck
	case models.StepFSWrite:
		return models.StepFSWrite
	case models.StepFSRead:
		return models.StepFSRead
	case models.StepVerify:
		return models.StepVerify
	}
	return ""
}

func parseTool(s string) models.Tool {
	switch models.Tool(strings.ToUpper(strings.TrimSpace(s))) {
	case models.ToolLLM:
		return models.ToolLLM
	case models.ToolImage:
		return models.ToolImage
	case models.ToolFS:
		return models.ToolFS
	case models.ToolTerminal:
		return models.ToolTerminal
	case models.ToolBrowser:
		return models.ToolBrowser
	case models.ToolNone:
		return models.ToolNone
	}
	return ""
}

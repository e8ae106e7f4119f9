package main

import (
	"fmt"
	"time"

	"github.com/docker/docker/client"

	"github.com/example/taskforge/internal/config"
	"github.com/example/taskforge/internal/critic"
	"github.com/example/taskforge/internal/executor"
	"github.com/example/taskforge/internal/guardrails"
	"github.com/example/taskforge/internal/orchestrator"
	"github.com/example/taskforge/internal/planner"
	"github.com/example/taskforge/internal/providers/llm"
	"github.com/example/taskforge/internal/store"
	"github.com/example/taskforge/internal/tooling"
)

// runtime bundles the wired components a command needs. Close releases the
// store; the docker client is left to the process exit.
type runtime struct {
	cfg   *config.Config
	store store.Store
	orch  *orchestrator.Orchestrator
}

func (r *runtime) Close() {
	if r.store != nil {
		r.store.Close()
	}
}

func buildRuntime() (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	llmClient := llm.NewFromEnv()

	registry := tooling.NewRegistry()
	registry.Register(&tooling.LLMAdapter{Client: llmClient})
	registry.Register(&tooling.FSAdapter{})
	registry.Register(&tooling.ImageAdapter{
		PythonBin: cfg.Image.PythonBin,
		Script:    cfg.Image.Script,
		ModelPath: cfg.Image.ModelPath,
	})
	registry.Register(&tooling.BrowserAdapter{Timeout: 45 * time.Second})

	if docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation()); err == nil {
		registry.Register(&tooling.TerminalAdapter{
			Client:  docker,
			Image:   cfg.Terminal.ContainerImage,
			Network: cfg.Terminal.Network,
		})
	}

	guard := guardrails.NewGuard(
		guardrails.NewSeededLedger(cfg.Guard.InitialCredits),
		guardrails.NewMemoryLedger(),
		cfg.Guard.MaxActiveTasks,
		cfg.Guard.StepCost,
	)

	orch := orchestrator.New(
		st,
		planner.New(llmClient),
		executor.New(registry, st),
		critic.New(llmClient),
		guard,
		cfg.WorkspaceRoot,
	)

	return &runtime{cfg: cfg, store: st, orch: orch}, nil
}

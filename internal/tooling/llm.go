package tooling

import (
	"context"
	"fmt"
	"time"

	"github.com/example/taskforge/internal/models"
	"github.com/example/taskforge/internal/providers/llm"
)

// LLMAdapter runs text-generation steps against the configured provider.
type LLMAdapter struct {
	Client  llm.Client
	Timeout time.Duration
}

func (a *LLMAdapter) Name() models.Tool { return models.ToolLLM }

func (a *LLMAdapter) Execute(ctx context.Context, in Input) (*models.ToolResult, error) {
	prompt := in.String("prompt")
	if prompt == "" {
		prompt = in.String("text")
	}
	if prompt == "" {
		return failure(fmt.Errorf("missing prompt"), 0), nil
	}
	system := in.String("system_prompt")

	timeout := a.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	text, err := a.Client.Generate(ctx, system, prompt)
	dur := time.Since(start).Milliseconds()
	if err != nil {
		return failure(err, dur), nil
	}
	return &models.ToolResult{Success: true, Output: text, DurationMs: dur}, nil
}

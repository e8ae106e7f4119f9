// Package tooling wraps each external capability (text generation, image
// generation, sandboxed shell, headless browser, filesystem) behind a uniform
// adapter contract. The executor only ever sees the ToolResult envelope.
package tooling

import (
	"context"
	"strconv"

	"github.com/example/taskforge/internal/models"
)

// Input is what the executor hands an adapter for one step.
type Input struct {
	StepID    string
	Workspace string
	Fields    map[string]any
}

func (in Input) String(key string) string {
	v, _ := in.Fields[key].(string)
	return v
}

func (in Input) Int(key string, def int) int {
	switch t := in.Fields[key].(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

// Adapter is the uniform tool contract.
type Adapter interface {
	Name() models.Tool
	Execute(ctx context.Context, in Input) (*models.ToolResult, error)
}

// Registry maps a tool name to its adapter.
type Registry struct {
	adapters map[models.Tool]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[models.Tool]Adapter{}}
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name models.Tool) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

func failure(err error, durationMs int64) *models.ToolResult {
	return &models.ToolResult{Success: false, Error: err.Error(), DurationMs: durationMs}
}

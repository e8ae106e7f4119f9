package tooling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/example/taskforge/internal/models"
	"github.com/example/taskforge/internal/workspace"
)

// ImageAdapter shells out to the SD3 generation script. The script prints a
// single JSON metadata line on stdout and its progress on stderr; the long
// default timeout accounts for local-model latency.
type ImageAdapter struct {
	PythonBin string
	Script    string
	ModelPath string
	Timeout   time.Duration
}

type imageMeta struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Steps   int    `json:"steps"`
}

func (a *ImageAdapter) Name() models.Tool { return models.ToolImage }

func (a *ImageAdapter) Execute(ctx context.Context, in Input) (*models.ToolResult, error) {
	prompt := in.String("prompt")
	if prompt == "" {
		return failure(fmt.Errorf("missing prompt"), 0), nil
	}

	outDir := filepath.Join(in.Workspace, workspace.ImagesDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return failure(err, 0), nil
	}
	outPath := filepath.Join(outDir, fmt.Sprintf("img_%s_%s.png", in.StepID, time.Now().Format("20060102T150405")))

	timeout := a.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		a.Script,
		"--prompt", prompt,
		"--output", outPath,
		"--model", a.ModelPath,
	}
	if w := in.Int("width", 0); w > 0 {
		args = append(args, "--width", strconv.Itoa(w))
	}
	if h := in.Int("height", 0); h > 0 {
		args = append(args, "--height", strconv.Itoa(h))
	}
	if neg := in.String("negative"); neg != "" {
		args = append(args, "--negative", neg)
	}

	bin := a.PythonBin
	if bin == "" {
		bin = "python3"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	dur := time.Since(start).Milliseconds()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return failure(fmt.Errorf("image generation: %s", msg), dur), nil
	}

	var meta imageMeta
	// the metadata line is the last non-empty stdout line
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) > 0 {
		_ = json.Unmarshal([]byte(lines[len(lines)-1]), &meta)
	}
	if meta.Path == "" {
		meta.Path = outPath
	}

	info, statErr := os.Stat(meta.Path)
	res := &models.ToolResult{
		Success:    true,
		Output:     map[string]any{"path": meta.Path, "width": meta.Width, "height": meta.Height},
		DurationMs: dur,
		Meta:       map[string]any{"steps": meta.Steps},
	}
	if statErr == nil && info.Size() > 0 {
		res.Artifacts = []models.Artifact{{
			Name:   filepath.Base(meta.Path),
			Type:   "image/png",
			Path:   meta.Path,
			Size:   info.Size(),
			StepID: in.StepID,
		}}
	}
	return res, nil
}

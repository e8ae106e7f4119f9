package tooling

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/example/taskforge/internal/models"
	"github.com/example/taskforge/internal/workspace"
)

const containerWorkdir = "/workspace"

// TerminalAdapter runs shell commands in a throwaway docker container with
// the task workspace bind-mounted. The container has no access to the host
// beyond that mount; a transcript is written under logs/terminal regardless
// of exit code.
type TerminalAdapter struct {
	Client  *client.Client
	Image   string
	Network string
	Timeout time.Duration
}

func (a *TerminalAdapter) Name() models.Tool { return models.ToolTerminal }

func (a *TerminalAdapter) Execute(ctx context.Context, in Input) (*models.ToolResult, error) {
	command := in.String("command")
	if command == "" {
		return failure(fmt.Errorf("missing command"), 0), nil
	}
	cwd := containerWorkdir
	if rel := in.String("cwd"); rel != "" {
		if _, err := workspace.Resolve(in.Workspace, rel); err != nil {
			return failure(err, 0), nil
		}
		cwd = filepath.Join(containerWorkdir, rel)
	}

	timeout := a.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := a.runInContainer(ctx, command, cwd, in.Workspace)
	dur := time.Since(start).Milliseconds()

	transcript := a.writeTranscript(in, command, stdout, stderr, exitCode)
	if err != nil {
		return failure(fmt.Errorf("terminal: %w", err), dur), nil
	}

	res := &models.ToolResult{
		Success:    exitCode == 0,
		Output:     map[string]any{"stdout": stdout, "stderr": stderr, "exit_code": exitCode},
		DurationMs: dur,
		Meta:       map[string]any{"exit_code": exitCode},
	}
	if exitCode != 0 {
		res.Error = fmt.Sprintf("command exited with code %d", exitCode)
	}
	if transcript != "" {
		if info, statErr := os.Stat(transcript); statErr == nil && info.Size() > 0 {
			res.Artifacts = []models.Artifact{{
				Name:   filepath.Base(transcript),
				Type:   "text/plain",
				Path:   transcript,
				Size:   info.Size(),
				StepID: in.StepID,
			}}
		}
	}
	return res, nil
}

func (a *TerminalAdapter) runInContainer(ctx context.Context, command, cwd, ws string) (string, string, int, error) {
	image := a.Image
	if image == "" {
		image = "alpine:3.20"
	}

	cfg := &container.Config{
		Image:      image,
		Cmd:        []string{"sh", "-c", command},
		WorkingDir: cwd,
	}
	hostCfg := &container.HostConfig{
		Binds:      []string{ws + ":" + containerWorkdir},
		AutoRemove: false,
	}
	if a.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(a.Network)
	}

	created, err := a.Client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", "", -1, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		_ = a.Client.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
	}()

	if err := a.Client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", "", -1, fmt.Errorf("start container: %w", err)
	}

	waitCh, errCh := a.Client.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case res := <-waitCh:
		exitCode = int(res.StatusCode)
	case err := <-errCh:
		return "", "", -1, fmt.Errorf("wait: %w", err)
	case <-ctx.Done():
		return "", "", -1, ctx.Err()
	}

	logs, err := a.Client.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", exitCode, fmt.Errorf("logs: %w", err)
	}
	defer logs.Close()
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", "", exitCode, fmt.Errorf("demux logs: %w", err)
	}
	return stdout.String(), stderr.String(), exitCode, nil
}

func (a *TerminalAdapter) writeTranscript(in Input, command, stdout, stderr string, exitCode int) string {
	dir := filepath.Join(in.Workspace, workspace.TerminalLogDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	path := filepath.Join(dir, fmt.Sprintf("term_%s_%s.log", in.StepID, time.Now().Format("20060102T150405")))
	body := fmt.Sprintf("$ %s\nexit: %d\n--- stdout ---\n%s\n--- stderr ---\n%s\n", command, exitCode, stdout, stderr)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return ""
	}
	return path
}

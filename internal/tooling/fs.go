package tooling

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	pdfx "github.com/ledongthuc/pdf"

	"github.com/example/taskforge/internal/models"
	"github.com/example/taskforge/internal/workspace"
)

// FSAdapter performs file operations confined to the task workspace.
// Supported ops: write, read, list. Reading a .pdf extracts its plain text.
type FSAdapter struct{}

func (a *FSAdapter) Name() models.Tool { return models.ToolFS }

func (a *FSAdapter) Execute(ctx context.Context, in Input) (*models.ToolResult, error) {
	op := strings.ToLower(in.String("op"))
	if op == "" {
		// FS_WRITE steps commonly omit it
		if in.String("content") != "" {
			op = "write"
		} else {
			op = "read"
		}
	}

	start := time.Now()
	var (
		res *models.ToolResult
		err error
	)
	switch op {
	case "write":
		res, err = a.write(in)
	case "read":
		res, err = a.read(in)
	case "list":
		res, err = a.list(in)
	default:
		err = fmt.Errorf("unknown fs op %q", op)
	}
	dur := time.Since(start).Milliseconds()
	if err != nil {
		return failure(err, dur), nil
	}
	res.DurationMs = dur
	return res, nil
}

func (a *FSAdapter) write(in Input) (*models.ToolResult, error) {
	rel := in.String("path")
	if rel == "" {
		return nil, fmt.Errorf("missing path")
	}
	abs, err := workspace.Resolve(in.Workspace, rel)
	if err != nil {
		return nil, err
	}
	content := in.String("content")
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, err
	}
	res := &models.ToolResult{Success: true, Output: map[string]any{"path": abs, "bytes": len(content)}}
	if info, statErr := os.Stat(abs); statErr == nil && info.Size() > 0 {
		res.Artifacts = []models.Artifact{{
			Name:   filepath.Base(abs),
			Type:   contentType(abs),
			Path:   abs,
			Size:   info.Size(),
			StepID: in.StepID,
		}}
	}
	return res, nil
}

func (a *FSAdapter) read(in Input) (*models.ToolResult, error) {
	rel := in.String("path")
	if rel == "" {
		return nil, fmt.Errorf("missing path")
	}
	abs, err := workspace.Resolve(in.Workspace, rel)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(abs), ".pdf") {
		text, err := extractPDF(abs)
		if err != nil {
			return nil, err
		}
		return &models.ToolResult{Success: true, Output: text}, nil
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	return &models.ToolResult{Success: true, Output: string(b)}, nil
}

func (a *FSAdapter) list(in Input) (*models.ToolResult, error) {
	rel := in.String("path")
	abs, err := workspace.Resolve(in.Workspace, rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return &models.ToolResult{Success: true, Output: names}, nil
}

func extractPDF(path string) (string, error) {
	f, r, err := pdfx.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	var out strings.Builder
	for page := 1; page <= r.NumPage(); page++ {
		p := r.Page(page)
		txt, _ := p.GetPlainText(nil)
		if t := strings.TrimSpace(txt); t != "" {
			out.WriteString(t)
			out.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(out.String()), nil
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html":
		return "text/html"
	case ".css":
		return "text/css"
	case ".js", ".jsx", ".ts", ".tsx":
		return "text/javascript"
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown"
	case ".png":
		return "image/png"
	default:
		return "text/plain"
	}
}

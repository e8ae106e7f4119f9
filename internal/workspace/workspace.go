// Package workspace owns the on-disk layout of a task workspace. The layout
// is part of the verification contract: artifact-category checks in both the
// executor and the critic resolve through the same paths defined here.
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/taskforge/internal/models"
)

const (
	ImagesDir      = "outputs/images"
	CodeDir        = "outputs/code"
	BrowserDir     = "outputs/browser"
	OutputsDir     = "outputs"
	TerminalLogDir = "logs/terminal"
	BrowserLogDir  = "logs/browser"
	LogsDir        = "logs"
	PlanFile       = "plan.json"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true,
}

var sourceExts = map[string]bool{
	".go": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".py": true, ".html": true, ".css": true, ".json": true, ".md": true,
	".sh": true, ".sql": true, ".yaml": true, ".yml": true, ".txt": true,
}

// Init creates the full directory tree under root.
func Init(root string) error {
	for _, d := range []string{ImagesDir, CodeDir, BrowserDir, TerminalLogDir, BrowserLogDir} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return fmt.Errorf("init workspace %s: %w", d, err)
		}
	}
	return nil
}

// Resolve joins rel onto root and rejects any path escaping the workspace.
func Resolve(root, rel string) (string, error) {
	abs := filepath.Clean(filepath.Join(root, rel))
	rootAbs := filepath.Clean(root)
	if abs != rootAbs && !strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace", rel)
	}
	return abs, nil
}

// Missing reports which of the given artifact categories have no matching
// file under root. Text and web results are soft categories and always pass.
func Missing(root string, kinds []models.OutputKind) []models.OutputKind {
	var missing []models.OutputKind
	for _, k := range kinds {
		if !Present(root, k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// Present reports whether at least one artifact of the given category exists.
func Present(root string, kind models.OutputKind) bool {
	switch kind {
	case models.OutImage:
		return anyFile(filepath.Join(root, ImagesDir), func(name string) bool {
			return imageExts[strings.ToLower(filepath.Ext(name))]
		})
	case models.OutCode, models.OutFiles:
		return anyFile(filepath.Join(root, OutputsDir), func(name string) bool {
			return sourceExts[strings.ToLower(filepath.Ext(name))]
		})
	case models.OutBrowserCheck:
		return anyFile(filepath.Join(root, BrowserDir), func(name string) bool {
			return strings.EqualFold(filepath.Ext(name), ".png")
		})
	case models.OutTerminal:
		return anyFile(filepath.Join(root, TerminalLogDir), func(string) bool { return true })
	default:
		// text and web_result leave nothing on disk by contract
		return true
	}
}

func anyFile(dir string, match func(name string) bool) bool {
	found := false
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() == 0 {
			return nil
		}
		if match(d.Name()) {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

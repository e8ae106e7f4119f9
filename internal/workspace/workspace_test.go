package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/taskforge/internal/models"
)

func TestInitCreatesLayout(t *testing.T) {
	root := t.TempDir()
	if err := Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, d := range []string{ImagesDir, CodeDir, BrowserDir, TerminalLogDir, BrowserLogDir} {
		info, err := os.Stat(filepath.Join(root, d))
		if err != nil || !info.IsDir() {
			t.Errorf("missing directory %s: %v", d, err)
		}
	}
}

func TestResolveConfinement(t *testing.T) {
	root := t.TempDir()

	if _, err := Resolve(root, "outputs/code/main.go"); err != nil {
		t.Errorf("legitimate path rejected: %v", err)
	}
	if _, err := Resolve(root, "../outside.txt"); err == nil {
		t.Errorf("parent escape must be rejected")
	}
	if _, err := Resolve(root, "a/../../b"); err == nil {
		t.Errorf("nested escape must be rejected")
	}
	if _, err := Resolve(root, "."); err != nil {
		t.Errorf("workspace root itself is valid: %v", err)
	}
}

func TestPresentImage(t *testing.T) {
	root := t.TempDir()
	if err := Init(root); err != nil {
		t.Fatal(err)
	}
	if Present(root, models.OutImage) {
		t.Fatalf("empty workspace should have no image")
	}

	// zero-byte files never count
	empty := filepath.Join(root, ImagesDir, "empty.png")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if Present(root, models.OutImage) {
		t.Fatalf("zero-byte image must not count")
	}

	real := filepath.Join(root, ImagesDir, "real.webp")
	if err := os.WriteFile(real, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !Present(root, models.OutImage) {
		t.Fatalf("webp image should count")
	}
}

func TestPresentCodeAnywhereUnderOutputs(t *testing.T) {
	root := t.TempDir()
	if err := Init(root); err != nil {
		t.Fatal(err)
	}
	if Present(root, models.OutCode) {
		t.Fatalf("no code yet")
	}
	path := filepath.Join(root, OutputsDir, "sub", "page.html")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("<html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !Present(root, models.OutCode) {
		t.Fatalf("source file under outputs/ should count")
	}
	if !Present(root, models.OutFiles) {
		t.Fatalf("files category shares the code check")
	}
}

func TestPresentBrowserRequiresPNG(t *testing.T) {
	root := t.TempDir()
	if err := Init(root); err != nil {
		t.Fatal(err)
	}
	jpg := filepath.Join(root, BrowserDir, "shot.jpg")
	if err := os.WriteFile(jpg, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if Present(root, models.OutBrowserCheck) {
		t.Fatalf("browser check requires a png")
	}
	png := filepath.Join(root, BrowserDir, "shot.PNG")
	if err := os.WriteFile(png, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !Present(root, models.OutBrowserCheck) {
		t.Fatalf("png screenshot should count regardless of case")
	}
}

func TestPresentTerminalAnyFile(t *testing.T) {
	root := t.TempDir()
	if err := Init(root); err != nil {
		t.Fatal(err)
	}
	if Present(root, models.OutTerminal) {
		t.Fatalf("no transcript yet")
	}
	path := filepath.Join(root, TerminalLogDir, "term_s1.log")
	if err := os.WriteFile(path, []byte("$ ls"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !Present(root, models.OutTerminal) {
		t.Fatalf("transcript should count")
	}
}

func TestSoftCategoriesAlwaysPresent(t *testing.T) {
	root := t.TempDir()
	if !Present(root, models.OutText) || !Present(root, models.OutWebResult) {
		t.Fatalf("text and web_result never gate on disk state")
	}
}

func TestMissing(t *testing.T) {
	root := t.TempDir()
	if err := Init(root); err != nil {
		t.Fatal(err)
	}
	kinds := []models.OutputKind{models.OutImage, models.OutText}
	missing := Missing(root, kinds)
	if len(missing) != 1 || missing[0] != models.OutImage {
		t.Fatalf("got %v", missing)
	}
}

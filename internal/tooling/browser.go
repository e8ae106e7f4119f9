package tooling

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/net/html"

	"github.com/example/taskforge/internal/models"
	"github.com/example/taskforge/internal/workspace"
)

// BrowserAdapter drives a headless browser: navigate, wait, full-page
// screenshot under outputs/browser, plus plain-text extraction of the page
// body for downstream LLM steps.
type BrowserAdapter struct {
	Timeout time.Duration
}

func (a *BrowserAdapter) Name() models.Tool { return models.ToolBrowser }

func (a *BrowserAdapter) Execute(ctx context.Context, in Input) (*models.ToolResult, error) {
	url := in.String("url")
	if url == "" {
		return failure(fmt.Errorf("missing url"), 0), nil
	}

	timeout := a.Timeout
	if timeout == 0 {
		timeout = 45 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	dir := filepath.Join(in.Workspace, workspace.BrowserDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return failure(err, 0), nil
	}
	shotPath := filepath.Join(dir, fmt.Sprintf("shot_%s_%s.png", in.StepID, time.Now().Format("20060102T150405")))

	var title, outerHTML string
	var shot []byte
	start := time.Now()
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &outerHTML),
		chromedp.FullScreenshot(&shot, 90),
	)
	dur := time.Since(start).Milliseconds()
	if err != nil {
		return failure(fmt.Errorf("browser: %w", err), dur), nil
	}
	if err := os.WriteFile(shotPath, shot, 0o644); err != nil {
		return failure(fmt.Errorf("write screenshot: %w", err), dur), nil
	}

	res := &models.ToolResult{
		Success: true,
		Output: map[string]any{
			"url":        url,
			"title":      title,
			"text":       pageText(outerHTML),
			"screenshot": shotPath,
		},
		DurationMs: dur,
	}
	if info, statErr := os.Stat(shotPath); statErr == nil && info.Size() > 0 {
		res.Artifacts = []models.Artifact{{
			Name:   filepath.Base(shotPath),
			Type:   "image/png",
			Path:   shotPath,
			Size:   info.Size(),
			StepID: in.StepID,
		}}
	}
	return res, nil
}

// pageText strips markup down to readable text, skipping script and style.
func pageText(raw string) string {
	node, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return ""
	}
	var b strings.Builder
	visit(node, &b, false)
	return strings.TrimSpace(compactWhitespace(b.String()))
}

func visit(n *html.Node, b *strings.Builder, hidden bool) {
	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript":
			hidden = true
		case "br", "p", "div", "li", "tr":
			b.WriteString("\n")
		}
	}
	if !hidden && n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		visit(c, b, hidden)
	}
}

func compactWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.Join(strings.Fields(ln), " ")
		if ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}

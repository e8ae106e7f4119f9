// Package intent scores a free-text goal against fixed keyword families to
// decide what kind of output the caller expects. It is deterministic and does
// no I/O, so the planner can call it on every goal before deciding whether a
// generative planning call is needed at all.
package intent

import (
	"regexp"
	"strings"

	"github.com/example/taskforge/internal/models"
)

type ExpectedOutput string

const (
	ExpectText      ExpectedOutput = "TEXT"
	ExpectImage     ExpectedOutput = "IMAGE"
	ExpectComposite ExpectedOutput = "COMPOSITE"
)

// Classification is the result of scoring one goal.
type Classification struct {
	ExpectedOutput ExpectedOutput
	IsComposite    bool
	Confidence     float64
	Signals        []string
}

const (
	codeWeight     = 2.0
	terminalWeight = 2.0
	browserWeight  = 2.0
	imageWeight    = 3.0
	visualWeight   = 1.0
	aspectWeight   = 5.0
	imageThreshold = 3.0
	confidenceCeil = 10.0
)

var (
	codeKeywords = []string{
		"code", "coding", "program", "implement", "function", "script",
		"html", "css", "javascript", "typescript", "python", "golang",
		"web page", "website", "webpage", "component", "refactor",
		"build a page", "build an app", "web app", "api endpoint",
	}
	terminalKeywords = []string{
		"run ", "execute", "terminal", "shell", "command", "npm", "pnpm",
		"yarn", "pip ", "install", "compile", "make ", "bash",
	}
	browserKeywords = []string{
		"screenshot", "browser", "open the page", "navigate", "click",
		"visit the", "render the page", "check the page",
	}
	imageKeywords = []string{
		"image", "picture", "photo", "draw", "paint", "illustration",
		"wallpaper", "poster", "logo", "artwork", "generate an image",
	}
	visualKeywords = []string{
		"cinematic", "photorealistic", "realistic", "portrait", "landscape",
		"watercolor", "minimalist", "vibrant", "4k", "high-resolution",
		"high resolution", "scenic", "sunset", "neon",
	}

	aspectRatioRe = regexp.MustCompile(`\d+:\d+`)
)

// Classify scores goal against the keyword families and the aspect-ratio
// pattern. The pure-IMAGE gate is strictly conjunctive: any nonzero
// code/terminal/browser score disqualifies it no matter how strong the image
// signal is. Composite detection is disjunctive by contrast; the asymmetry is
// intentional and kept as-is.
func Classify(goal string) Classification {
	g := strings.ToLower(goal)

	var signals []string
	score := func(family string, keywords []string, weight float64) float64 {
		var total float64
		for _, kw := range keywords {
			if strings.Contains(g, kw) {
				total += weight
				signals = append(signals, family+":"+strings.TrimSpace(kw))
			}
		}
		return total
	}

	codeScore := score("code", codeKeywords, codeWeight)
	terminalScore := score("terminal", terminalKeywords, terminalWeight)
	browserScore := score("browser", browserKeywords, browserWeight)
	imageScore := score("image", imageKeywords, imageWeight)
	imageScore += score("visual", visualKeywords, visualWeight)
	if ratio := aspectRatioRe.FindString(g); ratio != "" {
		// An explicit ratio is close to definitive for image intent.
		imageScore += aspectWeight
		signals = append(signals, "aspect_ratio:"+ratio)
	}

	outputs := InferOutputs(goal)

	c := Classification{Signals: signals}
	switch {
	case imageScore >= imageThreshold && codeScore == 0 && terminalScore == 0 && browserScore == 0:
		c.ExpectedOutput = ExpectImage
	case len(outputs) > 1 || (codeScore > 0 && imageScore > 0) || terminalScore > 0 || browserScore > 0:
		c.ExpectedOutput = ExpectComposite
		c.IsComposite = true
	default:
		c.ExpectedOutput = ExpectText
	}

	c.Confidence = (codeScore + terminalScore + browserScore + imageScore) / confidenceCeil
	if c.Confidence > 1.0 {
		c.Confidence = 1.0
	}
	return c
}

// InferOutputs maps the goal to the set of artifact categories a finished run
// is expected to leave behind. A goal with no signal at all is plain text.
func InferOutputs(goal string) []models.OutputKind {
	g := strings.ToLower(goal)

	set := map[models.OutputKind]bool{}
	if containsAny(g, codeKeywords) {
		set[models.OutCode] = true
		set[models.OutFiles] = true
	}
	if containsAny(g, imageKeywords) || aspectRatioRe.MatchString(g) {
		set[models.OutImage] = true
	}
	if containsAny(g, terminalKeywords) {
		set[models.OutTerminal] = true
	}
	if containsAny(g, browserKeywords) {
		set[models.OutBrowserCheck] = true
	}
	if containsAny(g, []string{"search the web", "research", "look up", "find online", "latest news"}) {
		set[models.OutWebResult] = true
	}
	if len(set) == 0 {
		set[models.OutText] = true
	}

	// Stable order keeps plans and their verification deterministic.
	order := []models.OutputKind{
		models.OutCode, models.OutImage, models.OutText, models.OutFiles,
		models.OutWebResult, models.OutBrowserCheck, models.OutTerminal,
	}
	out := make([]models.OutputKind, 0, len(set))
	for _, k := range order {
		if set[k] {
			out = append(out, k)
		}
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

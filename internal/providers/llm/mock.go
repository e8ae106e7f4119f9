package llm

import (
	"context"
	"strings"
)

// MockClient is used when no real provider is configured. It returns a
// minimal but structurally valid plan so the engine stays runnable locally.
type MockClient struct{}

func (m *MockClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	p := strings.ToLower(prompt)
	if strings.Contains(p, "json array of step objects") {
		if strings.Contains(p, "image") {
			return `[{"id":"s1","type":"IMAGE_GEN","tool":"IMAGE","input":{"prompt":"<goal>"}},{"id":"s2","type":"VERIFY","tool":"NONE","depends_on":["s1"]}]`, nil
		}
		return `[{"id":"s1","type":"CODE_GEN","tool":"LLM","input":{"prompt":"<goal>"}},{"id":"s2","type":"VERIFY","tool":"NONE","depends_on":["s1"]}]`, nil
	}
	return "mock: " + prompt, nil
}

func (m *MockClient) Judge(ctx context.Context, prompt, output string) (bool, string, error) {
	ok := strings.TrimSpace(output) != ""
	return ok, `{"passed": true, "confidence": 0.5, "reason": "mock judgment"}`, nil
}

// Package llm abstracts the text-generation backends used by the planner,
// the critic and the LLM tool adapter behind one small interface.
package llm

import (
	"context"
	"os"
	"strings"
	"time"
)

// Client is the minimal surface the engine needs from a provider.
type Client interface {
	// Generate produces text for a prompt, with an optional system prompt.
	Generate(ctx context.Context, system, prompt string) (string, error)
	// Judge asks the provider to evaluate an output against a rubric prompt.
	// The string return carries the raw verdict text for JSON parsing upstream.
	Judge(ctx context.Context, prompt, output string) (bool, string, error)
}

// NewFromEnv returns a Client based on environment variables.
// Supported providers:
// - LLM_PROVIDER=openai|anthropic|gemini
// - For OpenAI:    OPENAI_API_KEY, optional LLM_MODEL, OPENAI_API_BASE
// - For Anthropic: ANTHROPIC_API_KEY, optional LLM_MODEL
// - For Gemini:    GOOGLE_API_KEY, optional LLM_MODEL
// If nothing is configured, returns a MockClient.
func NewFromEnv() Client {
	prov := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))
	switch prov {
	case "openai":
		if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
			return &OpenAIClient{APIKey: key, Model: modelOr("gpt-4o-mini"), BaseURL: strings.TrimRight(os.Getenv("OPENAI_API_BASE"), "/")}
		}
	case "anthropic":
		if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
			return &AnthropicClient{APIKey: key, Model: modelOr("claude-3-5-sonnet-latest")}
		}
	case "gemini":
		if key := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); key != "" {
			return NewGeminiClient(key, modelOr("gemini-1.5-flash"))
		}
	}

	// Auto-detect by API key presence if provider not specified.
	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		return &OpenAIClient{APIKey: key, Model: modelOr("gpt-4o-mini"), BaseURL: strings.TrimRight(os.Getenv("OPENAI_API_BASE"), "/")}
	}
	if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
		return &AnthropicClient{APIKey: key, Model: modelOr("claude-3-5-sonnet-latest")}
	}
	if key := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); key != "" {
		return NewGeminiClient(key, modelOr("gemini-1.5-flash"))
	}

	return &MockClient{}
}

func modelOr(def string) string {
	if v := strings.TrimSpace(os.Getenv("LLM_MODEL")); v != "" {
		return v
	}
	return def
}

func clientTimeout() time.Duration {
	if v := os.Getenv("LLM_HTTP_TIMEOUT_MS"); v != "" {
		if ms, err := time.ParseDuration(v + "ms"); err == nil {
			return ms
		}
	}
	return 45 * time.Second
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}

func backoff(i int) time.Duration {
	return time.Duration(500*(1<<i)) * time.Millisecond
}

package agent

import (
	"context"
	"fmt"
	"strings"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes one model request
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for an LLM call
type LLMRequest struct {
	Model        string
	Messages     []AgentMessage
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from an LLM
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ProviderCreator creates LLM providers from auth profiles.
type ProviderCreator interface {
	NewProvider(ctx context.Context, profile AuthProfile) (LLMProvider, error)
}

// ProviderFactory creates the SDK-backed providers
type ProviderFactory struct{}

// NewProvider creates a new LLM provider based on auth profile
func (f *ProviderFactory) NewProvider(ctx context.Context, profile AuthProfile) (LLMProvider, error) {
	if profile.APIKey == "" {
		return nil, fmt.Errorf("profile %s has no api key", profile.ID)
	}
	switch profile.Provider {
	case "gemini":
		return NewGeminiProvider(ctx, profile.APIKey)
	case "openai":
		return NewOpenAIProvider(profile.APIKey), nil
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

var defaultModels = map[string]string{
	"gemini":    "gemini-2.5-flash",
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
}

var modelPrefixes = map[string][]string{
	"gemini":    {"gemini"},
	"openai":    {"gpt", "o1", "o3", "o4"},
	"anthropic": {"claude"},
}

// modelFor picks the profile model, else the run model when it belongs to the
// profile's provider, else the provider default.
func modelFor(profile AuthProfile, runModel string) string {
	if profile.Model != "" {
		return profile.Model
	}
	for _, prefix := range modelPrefixes[profile.Provider] {
		if strings.HasPrefix(runModel, prefix) {
			return runModel
		}
	}
	if m, ok := defaultModels[profile.Provider]; ok {
		return m
	}
	return runModel
}

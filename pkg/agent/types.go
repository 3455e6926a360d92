package agent

import (
	"strings"
	"time"

	"github.com/harun/voicedesk/internal/observability"
	"github.com/harun/voicedesk/pkg/toolexecutor"
)

// RunParams contains input parameters for one agent turn
type RunParams struct {
	SessionKey   string
	Prompt       string
	SystemPrompt string
	Persona      string
	// Tools is the per-session tool set; nil means a text-only turn.
	Tools      *toolexecutor.ToolExecutor
	ToolPolicy *toolexecutor.ToolPolicy
	// ToolTimeout bounds each tool call; zero uses the executor default.
	ToolTimeout time.Duration
	Config      Config
	// HistoryLimit bounds how many stored messages are replayed; <= 0 uses 40.
	HistoryLimit int
	Usage        *observability.UsageCollector
}

// Config configures model behavior for a run
type Config struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	MaxRetries  int     `json:"max_retries,omitempty"`
}

// Result contains output from agent execution
type Result struct {
	Response   string      `json:"response"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	Usage      *TokenUsage `json:"usage,omitempty"`
	SessionKey string      `json:"session_key"`
	Provider   string      `json:"provider,omitempty"`
	Aborted    bool        `json:"aborted,omitempty"`
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *TokenUsage) add(other *TokenUsage) *TokenUsage {
	if other == nil {
		return u
	}
	if u == nil {
		u = &TokenUsage{}
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	return u
}

// AuthProfile represents credentials for one LLM provider
type AuthProfile struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"` // "gemini", "openai", "anthropic"
	APIKey        string `json:"api_key"`
	Model         string `json:"model,omitempty"`
	CooldownUntil *int64 `json:"cooldown_until,omitempty"`
	FailureCount  int    `json:"failure_count"`
	Priority      int    `json:"priority"`
}

// AgentMessage represents a message in the conversation
type AgentMessage struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	ToolName   string                 `json:"tool_name,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolSpec is the provider-neutral description of a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DefaultConfig returns default agent configuration
func DefaultConfig() Config {
	return Config{
		Model:       "gemini-2.5-flash",
		Temperature: 0.7,
		MaxTokens:   1024,
		MaxRetries:  3,
	}
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"econnreset", "etimedout", "connection reset", "timeout",
		"429", "rate limit", "resource_exhausted",
		"500", "502", "503", "504", "unavailable", "overloaded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// EstimateTokens provides a rough token count estimation
func EstimateTokens(messages []AgentMessage) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Content)
	}
	// ~4 characters per token
	return (totalChars + 3) / 4
}

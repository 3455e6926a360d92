package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements LLMProvider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (p *AnthropicProvider) Provider() string {
	return "anthropic"
}

// Call sends one Messages API request
func (p *AnthropicProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  anthropicMessages(request.Messages),
		MaxTokens: int64(maxTokens),
	}
	if request.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: request.SystemPrompt}}
	}
	if request.Temperature > 0 {
		params.Temperature = anthropic.Float(request.Temperature)
	}
	if len(request.Tools) > 0 {
		params.Tools = anthropicTools(request.Tools)
	}

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	toolCalls := []ToolCall{}
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args := map[string]interface{}{}
			if err := json.Unmarshal([]byte(b.JSON.Input.Raw()), &args); err != nil {
				return nil, fmt.Errorf("anthropic: bad input for %s: %w", b.Name, err)
			}
			toolCalls = append(toolCalls, ToolCall{ID: b.ID, Name: b.Name, Parameters: args})
		}
	}

	return &LLMResponse{
		Content:   text.String(),
		ToolCalls: toolCalls,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}

// anthropicMessages maps the transcript onto Messages API turns. Consecutive
// tool results share one user turn, which the API requires.
func anthropicMessages(history []AgentMessage) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case "user":
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case "tool":
			block := anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)
			if n := len(messages); n > 0 && lastIsToolResult(messages[n-1]) {
				messages[n-1].Content = append(messages[n-1].Content, block)
			} else {
				messages = append(messages, anthropic.NewUserMessage(block))
			}
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Parameters, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return messages
}

func anthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		tool := anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: spec.InputSchema["properties"],
				Required:   requiredFields(spec.InputSchema),
			},
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return tools
}

func lastIsToolResult(msg anthropic.MessageParam) bool {
	if msg.Role != anthropic.MessageParamRoleUser || len(msg.Content) == 0 {
		return false
	}
	return msg.Content[len(msg.Content)-1].OfToolResult != nil
}

// requiredFields accepts both []string and decoded []interface{} lists.
func requiredFields(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements LLMProvider on the Chat Completions API
type OpenAIProvider struct {
	client openai.Client
}

func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (p *OpenAIProvider) Provider() string {
	return "openai"
}

// Call sends one chat completion request
func (p *OpenAIProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	messages, err := openAIMessages(request.SystemPrompt, request.Messages)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}
	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}
	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}
	if len(request.Tools) > 0 {
		params.Tools = openAITools(request.Tools)
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	reply := response.Choices[0].Message
	toolCalls := make([]ToolCall, 0, len(reply.ToolCalls))
	for _, tc := range reply.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("openai: bad arguments for %s: %w", tc.Function.Name, err)
			}
		}
		toolCalls = append(toolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Parameters: args})
	}

	return &LLMResponse{
		Content:   reply.Content,
		ToolCalls: toolCalls,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}, nil
}

// openAIMessages maps the transcript onto chat messages. The system prompt
// goes first; stored system messages are dropped.
func openAIMessages(systemPrompt string, history []AgentMessage) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}

	for _, msg := range history {
		switch msg.Role {
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "tool":
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case "assistant":
			if len(msg.ToolCalls) == 0 {
				if msg.Content != "" {
					messages = append(messages, openai.AssistantMessage(msg.Content))
				}
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Parameters)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal arguments for %s: %w", tc.Name, err)
				}
				calls = append(calls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			turn := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: calls,
			}
			messages = append(messages, turn.ToParam())
		}
	}
	return messages, nil
}

func openAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  openai.FunctionParameters(spec.InputSchema),
			},
		})
	}
	return tools
}

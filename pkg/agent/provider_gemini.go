package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider implements LLMProvider for Google Gemini
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a Gemini API client
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return "gemini"
}

// Call makes one GenerateContent request
func (p *GeminiProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	contents := geminiContents(request.Messages)

	config := &genai.GenerateContentConfig{}
	if request.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: request.SystemPrompt}},
		}
	}
	if request.Temperature > 0 {
		temp := float32(request.Temperature)
		config.Temperature = &temp
	}
	if request.MaxTokens > 0 {
		config.MaxOutputTokens = int32(request.MaxTokens)
	}
	if len(request.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(request.Tools))
		for _, tool := range request.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: tool.InputSchema,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	response, err := p.client.Models.GenerateContent(ctx, request.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response candidates returned")
	}

	var text strings.Builder
	toolCalls := []ToolCall{}
	for i, part := range response.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d_%s", i, part.FunctionCall.Name)
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:         id,
				Name:       part.FunctionCall.Name,
				Parameters: part.FunctionCall.Args,
			})
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}

	result := &LLMResponse{
		Content:   text.String(),
		ToolCalls: toolCalls,
	}
	if usage := response.UsageMetadata; usage != nil {
		result.Usage = &TokenUsage{
			InputTokens:  int(usage.PromptTokenCount),
			OutputTokens: int(usage.CandidatesTokenCount),
		}
	}
	return result, nil
}

// geminiContents maps the transcript onto user/model turns. Tool results are
// sent back as function responses grouped into one user turn.
func geminiContents(messages []AgentMessage) []*genai.Content {
	contents := []*genai.Content{}
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		case "assistant":
			parts := []*genai.Part{}
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: tc.Parameters,
				}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case "tool":
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolCallID,
				Name:     msg.ToolName,
				Response: functionResponse(msg.Content),
			}}
			if n := len(contents); n > 0 && isFunctionResponseTurn(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
			} else {
				contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{part}})
			}
		}
	}
	return contents
}

func isFunctionResponseTurn(c *genai.Content) bool {
	if c.Role != "user" || len(c.Parts) == 0 {
		return false
	}
	return c.Parts[len(c.Parts)-1].FunctionResponse != nil
}

// functionResponse wraps tool output in the object shape Gemini expects.
func functionResponse(output string) map[string]any {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(output), &decoded); err == nil {
		return decoded
	}
	return map[string]any{"output": output}
}

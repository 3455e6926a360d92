package toolexecutor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return nil, nil
}

func TestToolExecutor_RegisterTool(t *testing.T) {
	te := New()

	err := te.RegisterTool(ToolDefinition{
		Name:        "search_faq",
		Description: "Search the FAQ",
		Parameters: []ToolParameter{
			{Name: "question", Type: "string", Description: "Question", Required: true},
		},
		Handler: noop,
	})
	require.NoError(t, err)

	tool := te.GetTool("search_faq")
	require.NotNil(t, tool)
	assert.Equal(t, "search_faq", tool.Name)
}

func TestToolExecutor_RegisterTool_InvalidDefinition(t *testing.T) {
	te := New()

	tests := []struct {
		name string
		def  ToolDefinition
	}{
		{"empty name", ToolDefinition{Description: "x", Handler: noop}},
		{"empty description", ToolDefinition{Name: "x", Handler: noop}},
		{"nil handler", ToolDefinition{Name: "x", Description: "x"}},
		{"bad type", ToolDefinition{Name: "x", Description: "x", Handler: noop,
			Parameters: []ToolParameter{{Name: "p", Type: "date", Description: "p"}}}},
		{"items on string", ToolDefinition{Name: "x", Description: "x", Handler: noop,
			Parameters: []ToolParameter{{Name: "p", Type: "string", Items: "string", Description: "p"}}}},
		{"enum on number", ToolDefinition{Name: "x", Description: "x", Handler: noop,
			Parameters: []ToolParameter{{Name: "p", Type: "number", Enum: []string{"1"}, Description: "p"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, te.RegisterTool(tt.def))
		})
	}
}

func TestToolExecutor_Execute_Success(t *testing.T) {
	te := New()

	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "echo",
		Description: "Echo tool",
		Parameters: []ToolParameter{
			{Name: "message", Type: "string", Description: "Message to echo", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["message"], nil
		},
	}))

	result := te.Execute(context.Background(), "echo", map[string]interface{}{
		"message": "one oat latte",
	}, nil)

	assert.True(t, result.Success)
	assert.Equal(t, "one oat latte", result.Output)
	assert.Empty(t, result.Error)
}

func TestToolExecutor_Execute_ToolNotFound(t *testing.T) {
	result := New().Execute(context.Background(), "nonexistent", nil, nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "tool not found")
}

func TestToolExecutor_Execute_Validation(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "update_fraud_case",
		Description: "Update a case",
		Parameters: []ToolParameter{
			{Name: "userName", Type: "string", Description: "Name", Required: true},
			{Name: "status", Type: "string", Description: "Status", Required: true,
				Enum: []string{"confirmed_safe", "confirmed_fraud"}},
			{Name: "tags", Type: "array", Items: "string", Description: "Tags"},
		},
		Handler: noop,
	}))

	tests := []struct {
		name   string
		params map[string]interface{}
		ok     bool
	}{
		{"valid", map[string]interface{}{"userName": "John", "status": "confirmed_safe"}, true},
		{"missing required", map[string]interface{}{"userName": "John"}, false},
		{"value outside enum", map[string]interface{}{"userName": "John", "status": "closed"}, false},
		{"unknown parameter", map[string]interface{}{"userName": "John", "status": "confirmed_safe", "extra": 1}, false},
		{"wrong item type", map[string]interface{}{"userName": "John", "status": "confirmed_safe", "tags": []interface{}{1}}, false},
		{"array of strings", map[string]interface{}{"userName": "John", "status": "confirmed_safe", "tags": []interface{}{"a", "b"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := te.Execute(context.Background(), "update_fraud_case", tt.params, nil)
			assert.Equal(t, tt.ok, result.Success, result.Error)
			if !tt.ok {
				assert.Contains(t, result.Error, "validation")
			}
		})
	}
}

func TestToolExecutor_Execute_HandlerError(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "failing_tool",
		Description: "A tool that fails",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("handler error")
		},
	}))

	result := te.Execute(context.Background(), "failing_tool", map[string]interface{}{}, nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "handler error")
}

func TestToolExecutor_Execute_Panic(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "panicky",
		Description: "Panics",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			panic("boom")
		},
	}))

	result := te.Execute(context.Background(), "panicky", nil, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "boom")
}

func TestToolExecutor_Execute_Timeout(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "slow_tool",
		Description: "A slow tool",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			select {
			case <-time.After(2 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	result := te.Execute(context.Background(), "slow_tool", nil, &ExecutionContext{
		Timeout: 50 * time.Millisecond,
	})

	assert.False(t, result.Success)
	assert.True(t, strings.Contains(result.Error, "timeout") || strings.Contains(result.Error, "deadline"))
}

func TestToolExecutor_Execute_Policy(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{Name: "save_lead", Description: "Save", Handler: noop}))

	execCtx := &ExecutionContext{ToolPolicy: &ToolPolicy{Deny: []string{"save_lead"}}}
	result := te.Execute(context.Background(), "save_lead", nil, execCtx)

	assert.False(t, result.Success)
	assert.Equal(t, true, result.Metadata["policy_violation"])
}

func TestToolExecutor_Execute_PassesExecContext(t *testing.T) {
	te := New()
	var seen *ExecutionContext
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "whoami",
		Description: "Reads the execution context",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			seen = ExecutionFromContext(ctx)
			return "ok", nil
		},
	}))

	execCtx := &ExecutionContext{SessionKey: "call-1", Persona: "sdr"}
	result := te.Execute(context.Background(), "whoami", nil, execCtx)
	require.True(t, result.Success)
	require.NotNil(t, seen)
	assert.Equal(t, "call-1", seen.SessionKey)
}

func TestToolExecutor_Execute_OutputTruncation(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "large_output",
		Description: "Tool with large output",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return strings.Repeat("A", 15*1024), nil
		},
	}))

	result := te.Execute(context.Background(), "large_output", nil, nil)

	assert.True(t, result.Success)
	assert.True(t, result.Truncated)
	assert.Contains(t, result.Output.(string), "truncated")
}

func TestToolExecutor_Definitions(t *testing.T) {
	te := New()
	for _, name := range []string{"show_cart", "add_to_cart", "save_order"} {
		require.NoError(t, te.RegisterTool(ToolDefinition{Name: name, Description: "d", Handler: noop}))
	}

	assert.Equal(t, []string{"add_to_cart", "save_order", "show_cart"}, te.ListTools())
	defs := te.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "add_to_cart", defs[0].Name)
	assert.Equal(t, 3, te.GetToolCount())

	te.UnregisterTool("show_cart")
	assert.Nil(t, te.GetTool("show_cart"))
}

func TestToolDefinition_InputSchema(t *testing.T) {
	def := ToolDefinition{
		Name: "save_order",
		Parameters: []ToolParameter{
			{Name: "drinkType", Type: "string", Description: "Drink", Required: true},
			{Name: "extras", Type: "array", Description: "Extras"},
		},
	}

	schema := def.InputSchema()
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.Equal(t, []string{"drinkType"}, schema["required"])

	props := schema["properties"].(map[string]interface{})
	extras := props["extras"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"type": "string"}, extras["items"])
}

func TestToolPolicy(t *testing.T) {
	var nilPolicy *ToolPolicy
	assert.True(t, nilPolicy.IsToolAllowed("anything"))

	assert.True(t, (&ToolPolicy{}).IsToolAllowed("save_order"))
	assert.False(t, (&ToolPolicy{Allow: []string{"search_faq"}}).IsToolAllowed("save_lead"))
	assert.True(t, (&ToolPolicy{Allow: []string{"*"}}).IsToolAllowed("save_lead"))
	assert.False(t, (&ToolPolicy{Allow: []string{"*"}, Deny: []string{"save_lead"}}).IsToolAllowed("save_lead"))
}

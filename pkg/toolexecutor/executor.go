package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/voicedesk/internal/observability"
	"github.com/harun/voicedesk/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultTimeout = 30 * time.Second
	maxOutputSize  = 10 * 1024
)

// ToolPolicy defines which tools a session can use
type ToolPolicy struct {
	Allow []string `json:"allow"` // List of allowed tools (* for all)
	Deny  []string `json:"deny"`  // List of denied tools (overrides allow)
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		return true
	}

	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	// An empty allow list allows everything not denied.
	if len(tp.Allow) == 0 {
		return true
	}
	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}
	return false
}

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
	Items       string      `json:"items,omitempty"` // element type when Type is array
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ExecutionContext provides runtime information for tool execution
type ExecutionContext struct {
	SessionKey string
	Persona    string
	Timeout    time.Duration
	ToolPolicy *ToolPolicy
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	return &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema()))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// RegisterAll registers every definition, stopping at the first failure.
func (te *ToolExecutor) RegisterAll(defs []ToolDefinition) error {
	for _, def := range defs {
		if err := te.RegisterTool(def); err != nil {
			return fmt.Errorf("%s: %w", def.Name, err)
		}
	}
	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
	delete(te.schemas, name)
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns registered tool names in sorted order.
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)
	return tools
}

// Definitions returns copies of the registered definitions sorted by name.
func (te *ToolExecutor) Definitions() []ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(te.tools))
	for _, def := range te.tools {
		defs = append(defs, *def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// Execute validates params and runs the tool under a timeout.
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()

	ctx, span := tracing.StartSpan(ctx, "voicedesk.toolexecutor", "tool.execute",
		attribute.String("tool.name", toolName),
	)
	defer span.End()

	result := te.execute(ctx, toolName, params, execCtx, startTime)

	span.SetAttributes(attribute.Bool("tool.success", result.Success))
	if !result.Success {
		span.SetAttributes(attribute.String("tool.error", result.Error))
	}
	observability.RecordToolExecution(toolName, time.Since(startTime), result.Success)
	return result
}

func (te *ToolExecutor) execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext, startTime time.Time) ToolResult {
	if execCtx != nil && !execCtx.ToolPolicy.IsToolAllowed(toolName) {
		log.Warn().
			Str("tool", toolName).
			Str("persona", execCtx.Persona).
			Msg("Tool execution blocked by policy")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool '%s' is not allowed by policy", toolName),
			Metadata: map[string]interface{}{
				"policy_violation": true,
			},
		}
	}

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if tool == nil {
		log.Error().Str("tool", toolName).Msg("Tool not found")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool not found: %s", toolName),
		}
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	if err := validateParameters(schema, params); err != nil {
		log.Error().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("parameter validation failed: %v", err),
		}
	}

	timeout := defaultTimeout
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(withExecution(ctx, execCtx), timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		value, err := tool.Handler(timeoutCtx, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		duration := time.Since(startTime)
		if out.err != nil {
			log.Error().
				Str("tool", toolName).
				Dur("duration", duration).
				Err(out.err).
				Msg("Tool execution failed")
			return ToolResult{
				Success:  false,
				Error:    out.err.Error(),
				Metadata: map[string]interface{}{"duration": duration.Milliseconds()},
			}
		}

		output, truncated := truncateOutput(out.value)
		log.Debug().
			Str("tool", toolName).
			Dur("duration", duration).
			Bool("truncated", truncated).
			Msg("Tool execution completed")

		return ToolResult{
			Success:   true,
			Output:    output,
			Truncated: truncated,
			Metadata:  map[string]interface{}{"duration": duration.Milliseconds()},
		}

	case <-timeoutCtx.Done():
		duration := time.Since(startTime)
		log.Error().
			Str("tool", toolName).
			Dur("duration", duration).
			Msg("Tool execution timeout")

		return ToolResult{
			Success:  false,
			Error:    fmt.Sprintf("tool execution timeout after %v", timeout),
			Metadata: map[string]interface{}{"duration": duration.Milliseconds()},
		}
	}
}

var validTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Items != "" {
			if param.Type != "array" {
				return fmt.Errorf("items is only valid for array parameter %s", param.Name)
			}
			if !validTypes[param.Items] {
				return fmt.Errorf("invalid items type %s for %s", param.Items, param.Name)
			}
		}
		if len(param.Enum) > 0 && param.Type != "string" {
			return fmt.Errorf("enum is only supported for string parameter %s", param.Name)
		}
	}

	return nil
}

// InputSchema returns the JSON Schema object describing the tool's parameters.
func (def ToolDefinition) InputSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			enum := make([]interface{}, len(param.Enum))
			for i, v := range param.Enum {
				enum[i] = v
			}
			paramSchema["enum"] = enum
		}
		if param.Type == "array" {
			items := param.Items
			if items == "" {
				items = "string"
			}
			paramSchema["items"] = map[string]interface{}{"type": items}
		}

		properties[param.Name] = paramSchema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}

// truncateOutput caps the serialized output at maxOutputSize bytes.
func truncateOutput(output interface{}) (interface{}, bool) {
	var str string
	switch v := output.(type) {
	case string:
		str = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			str = fmt.Sprintf("%v", v)
		} else {
			str = string(data)
		}
	}

	if len(str) <= maxOutputSize {
		return output, false
	}

	log.Warn().
		Int("original", len(str)).
		Int("truncated", maxOutputSize).
		Msg("Output truncated")

	return str[:maxOutputSize] + "\n... [output truncated]", true
}

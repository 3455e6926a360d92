// Package toolexecutor registers and executes the tools a persona exposes to the LLM.
//
// Parameters are validated against a JSON Schema generated from the
// definition before the handler runs. Handlers run with a timeout and see
// the session's ExecutionContext through ExecutionFromContext.
//
//	exec := toolexecutor.New()
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name:        "search_faq",
//		Description: "Search the FAQ",
//		Parameters:  []toolexecutor.ToolParameter{{Name: "question", Type: "string", Description: "question", Required: true}},
//		Handler:     handler,
//	})
package toolexecutor

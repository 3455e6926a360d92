// Package agent runs LLM turns for a call session with a tool loop,
// retry/backoff and provider failover.
//
// Invariants:
// - Runs are serialized per session lane through commandqueue.
// - The transcript is loaded before a run and both turns are appended after it.
// - Tool calls route through toolexecutor only.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Options{Sessions: sm, Queue: cq, AuthProfiles: profiles})
//	result, _ := runner.Run(ctx, agent.RunParams{
//		SessionKey:   "call-1",
//		Prompt:       "hello",
//		SystemPrompt: persona.Instructions(),
//		Tools:        tools,
//		Config:       agent.DefaultConfig(),
//	})
//	_ = result
package agent

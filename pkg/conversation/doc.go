// Package conversation runs calls. A Session binds one persona, its tools and
// the agent runner; each caller turn goes through the persona's scripted
// interceptor first and then the LLM. Manager creates sessions and tracks the
// active ones.
package conversation

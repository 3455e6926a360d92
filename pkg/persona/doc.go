// Package persona defines the role-play agents a call can talk to.
//
// A Persona supplies the LLM instructions, a greeting, a TTS voice and the
// tools it exposes. Personas that also implement Interceptor answer some or
// all turns with scripted lines before the LLM is consulted. Registry builds a
// fresh persona per call so dialogue state is never shared between callers.
package persona

package persona

import (
	"context"
	"errors"
	"strings"

	"github.com/harun/voicedesk/pkg/cart"
	"github.com/harun/voicedesk/pkg/content"
	"github.com/harun/voicedesk/pkg/records"
	"github.com/harun/voicedesk/pkg/session"
	"github.com/harun/voicedesk/pkg/toolexecutor"
)

// ErrUnknownPersona is returned by Registry.New for an unregistered id.
var ErrUnknownPersona = errors.New("unknown persona")

// DefaultVoice is the TTS voice used unless a persona picks another.
const DefaultVoice = "en-US-matthew"

// Persona is one role-play agent. A new value is created for every call.
type Persona interface {
	ID() string
	Name() string
	Description() string
	Instructions() string
	Greeting() string
	Voice() string
	Tools() []toolexecutor.ToolDefinition
}

// Interceptor is implemented by personas that answer some turns without the
// LLM. Intercept returns false to hand the turn to the LLM.
type Interceptor interface {
	Intercept(ctx context.Context, text string) (Reply, bool)
}

// Reply is what the agent says for one turn. A non-empty Voice switches the
// session's TTS voice before the lines are spoken.
type Reply struct {
	Lines []string `json:"lines"`
	Voice string   `json:"voice,omitempty"`
}

// Text joins the reply lines with spaces.
func (r Reply) Text() string {
	return strings.Join(r.Lines, " ")
}

func say(lines ...string) Reply {
	return Reply{Lines: lines}
}

// Deps carries the stores a persona may use. Any field may be nil; tools that
// need a missing store report an error status.
type Deps struct {
	Library    *content.Library
	Records    *records.FileStore
	FraudCases *records.FraudCases
	Carts      cart.Store
	Sessions   *session.SessionManager
	SessionKey string
}

// Factory builds a persona for one call.
type Factory func(deps Deps) Persona

// base carries the fields every persona exposes.
type base struct {
	id           string
	name         string
	description  string
	instructions string
	greeting     string
	voice        string
}

func (b *base) ID() string           { return b.id }
func (b *base) Name() string         { return b.name }
func (b *base) Description() string  { return b.description }
func (b *base) Instructions() string { return b.instructions }
func (b *base) Greeting() string     { return b.greeting }

func (b *base) Voice() string {
	if b.voice == "" {
		return DefaultVoice
	}
	return b.voice
}

func (b *base) applyOverride(o PromptOverride) {
	if o.Instructions != "" {
		b.instructions = o.Instructions
	}
	if o.Greeting != "" {
		b.greeting = o.Greeting
	}
	if o.Voice != "" {
		b.voice = o.Voice
	}
}

type overridable interface {
	applyOverride(o PromptOverride)
}

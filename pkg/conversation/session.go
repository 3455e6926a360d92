package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/voicedesk/internal/observability"
	"github.com/harun/voicedesk/internal/tracing"
	"github.com/harun/voicedesk/pkg/agent"
	"github.com/harun/voicedesk/pkg/persona"
	"github.com/harun/voicedesk/pkg/toolexecutor"
	"github.com/harun/voicedesk/pkg/voice"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrSessionClosed is returned for turns on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrEmptyInput is returned when a turn carries no text.
	ErrEmptyInput = errors.New("empty input")
	// ErrNoSpeech is returned when speech is requested but no client is set.
	ErrNoSpeech = errors.New("speech service not configured")
)

// Turn sources recorded in metrics and transcript metadata.
const (
	SourceScripted = "scripted"
	SourceLLM      = "llm"
	SourceGreeting = "greeting"
)

// Session is one call bound to one persona.
type Session struct {
	key       string
	room      string
	persona   persona.Persona
	tools     *toolexecutor.ToolExecutor
	manager   *Manager
	usage     *observability.UsageCollector
	logger    zerolog.Logger
	startedAt time.Time

	mu     sync.Mutex
	voice  string
	turns  int
	closed bool
}

// Info is a snapshot of a session.
type Info struct {
	Key       string                     `json:"key"`
	Persona   string                     `json:"persona"`
	Room      string                     `json:"room,omitempty"`
	Voice     string                     `json:"voice"`
	Turns     int                        `json:"turns"`
	StartedAt time.Time                  `json:"started_at"`
	Usage     observability.UsageSummary `json:"usage"`
}

func (s *Session) Key() string                          { return s.key }
func (s *Session) Persona() persona.Persona             { return s.persona }
func (s *Session) Usage() *observability.UsageCollector { return s.usage }

// Voice returns the TTS voice currently in use.
func (s *Session) Voice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Key:       s.key,
		Persona:   s.persona.ID(),
		Room:      s.room,
		Voice:     s.voice,
		Turns:     s.turns,
		StartedAt: s.startedAt,
		Usage:     s.usage.Summary(),
	}
}

func (s *Session) callContext(ctx context.Context) context.Context {
	return tracing.NewCallContext(ctx, s.key, s.persona.ID(), s.room)
}

// Start returns the persona greeting and stores it as the first agent turn.
func (s *Session) Start(ctx context.Context) (persona.Reply, error) {
	ctx = s.callContext(ctx)
	reply := persona.Reply{Lines: []string{s.persona.Greeting()}, Voice: s.Voice()}

	err := s.manager.runner.RecordExchange(ctx, s.key, "", s.persona.Greeting(), map[string]interface{}{
		"source": SourceGreeting,
	})
	if err != nil {
		return reply, err
	}
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Msg("Call started")
	return reply, nil
}

// HandleText runs one caller turn. Scripted personas answer first; anything
// they pass on goes to the LLM with the persona's instructions and tools.
func (s *Session) HandleText(ctx context.Context, text string) (_ persona.Reply, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return persona.Reply{}, ErrEmptyInput
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return persona.Reply{}, ErrSessionClosed
	}
	s.turns++
	s.mu.Unlock()

	ctx = s.callContext(ctx)
	ctx, span := tracing.StartSpan(ctx, "voicedesk.conversation", "conversation.turn",
		attribute.String("persona", s.persona.ID()),
		attribute.String("session_key", s.key),
	)
	defer span.End()
	defer func() {
		if err != nil {
			tracing.FailSpan(span, err)
		}
	}()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if interceptor, ok := s.persona.(persona.Interceptor); ok {
		if reply, handled := interceptor.Intercept(ctx, text); handled {
			span.SetAttributes(attribute.String("turn.source", SourceScripted))
			observability.RecordTurn(s.persona.ID(), SourceScripted)
			reply = s.applyVoice(reply)
			if err := s.manager.runner.RecordExchange(ctx, s.key, text, reply.Text(), map[string]interface{}{
				"source": SourceScripted,
			}); err != nil {
				logger.Warn().Err(err).Msg("Failed to record scripted turn")
			}
			logger.Debug().Str("reply", reply.Text()).Msg("Scripted reply")
			return reply, nil
		}
	}

	span.SetAttributes(attribute.String("turn.source", SourceLLM))
	observability.RecordTurn(s.persona.ID(), SourceLLM)

	cfg := s.manager.opts.AgentConfig
	result, err := s.manager.runner.Run(ctx, agent.RunParams{
		SessionKey:   s.key,
		Prompt:       text,
		SystemPrompt: s.persona.Instructions(),
		Persona:      s.persona.ID(),
		Tools:        s.tools,
		ToolPolicy:   s.manager.opts.ToolPolicy,
		ToolTimeout:  s.manager.opts.ToolTimeout,
		Config:       cfg,
		HistoryLimit: s.manager.opts.HistoryLimit,
		Usage:        s.usage,
	})
	if err != nil {
		return persona.Reply{}, fmt.Errorf("agent run failed: %w", err)
	}

	reply := s.applyVoice(persona.Reply{Lines: []string{strings.TrimSpace(result.Response)}})
	logger.Debug().
		Str("provider", result.Provider).
		Int("tool_calls", len(result.ToolCalls)).
		Msg("LLM reply")
	return reply, nil
}

// applyVoice switches the session voice when the reply asks for one and
// otherwise stamps the current voice on the reply.
func (s *Session) applyVoice(reply persona.Reply) persona.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reply.Voice != "" {
		s.voice = reply.Voice
	} else {
		reply.Voice = s.voice
	}
	return reply
}

// HandleAudio transcribes a WAV utterance and runs it as a turn. An empty
// transcript returns the transcript with no reply and no error.
func (s *Session) HandleAudio(ctx context.Context, wav []byte) (voice.Transcript, persona.Reply, error) {
	stt := s.manager.opts.STT
	if stt == nil {
		return voice.Transcript{}, persona.Reply{}, ErrNoSpeech
	}

	ctx = s.callContext(ctx)
	transcript, err := stt.Transcribe(ctx, wav)
	if err != nil {
		return voice.Transcript{}, persona.Reply{}, fmt.Errorf("transcription failed: %w", err)
	}
	s.usage.AddSTT(transcript.Duration)

	if strings.TrimSpace(transcript.Text) == "" {
		return transcript, persona.Reply{}, nil
	}
	reply, err := s.HandleText(ctx, transcript.Text)
	return transcript, reply, err
}

// Speak synthesizes a reply chunk by chunk. onChunk, when set, is called as
// each chunk is ready so playback can start before the rest is rendered.
func (s *Session) Speak(ctx context.Context, reply persona.Reply, onChunk func(text string, speech voice.Speech) error) ([]voice.Speech, error) {
	tts := s.manager.opts.TTS
	if tts == nil {
		return nil, ErrNoSpeech
	}

	ctx = s.callContext(ctx)
	v := reply.Voice
	if v == "" {
		v = s.Voice()
	}

	var out []voice.Speech
	for _, chunk := range s.manager.opts.Tokenizer.Split(reply.Text()) {
		speech, err := tts.Synthesize(ctx, chunk, v)
		if err != nil {
			return out, fmt.Errorf("synthesis failed: %w", err)
		}
		s.usage.AddTTS(len(chunk))
		out = append(out, speech)
		if onChunk != nil {
			if err := onChunk(chunk, speech); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

// Close ends the call and logs its usage. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	turns := s.turns
	s.mu.Unlock()

	s.manager.runner.Abort(s.key)
	s.manager.remove(s)

	ctx = s.callContext(ctx)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	s.usage.LogSummary(logger.With().
		Int("turns", turns).
		Dur("duration", time.Since(s.startedAt)).
		Logger(), "Call ended")
	return nil
}

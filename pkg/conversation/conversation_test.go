package conversation

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/harun/voicedesk/internal/observability"
	"github.com/harun/voicedesk/pkg/agent"
	"github.com/harun/voicedesk/pkg/cart"
	"github.com/harun/voicedesk/pkg/commandqueue"
	"github.com/harun/voicedesk/pkg/content"
	"github.com/harun/voicedesk/pkg/persona"
	"github.com/harun/voicedesk/pkg/records"
	"github.com/harun/voicedesk/pkg/session"
	"github.com/harun/voicedesk/pkg/voice"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedLLM replays responses in order and records requests.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*agent.LLMResponse
	requests  []agent.LLMRequest
}

func (s *scriptedLLM) Call(_ context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return &agent.LLMResponse{Content: "Okay."}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedLLM) Provider() string { return "gemini" }

func (s *scriptedLLM) lastRequest() agent.LLMRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

type llmFactory struct{ llm agent.LLMProvider }

func (f llmFactory) NewProvider(context.Context, agent.AuthProfile) (agent.LLMProvider, error) {
	return f.llm, nil
}

type fakeSTT struct{ transcript voice.Transcript }

func (f fakeSTT) Transcribe(context.Context, []byte) (voice.Transcript, error) {
	return f.transcript, nil
}
func (f fakeSTT) Provider() string { return "fake" }

type fakeTTS struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeTTS) Synthesize(_ context.Context, text, v string) (voice.Speech, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, v+"|"+text)
	return voice.Speech{WAV: []byte(text), Voice: v}, nil
}
func (f *fakeTTS) Provider() string { return "fake" }

type fixture struct {
	manager  *Manager
	llm      *scriptedLLM
	sessions *session.SessionManager
	dir      string
	tts      *fakeTTS
}

func newFixture(t *testing.T, responses ...*agent.LLMResponse) *fixture {
	t.Helper()
	dir := t.TempDir()

	sessions, err := session.New(filepath.Join(dir, "sessions"))
	require.NoError(t, err)
	queue := commandqueue.New()
	t.Cleanup(func() { _ = queue.Close() })

	llm := &scriptedLLM{responses: responses}
	runner, err := agent.NewRunner(agent.Options{
		Sessions:        sessions,
		Queue:           queue,
		Logger:          zerolog.New(io.Discard),
		AuthProfiles:    []agent.AuthProfile{{ID: "gemini", Provider: "gemini", APIKey: "k", Priority: 1}},
		ProviderFactory: llmFactory{llm: llm},
	})
	require.NoError(t, err)

	store, err := records.NewFileStore(filepath.Join(dir, "records"), nil)
	require.NoError(t, err)

	library := content.NewStaticLibrary(
		[]content.Concept{{ID: "loops", Title: "Loops", Summary: "Loops repeat work.", SampleQuestion: "Why use a loop?"}},
		nil,
		[]content.Product{{ID: "pasta_spaghetti", Name: "Spaghetti", Price: 90}, {ID: "tomato_sauce", Name: "Tomato Sauce", Price: 60}},
	)

	tts := &fakeTTS{}
	manager, err := NewManager(Options{
		Registry:  persona.DefaultRegistry(),
		Runner:    runner,
		Sessions:  sessions,
		Library:   library,
		Records:   store,
		Carts:     cart.NewMemoryStore(0),
		STT:       fakeSTT{transcript: voice.Transcript{Text: "quiz", Duration: 1.25}},
		TTS:       tts,
		Tokenizer: voice.SentenceTokenizer{MinSentenceLen: 2},
		Usage:     observability.NewUsageCollector(nil),
		Logger:    zerolog.New(io.Discard),
	})
	require.NoError(t, err)

	return &fixture{manager: manager, llm: llm, sessions: sessions, dir: dir, tts: tts}
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Options{})
	assert.Error(t, err)
	_, err = NewManager(Options{Registry: persona.DefaultRegistry()})
	assert.Error(t, err)
}

func TestManager_CreateAndClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Create(ctx, "pirate", CreateOptions{})
	assert.ErrorIs(t, err, persona.ErrUnknownPersona)

	s, err := f.manager.Create(ctx, persona.BaristaID, CreateOptions{Room: "client-1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s.Key(), "barista-"))
	assert.Equal(t, 1, f.manager.Count())

	got, ok := f.manager.Get(s.Key())
	require.True(t, ok)
	assert.Same(t, s, got)

	_, err = f.manager.Create(ctx, persona.BaristaID, CreateOptions{Key: s.Key()})
	assert.ErrorIs(t, err, ErrSessionExists)

	_, err = f.manager.Create(ctx, persona.BaristaID, CreateOptions{Key: "../escape"})
	assert.Error(t, err)

	infos := f.manager.Active()
	require.Len(t, infos, 1)
	assert.Equal(t, "client-1", infos[0].Room)

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, 0, f.manager.Count())

	_, err = s.HandleText(ctx, "hello")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestNewSessionKey(t *testing.T) {
	a, err := NewSessionKey("tutor")
	require.NoError(t, err)
	b, err := NewSessionKey("tutor")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("tutor-")+12)
	assert.NoError(t, session.ValidateSessionKey(a))
}

func TestSession_StartRecordsGreeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.manager.Create(ctx, persona.SDRID, CreateOptions{})
	require.NoError(t, err)
	reply, err := s.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hi, I'm Jhonathan from Moonbill. What brought you here today?", reply.Text())

	msgs, err := f.sessions.Messages(ctx, s.Key(), 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "assistant", msgs[0].Role)
	assert.Equal(t, SourceGreeting, msgs[0].Metadata["source"])
}

func TestSession_ScriptedTurnsAreRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.manager.Create(ctx, persona.TutorID, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "en-US-matthew", s.Voice())

	reply, err := s.HandleText(ctx, "quiz me")
	require.NoError(t, err)
	assert.Equal(t, "Quiz mode activated. Which concept?", reply.Text())
	assert.Equal(t, "en-US-alicia", reply.Voice)
	assert.Equal(t, "en-US-alicia", s.Voice())

	reply, err = s.HandleText(ctx, "loops")
	require.NoError(t, err)
	assert.Equal(t, "Why use a loop?", reply.Text())
	assert.Equal(t, "en-US-alicia", reply.Voice)

	_, err = s.HandleText(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	msgs, err := f.sessions.Messages(ctx, s.Key(), 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "quiz me", msgs[0].Content)
	assert.Equal(t, SourceScripted, msgs[1].Metadata["source"])
	assert.Empty(t, f.llm.requests)
	assert.Equal(t, 2, s.Info().Turns)
}

func TestSession_LLMTurnWithTools(t *testing.T) {
	f := newFixture(t,
		&agent.LLMResponse{
			ToolCalls: []agent.ToolCall{{ID: "c1", Name: "save_order", Parameters: map[string]interface{}{
				"drinkType": "latte", "size": "small", "milk": "oat", "extras": []interface{}{}, "name": "Asha",
			}}},
			Usage: &agent.TokenUsage{InputTokens: 100, OutputTokens: 20},
		},
		&agent.LLMResponse{
			Content: "Your latte is saved.",
			Usage:   &agent.TokenUsage{InputTokens: 150, OutputTokens: 10},
		},
	)
	ctx := context.Background()

	s, err := f.manager.Create(ctx, persona.BaristaID, CreateOptions{})
	require.NoError(t, err)

	reply, err := s.HandleText(ctx, "Yes, that's right, save it")
	require.NoError(t, err)
	assert.Equal(t, "Your latte is saved.", reply.Text())
	assert.Equal(t, persona.DefaultVoice, reply.Voice)

	req := f.llm.lastRequest()
	assert.Contains(t, req.SystemPrompt, "MoonBrew Cafe")
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "save_order", req.Tools[0].Name)

	// The tool result fed back to the model carries the saved file path.
	last := req.Messages[len(req.Messages)-1]
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(last.Content), &out))
	assert.Equal(t, "saved", out["status"])
	_, err = os.Stat(out["filepath"].(string))
	assert.NoError(t, err)

	usage := s.Usage().Summary()
	assert.Equal(t, int64(2), usage.LLMRequests)
	assert.Equal(t, int64(250), usage.LLMInputTokens)
	assert.Equal(t, int64(30), f.manager.Usage().Summary().LLMOutputTokens)
}

func TestSession_GameMasterRestartClearsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.manager.Create(ctx, persona.GameMasterID, CreateOptions{})
	require.NoError(t, err)

	_, err = s.HandleText(ctx, "I am Kira, a rogue")
	require.NoError(t, err)
	_, err = s.HandleText(ctx, "I climb the tower")
	require.NoError(t, err)
	assert.Len(t, f.llm.lastRequest().Messages, 3)

	_, err = s.HandleText(ctx, "let's start over")
	require.NoError(t, err)
	assert.Len(t, f.llm.lastRequest().Messages, 1)
}

func TestSession_HandleAudioAndSpeak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.manager.Create(ctx, persona.TutorID, CreateOptions{})
	require.NoError(t, err)

	transcript, reply, err := s.HandleAudio(ctx, []byte("wav"))
	require.NoError(t, err)
	assert.Equal(t, "quiz", transcript.Text)
	assert.Equal(t, "Quiz mode activated. Which concept?", reply.Text())

	var chunks []string
	speech, err := s.Speak(ctx, reply, func(text string, _ voice.Speech) error {
		chunks = append(chunks, text)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, speech, 2)
	assert.Equal(t, []string{"Quiz mode activated.", "Which concept?"}, chunks)
	assert.Equal(t, []string{"en-US-alicia|Quiz mode activated.", "en-US-alicia|Which concept?"}, f.tts.calls)

	usage := s.Usage().Summary()
	assert.Equal(t, int64(1), usage.STTRequests)
	assert.InDelta(t, 1.25, usage.STTAudioSeconds, 1e-9)
	assert.Equal(t, int64(2), usage.TTSRequests)
	assert.Equal(t, int64(len("Quiz mode activated.")+len("Which concept?")), usage.TTSCharacters)
}

func TestSession_NoSpeechConfigured(t *testing.T) {
	f := newFixture(t)
	f.manager.opts.STT = nil
	f.manager.opts.TTS = nil
	ctx := context.Background()

	s, err := f.manager.Create(ctx, persona.TutorID, CreateOptions{})
	require.NoError(t, err)
	_, _, err = s.HandleAudio(ctx, []byte("wav"))
	assert.ErrorIs(t, err, ErrNoSpeech)
	_, err = s.Speak(ctx, persona.Reply{Lines: []string{"hi"}}, nil)
	assert.ErrorIs(t, err, ErrNoSpeech)
}

func TestManager_CloseAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{persona.TutorID, persona.ShoppingID, persona.FraudID} {
		_, err := f.manager.Create(ctx, id, CreateOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.manager.Count())
	f.manager.CloseAll(ctx)
	assert.Equal(t, 0, f.manager.Count())
}

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/voicedesk/pkg/agent"
	"github.com/harun/voicedesk/pkg/commandqueue"
	"github.com/harun/voicedesk/pkg/content"
	"github.com/harun/voicedesk/pkg/conversation"
	"github.com/harun/voicedesk/pkg/persona"
	"github.com/harun/voicedesk/pkg/session"
	"github.com/harun/voicedesk/pkg/voice"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoLLM struct{}

func (echoLLM) Call(_ context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	return &agent.LLMResponse{Content: "You said something."}, nil
}

func (echoLLM) Provider() string { return "gemini" }

type echoFactory struct{}

func (echoFactory) NewProvider(context.Context, agent.AuthProfile) (agent.LLMProvider, error) {
	return echoLLM{}, nil
}

type fakeSTT struct{ text string }

func (f fakeSTT) Transcribe(context.Context, []byte) (voice.Transcript, error) {
	return voice.Transcript{Text: f.text, Confidence: 0.9, Duration: 0.5}, nil
}

func (fakeSTT) Provider() string { return "fake" }

type fakeTTS struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeTTS) Synthesize(_ context.Context, text, v string) (voice.Speech, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return voice.Speech{WAV: []byte("RIFF" + text), Voice: v}, nil
}

func (*fakeTTS) Provider() string { return "fake" }

type testGateway struct {
	server  *Server
	http    *httptest.Server
	manager *conversation.Manager
}

func newTestGateway(t *testing.T, cfg Config) *testGateway {
	t.Helper()
	dir := t.TempDir()

	sessions, err := session.New(filepath.Join(dir, "sessions"))
	require.NoError(t, err)
	queue := commandqueue.New()
	t.Cleanup(func() { _ = queue.Close() })

	runner, err := agent.NewRunner(agent.Options{
		Sessions:        sessions,
		Queue:           queue,
		Logger:          zerolog.New(io.Discard),
		AuthProfiles:    []agent.AuthProfile{{ID: "gemini", Provider: "gemini", APIKey: "k", Priority: 1}},
		ProviderFactory: echoFactory{},
	})
	require.NoError(t, err)

	manager, err := conversation.NewManager(conversation.Options{
		Registry: persona.DefaultRegistry(),
		Runner:   runner,
		Sessions: sessions,
		Library: content.NewStaticLibrary(
			[]content.Concept{{ID: "loops", Title: "Loops", Summary: "Loops repeat work.", SampleQuestion: "Why use a loop?"}},
			nil, nil,
		),
		STT:    fakeSTT{text: "quiz"},
		TTS:    &fakeTTS{},
		Logger: zerolog.New(io.Discard),
	})
	require.NoError(t, err)

	cfg.Manager = manager
	cfg.Logger = zerolog.New(io.Discard)
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = time.Second
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testGateway{server: srv, http: ts, manager: manager}
}

func (g *testGateway) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(g.http.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readEvent returns the next JSON event and the number of binary frames
// skipped before it.
func readEvent(t *testing.T, conn *websocket.Conn) (EventMessage, int) {
	t.Helper()
	frames := 0
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		messageType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if messageType == websocket.BinaryMessage {
			frames++
			continue
		}
		var msg EventMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg, frames
	}
}

func dataMap(t *testing.T, msg EventMessage) map[string]interface{} {
	t.Helper()
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok, "event %s has no object data", msg.Event)
	return data
}

func tone(n int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(float64(i)*0.3))
	}
	return out
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{Port: 8787})
	assert.Error(t, err)
	_, err = NewServer(Config{Port: 70000, Manager: &conversation.Manager{}})
	assert.Error(t, err)
}

func TestServer_HTTPEndpoints(t *testing.T) {
	g := newTestGateway(t, Config{})

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(g.http.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("personas", func(t *testing.T) {
		resp, err := http.Get(g.http.URL + "/personas")
		require.NoError(t, err)
		defer resp.Body.Close()

		var infos []persona.Info
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
		ids := make([]string, 0, len(infos))
		for _, info := range infos {
			ids = append(ids, info.ID)
		}
		assert.Contains(t, ids, persona.TutorID)
		assert.Contains(t, ids, persona.BaristaID)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(g.http.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestServer_RejectsBadCalls(t *testing.T) {
	g := newTestGateway(t, Config{SharedSecret: "secret"})

	tests := []struct {
		name  string
		query string
		code  int
	}{
		{"missing persona", "token=secret", http.StatusBadRequest},
		{"missing token", "persona=tutor", http.StatusUnauthorized},
		{"wrong token", "persona=tutor&token=nope", http.StatusUnauthorized},
		{"unknown persona", "persona=pirate&token=secret", http.StatusNotFound},
		{"bad session key", "persona=tutor&token=secret&session=..%2Fetc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wsURL := "ws" + strings.TrimPrefix(g.http.URL, "http") + "/ws?" + tt.query
			_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
	assert.Equal(t, 0, g.manager.Count())
}

func TestServer_TextCall(t *testing.T) {
	g := newTestGateway(t, Config{SharedSecret: "secret"})
	token := NewAuthHandler("secret").SignPersona(persona.TutorID)
	conn := g.dial(t, "persona=tutor&token="+token)

	started, _ := readEvent(t, conn)
	assert.Equal(t, EventSessionStarted, started.Event)
	data := dataMap(t, started)
	assert.Equal(t, persona.TutorID, data["persona"])
	assert.NotEmpty(t, data["greeting"])
	key, _ := data["session_key"].(string)
	assert.True(t, strings.HasPrefix(key, "tutor-"))

	end, frames := readEvent(t, conn)
	assert.Equal(t, EventAgentAudioEnd, end.Event)
	assert.Greater(t, frames, 0)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: EventUserText, Text: "quiz"}))
	reply, _ := readEvent(t, conn)
	assert.Equal(t, EventAgentText, reply.Event)
	assert.Equal(t, "Quiz mode activated. Which concept?", dataMap(t, reply)["text"])
	assert.Equal(t, persona.ModeVoices[persona.ModeQuiz], dataMap(t, reply)["voice"])
	assert.Greater(t, reply.Seq, started.Seq)

	end, frames = readEvent(t, conn)
	assert.Equal(t, EventAgentAudioEnd, end.Event)
	assert.Equal(t, float64(frames), dataMap(t, end)["chunks"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "dance"}))
	bad, _ := readEvent(t, conn)
	assert.Equal(t, EventError, bad.Event)
	assert.Equal(t, CodeBadRequest, dataMap(t, bad)["code"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: EventSessionEnd}))
	assert.Eventually(t, func() bool { return g.manager.Count() == 0 }, 3*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return len(g.server.Clients()) == 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestServer_AudioCall(t *testing.T) {
	g := newTestGateway(t, Config{VAD: voice.VADConfig{SampleRate: 16000, Threshold: 1000, MinSpeechMs: 100, SilenceMs: 200}})
	conn := g.dial(t, "persona=tutor")

	started, _ := readEvent(t, conn)
	require.Equal(t, EventSessionStarted, started.Event)
	end, _ := readEvent(t, conn)
	require.Equal(t, EventAgentAudioEnd, end.Event)

	audio := append(tone(16*300, 8000), make([]int16, 16*300)...)
	for i := 0; i < len(audio); i += 320 {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, voice.PCMToBytes(audio[i:i+320])))
	}

	transcript, _ := readEvent(t, conn)
	assert.Equal(t, EventUserTranscript, transcript.Event)
	assert.Equal(t, "quiz", dataMap(t, transcript)["text"])

	reply, _ := readEvent(t, conn)
	assert.Equal(t, EventAgentText, reply.Event)
	assert.Equal(t, "Quiz mode activated. Which concept?", dataMap(t, reply)["text"])
}

func TestServer_RateLimit(t *testing.T) {
	g := newTestGateway(t, Config{TurnsPerMinute: 1})
	conn := g.dial(t, "persona=tutor")
	readEvent(t, conn)
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: EventUserText, Text: "learn"}))
	reply, _ := readEvent(t, conn)
	assert.Equal(t, EventAgentText, reply.Event)
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: EventUserText, Text: "quiz"}))
	limited, _ := readEvent(t, conn)
	assert.Equal(t, EventError, limited.Event)
	assert.Equal(t, CodeRateLimited, dataMap(t, limited)["code"])
}

func TestServer_BroadcastAndStop(t *testing.T) {
	g := newTestGateway(t, Config{})
	conn := g.dial(t, "persona=tutor")
	readEvent(t, conn)
	readEvent(t, conn)

	assert.Equal(t, 1, g.server.Broadcast(EventContentReloaded, map[string]interface{}{"concepts": 1}))
	reloaded, _ := readEvent(t, conn)
	assert.Equal(t, EventContentReloaded, reloaded.Event)

	require.NoError(t, g.server.Stop())
	shutdown, _ := readEvent(t, conn)
	assert.Equal(t, EventServerShutdown, shutdown.Event)
	assert.Eventually(t, func() bool { return g.manager.Count() == 0 }, 3*time.Second, 20*time.Millisecond)

	resp, err := http.Get(g.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestClientRegistry(t *testing.T) {
	registry := NewClientRegistry()
	registry.Add(&Client{ID: "a", Persona: "tutor", SessionKey: "tutor-1", ConnectedAt: time.Now().Add(-time.Minute), LastActivity: time.Now().Add(-10 * time.Minute)})
	registry.Add(&Client{ID: "b", Persona: "sdr", SessionKey: "sdr-1", ConnectedAt: time.Now(), LastActivity: time.Now()})

	assert.Equal(t, 2, registry.Count())
	assert.Equal(t, map[string]int{"tutor": 1, "sdr": 1}, registry.PersonaCounts())

	infos := registry.Connected()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].ID)
	assert.True(t, infos[0].Idle)
	assert.False(t, infos[1].Idle)

	registry.Touch("a")
	client, ok := registry.Get("a")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), client.LastActivity, time.Second)

	assert.Empty(t, registry.InCall())
	client.setState(StateInCall)
	assert.Len(t, registry.InCall(), 1)

	registry.Remove("a")
	_, ok = registry.Get("a")
	assert.False(t, ok)
}

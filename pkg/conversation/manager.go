package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/voicedesk/internal/observability"
	"github.com/harun/voicedesk/pkg/agent"
	"github.com/harun/voicedesk/pkg/cart"
	"github.com/harun/voicedesk/pkg/content"
	"github.com/harun/voicedesk/pkg/persona"
	"github.com/harun/voicedesk/pkg/records"
	"github.com/harun/voicedesk/pkg/session"
	"github.com/harun/voicedesk/pkg/toolexecutor"
	"github.com/harun/voicedesk/pkg/voice"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// ErrSessionExists is returned when a caller-chosen key is already active.
var ErrSessionExists = errors.New("session already active")

// Options wires a Manager. Registry and Runner are required.
type Options struct {
	Registry   *persona.Registry
	Runner     *agent.Runner
	Sessions   *session.SessionManager
	Library    *content.Library
	Records    *records.FileStore
	FraudCases *records.FraudCases
	Carts      cart.Store

	STT       voice.STT
	TTS       voice.TTS
	Tokenizer voice.SentenceTokenizer

	AgentConfig  agent.Config
	ToolPolicy   *toolexecutor.ToolPolicy
	ToolTimeout  time.Duration
	HistoryLimit int

	// Usage is the process-wide collector every session reports into.
	Usage  *observability.UsageCollector
	Logger zerolog.Logger
}

// Manager creates call sessions and tracks the active ones.
type Manager struct {
	opts   Options
	runner *agent.Runner

	mu     sync.RWMutex
	active map[string]*Session
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("persona registry is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("agent runner is required")
	}
	if opts.AgentConfig.Model == "" {
		opts.AgentConfig = agent.DefaultConfig()
	}
	if opts.Tokenizer.MinSentenceLen <= 0 {
		opts.Tokenizer.MinSentenceLen = 2
	}
	if opts.Usage == nil {
		opts.Usage = observability.NewUsageCollector(nil)
	}
	observability.EnsureRegistered()

	return &Manager{
		opts:   opts,
		runner: opts.Runner,
		active: make(map[string]*Session),
	}, nil
}

// Usage returns the process-wide usage collector.
func (m *Manager) Usage() *observability.UsageCollector {
	return m.opts.Usage
}

// Personas lists the registered personas.
func (m *Manager) Personas() []persona.Info {
	return m.opts.Registry.List()
}

// NewSessionKey returns "<persona>-<nanoid>".
func NewSessionKey(personaID string) (string, error) {
	id, err := gonanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 12)
	if err != nil {
		return "", err
	}
	return personaID + "-" + id, nil
}

// CreateOptions customizes one session.
type CreateOptions struct {
	// Key reuses a transcript; empty generates a new key.
	Key string
	// Room tags logs and spans, e.g. the gateway client id.
	Room string
}

// Create builds a session for the persona.
func (m *Manager) Create(ctx context.Context, personaID string, opts CreateOptions) (*Session, error) {
	if !m.opts.Registry.Has(personaID) {
		return nil, fmt.Errorf("%w: %s", persona.ErrUnknownPersona, personaID)
	}

	key := opts.Key
	if key == "" {
		var err error
		if key, err = NewSessionKey(personaID); err != nil {
			return nil, fmt.Errorf("failed to generate session key: %w", err)
		}
	}
	if err := session.ValidateSessionKey(key); err != nil {
		return nil, err
	}

	p, err := m.opts.Registry.New(personaID, persona.Deps{
		Library:    m.opts.Library,
		Records:    m.opts.Records,
		FraudCases: m.opts.FraudCases,
		Carts:      m.opts.Carts,
		Sessions:   m.opts.Sessions,
		SessionKey: key,
	})
	if err != nil {
		return nil, err
	}

	tools := toolexecutor.New()
	if err := tools.RegisterAll(p.Tools()); err != nil {
		return nil, fmt.Errorf("failed to register %s tools: %w", personaID, err)
	}

	s := &Session{
		key:       key,
		room:      opts.Room,
		persona:   p,
		tools:     tools,
		manager:   m,
		usage:     observability.NewUsageCollector(m.opts.Usage),
		logger:    m.opts.Logger.With().Str("component", "conversation").Logger(),
		startedAt: time.Now(),
		voice:     p.Voice(),
	}

	m.mu.Lock()
	if _, exists := m.active[key]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, key)
	}
	m.active[key] = s
	m.mu.Unlock()

	observability.AddActiveCall(personaID, 1)
	return s, nil
}

// Get returns an active session.
func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.active[key]
	return s, ok
}

// Active lists active sessions, oldest first.
func (m *Manager) Active() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CloseAll ends every active session.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		_ = s.Close(ctx)
	}
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	current, ok := m.active[s.key]
	if ok && current == s {
		delete(m.active, s.key)
	}
	m.mu.Unlock()
	if ok && current == s {
		observability.AddActiveCall(s.persona.ID(), -1)
	}
}

package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/voicedesk/internal/config"
	"github.com/harun/voicedesk/internal/logger"
	"github.com/harun/voicedesk/internal/observability"
	"github.com/harun/voicedesk/internal/tracing"
	"github.com/harun/voicedesk/pkg/agent"
	"github.com/harun/voicedesk/pkg/cart"
	"github.com/harun/voicedesk/pkg/commandqueue"
	"github.com/harun/voicedesk/pkg/content"
	"github.com/harun/voicedesk/pkg/conversation"
	"github.com/harun/voicedesk/pkg/gateway"
	"github.com/harun/voicedesk/pkg/persona"
	"github.com/harun/voicedesk/pkg/records"
	"github.com/harun/voicedesk/pkg/session"
	"github.com/harun/voicedesk/pkg/toolexecutor"
	"github.com/harun/voicedesk/pkg/voice"
)

// Version is stamped into traces and the CLI.
var Version = "0.1.0"

const serviceName = "voicedesk"

// newProviderFactory builds LLM clients; tests swap it for a fake.
var newProviderFactory = func() agent.ProviderCreator {
	return &agent.ProviderFactory{}
}

// Daemon owns every long-lived component of the voice agent service.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	queue      *commandqueue.CommandQueue
	sessionMgr *session.SessionManager
	cleanup    *session.Cleanup
	library    *content.Library
	watcher    *content.Watcher
	mirror     *records.SQLiteMirror
	records    *records.FileStore
	fraudCases *records.FraudCases
	carts      cart.Store
	registry   *persona.Registry
	runner     *agent.Runner
	stt        voice.STT
	tts        voice.TTS
	usage      *observability.UsageCollector
	manager    *conversation.Manager

	gatewayServer *gateway.Server
	lifecycle     *LifecycleManager

	startTime time.Time
	running   bool
	closed    bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is a snapshot of the daemon.
type Status struct {
	Running     bool
	Uptime      time.Duration
	StartTime   time.Time
	ActiveCalls int
}

// New wires every component. Nothing listens or runs in the background until
// Start, so the CLI can also use a daemon for one-off console calls.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
		usage:  observability.NewUsageCollector(nil),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(serviceName, Version, cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Msg("Tracing initialized successfully")
		}
	}

	if err := d.initializeStores(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize stores: %w", err)
	}
	if err := d.initializeAgent(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize agent: %w", err)
	}
	if err := d.initializeServices(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

// initializeStores opens content, records, carts and transcripts.
func (d *Daemon) initializeStores() error {
	cfg := d.config
	ctx := context.Background()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	auditPath := filepath.Join(cfg.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	d.queue = commandqueue.New()

	sessionMgr, err := session.New(cfg.Sessions.Dir)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	d.sessionMgr = sessionMgr

	cleanup, err := session.NewCleanup(sessionMgr, session.CleanupConfig{
		Schedule:  cfg.Sessions.CleanupSchedule,
		Retention: time.Duration(cfg.Sessions.RetentionDays) * 24 * time.Hour,
		IsActive:  d.isActiveCall,
		AfterRun:  d.sweepCarts,
	})
	if err != nil {
		return fmt.Errorf("failed to create session cleanup: %w", err)
	}
	d.cleanup = cleanup
	d.logger.Info().Str("dir", cfg.Sessions.Dir).Msg("Session manager initialized")

	d.library = content.NewLibrary(content.Paths{
		Concepts: cfg.ContentPath(cfg.Content.ConceptsFile),
		FAQ:      cfg.ContentPath(cfg.Content.FAQFile),
		Catalog:  cfg.ContentPath(cfg.Content.CatalogFile),
	})
	stats := d.library.Stats()
	d.logger.Info().
		Int("concepts", stats.Concepts).
		Int("faq", stats.FAQ).
		Int("catalog", stats.Catalog).
		Msg("Content loaded")

	if cfg.Records.SQLitePath != "" {
		mirror, err := records.OpenSQLiteMirror(ctx, cfg.Records.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open record mirror: %w", err)
		}
		d.mirror = mirror
	}
	store, err := records.NewFileStore(cfg.Records.Dir, d.mirror)
	if err != nil {
		return fmt.Errorf("failed to create record store: %w", err)
	}
	d.records = store
	d.fraudCases = records.NewFraudCases(cfg.Records.FraudCases)
	d.logger.Info().
		Str("dir", cfg.Records.Dir).
		Bool("sqlite_mirror", d.mirror != nil).
		Msg("Record store initialized")

	carts, err := openCartStore(ctx, cfg.Cart)
	if err != nil {
		return err
	}
	d.carts = carts
	d.logger.Info().Str("backend", cfg.Cart.Backend).Msg("Cart store initialized")
	return nil
}

func openCartStore(ctx context.Context, cfg config.CartConfig) (cart.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return cart.NewMemoryStore(time.Duration(cfg.TTLSeconds) * time.Second), nil
	case "redis":
		store, err := cart.NewRedisStore(ctx, cart.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      time.Duration(cfg.TTLSeconds) * time.Second,
			Prefix:   serviceName + ":cart:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect cart store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cart backend: %s", cfg.Backend)
	}
}

// sweepCarts drops expired in-memory carts after each session cleanup pass.
func (d *Daemon) sweepCarts(ctx context.Context) {
	sweeper, ok := d.carts.(cart.Sweeper)
	if !ok {
		return
	}
	if n := sweeper.Sweep(ctx); n > 0 {
		d.logger.Info().Int("carts", n).Msg("Expired carts removed")
	}
}

// initializeAgent builds personas, the LLM runner and the speech clients.
func (d *Daemon) initializeAgent() error {
	cfg := d.config

	d.registry = persona.DefaultRegistry()
	if cfg.Content.PromptsFile != "" {
		overrides, err := persona.LoadPromptOverrides(cfg.Content.PromptsFile)
		if err != nil {
			d.logger.Warn().Err(err).Str("path", cfg.Content.PromptsFile).Msg("Failed to load prompt overrides")
		} else {
			d.registry.SetOverrides(overrides)
			d.logger.Info().Int("personas", len(overrides)).Msg("Prompt overrides loaded")
		}
	}

	profiles := make([]agent.AuthProfile, 0, len(cfg.AI.Profiles))
	for _, p := range cfg.AI.Profiles {
		profiles = append(profiles, agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Model:    p.Model,
			Priority: p.Priority,
		})
	}

	runner, err := agent.NewRunner(agent.Options{
		Sessions:        d.sessionMgr,
		Queue:           d.queue,
		Logger:          d.logger.Component("agent"),
		AuthProfiles:    profiles,
		ProviderFactory: newProviderFactory(),
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}
	d.runner = runner
	d.logger.Info().Int("profiles", len(profiles)).Msg("Agent runner initialized")

	d.stt, d.tts = NewSpeech(cfg.Speech)
	d.logger.Info().
		Bool("stt", d.stt != nil).
		Bool("tts", d.tts != nil).
		Msg("Speech services initialized")
	return nil
}

// NewSpeech builds the Deepgram and Murf clients. A client without an API
// key is left nil and calls on that side stay text-only.
func NewSpeech(cfg config.SpeechConfig) (voice.STT, voice.TTS) {
	var stt voice.STT
	var tts voice.TTS
	if cfg.STT.APIKey != "" {
		stt = voice.NewDeepgramSTT(voice.DeepgramConfig{
			APIKey:   cfg.STT.APIKey,
			BaseURL:  cfg.STT.BaseURL,
			Model:    cfg.STT.Model,
			Language: cfg.STT.Language,
			Timeout:  time.Duration(cfg.STT.TimeoutSeconds) * time.Second,
		})
	}
	if cfg.TTS.APIKey != "" {
		tts = voice.NewMurfTTS(voice.MurfConfig{
			APIKey:     cfg.TTS.APIKey,
			BaseURL:    cfg.TTS.BaseURL,
			Voice:      cfg.TTS.Voice,
			Style:      cfg.TTS.Style,
			SampleRate: cfg.TTS.SampleRate,
			Timeout:    time.Duration(cfg.TTS.TimeoutSeconds) * time.Second,
		})
	}
	return stt, tts
}

// initializeServices builds the conversation manager and the gateway.
func (d *Daemon) initializeServices() error {
	cfg := d.config

	var policy *toolexecutor.ToolPolicy
	if len(cfg.Tools.Allow) > 0 || len(cfg.Tools.Deny) > 0 {
		policy = &toolexecutor.ToolPolicy{Allow: cfg.Tools.Allow, Deny: cfg.Tools.Deny}
	}

	manager, err := conversation.NewManager(conversation.Options{
		Registry:   d.registry,
		Runner:     d.runner,
		Sessions:   d.sessionMgr,
		Library:    d.library,
		Records:    d.records,
		FraudCases: d.fraudCases,
		Carts:      d.carts,
		STT:        d.stt,
		TTS:        d.tts,
		Tokenizer:  voice.SentenceTokenizer{MinSentenceLen: cfg.Speech.TTS.MinSentenceLen},
		AgentConfig: agent.Config{
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
			MaxRetries:  cfg.AI.MaxRetries,
		},
		ToolPolicy:  policy,
		ToolTimeout: time.Duration(cfg.Tools.TimeoutSeconds) * time.Second,
		Usage:       d.usage,
		Logger:      d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation manager: %w", err)
	}
	d.manager = manager

	vad := cfg.Speech.VAD
	gatewayServer, err := gateway.NewServer(gateway.Config{
		Host:         cfg.Gateway.Host,
		Port:         cfg.Gateway.Port,
		SharedSecret: cfg.Gateway.SharedSecret,
		Manager:      manager,
		VAD: voice.VADConfig{
			SampleRate:  vad.SampleRate,
			Threshold:   vad.Threshold,
			MinSpeechMs: vad.MinSpeechMs,
			SilenceMs:   vad.SilenceMs,
		},
		Logger: d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = gatewayServer
	return nil
}

func (d *Daemon) isActiveCall(sessionKey string) bool {
	if d.manager == nil {
		return false
	}
	_, ok := d.manager.Get(sessionKey)
	return ok
}

// onContentReload tells live callers that content changed.
func (d *Daemon) onContentReload(stats content.Stats) {
	d.logger.Info().
		Int("concepts", stats.Concepts).
		Int("faq", stats.FAQ).
		Int("catalog", stats.Catalog).
		Msg("Content reloaded")
	if d.gatewayServer != nil {
		d.gatewayServer.Broadcast(gateway.EventContentReloaded, stats)
	}
}

// Start writes the PID file and starts the watcher, cleanup and gateway.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("daemon is closed")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Str("version", Version).Msg("Starting voicedesk daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.config.Content.Watch {
		watcher, err := content.NewWatcher(d.library, d.logger.Component("content"), content.DefaultDebounce, d.onContentReload)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to start content watcher")
		} else {
			d.watcher = watcher
			logger.Info().Msg("Content watcher started")
		}
	}

	if err := d.cleanup.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start session cleanup")
	} else {
		logger.Info().Time("next_run", d.cleanup.NextRun()).Msg("Session cleanup started")
	}

	if err := d.gatewayServer.Start(); err != nil {
		d.setStopped()
		_ = d.lifecycle.Stop()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	logger.Info().Msg("Daemon started successfully")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop drains calls and turns, then releases every resource.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping voicedesk daemon")

	if err := d.gatewayServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop content watcher")
		}
	}

	if d.cleanup.IsRunning() {
		d.cleanup.Stop()
		logger.Info().Msg("Session cleanup stopped")
	}

	d.release()

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// Close releases a daemon that was never started.
func (d *Daemon) Close() error {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()
	if running {
		return d.Stop()
	}
	d.release()
	return nil
}

// release ends calls, drains the queue and closes stores. It runs once.
func (d *Daemon) release() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	logger := d.logger.GetZerolog()

	if d.manager != nil {
		d.manager.CloseAll(context.Background())
	}

	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close command queue")
		}
		logger.Info().Msg("Command queue stopped")
	}

	if d.carts != nil {
		if err := d.carts.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close cart store")
		}
	}

	if d.mirror != nil {
		if err := d.mirror.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close record mirror")
		}
	}

	if d.sessionMgr != nil {
		if err := d.sessionMgr.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close session manager")
		}
	}

	d.usage.LogSummary(logger, "Process usage summary")

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.CloseAuditLogger(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}
}

// Status returns whether the daemon runs and how many calls are live.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	if d.manager != nil {
		status.ActiveCalls = d.manager.Count()
	}
	return status
}

// Wait blocks until SIGINT or SIGTERM, or ctx ends, then stops the daemon.
func (d *Daemon) Wait(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case <-ctx.Done():
		d.logger.Info().Msg("Context done")
	}

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

func (d *Daemon) GetConfig() *config.Config { return d.config }
func (d *Daemon) GetLogger() *logger.Logger { return d.logger }
func (d *Daemon) GetQueue() *commandqueue.CommandQueue { return d.queue }
func (d *Daemon) GetSessionManager() *session.SessionManager { return d.sessionMgr }
func (d *Daemon) GetCleanup() *session.Cleanup { return d.cleanup }
func (d *Daemon) GetLibrary() *content.Library { return d.library }
func (d *Daemon) GetRecords() *records.FileStore { return d.records }
func (d *Daemon) GetMirror() *records.SQLiteMirror { return d.mirror }
func (d *Daemon) GetAgentRunner() *agent.Runner { return d.runner }
func (d *Daemon) GetManager() *conversation.Manager { return d.manager }
func (d *Daemon) GetGatewayServer() *gateway.Server { return d.gatewayServer }
func (d *Daemon) GetUsage() *observability.UsageCollector { return d.usage }
func (d *Daemon) GetSTT() voice.STT { return d.stt }
func (d *Daemon) GetTTS() voice.TTS { return d.tts }

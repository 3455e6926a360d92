package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/voicedesk/internal/observability"
	"github.com/harun/voicedesk/pkg/conversation"
	"github.com/harun/voicedesk/pkg/persona"
	"github.com/harun/voicedesk/pkg/session"
	"github.com/harun/voicedesk/pkg/voice"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	writeTimeout        = 10 * time.Second
	defaultDrainTimeout = 30 * time.Second
	maxFrameBytes       = 1 << 20
)

// Server is the websocket call gateway.
type Server struct {
	host           string
	port           int
	drainTimeout   time.Duration
	turnsPerMinute int
	vad            voice.VADConfig
	server         *http.Server
	listener       net.Listener
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	authHandler    *AuthHandler
	broadcaster    *EventBroadcaster
	manager        *conversation.Manager
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightTurns  sync.WaitGroup
}

// Config holds server configuration. An empty SharedSecret leaves calls open.
type Config struct {
	Host           string
	Port           int
	SharedSecret   string
	Manager        *conversation.Manager
	VAD            voice.VADConfig
	TurnsPerMinute int
	DrainTimeout   time.Duration
	Logger         zerolog.Logger
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Manager == nil {
		return nil, fmt.Errorf("conversation manager is required")
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}

	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	clients := NewClientRegistry()

	return &Server{
		host:           cfg.Host,
		port:           cfg.Port,
		drainTimeout:   cfg.DrainTimeout,
		turnsPerMinute: cfg.TurnsPerMinute,
		vad:            cfg.VAD,
		clients:        clients,
		authHandler:    NewAuthHandler(cfg.SharedSecret),
		broadcaster:    NewEventBroadcaster(clients, logger),
		manager:        cfg.Manager,
		logger:         logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Handler returns the gateway routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/personas", s.handlePersonas)
	mux.HandleFunc("/sessions", s.handleSessions)
	return mux
}

// Start listens and serves in the background. A bind failure is returned.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting gateway")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Broadcast sends an event to every caller in a call.
func (s *Server) Broadcast(event string, data interface{}) int {
	return s.broadcaster.Broadcast(event, data)
}

// Clients describes connected callers.
func (s *Server) Clients() []ClientInfo {
	return s.clients.Connected()
}

// Stop refuses new calls, waits for in-flight turns, then closes every
// connection and the listener.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway")

	s.broadcaster.Broadcast(EventServerShutdown, map[string]interface{}{
		"message": "Server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlightTurns.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight turns completed")
	case <-time.After(s.drainTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		client.close()
	}

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.shuttingDown() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":   status,
		"clients":  s.clients.Count(),
		"sessions": s.manager.Count(),
		"personas": s.clients.PersonaCounts(),
	})
}

func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Personas())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.manager.Active(),
		"clients":  s.clients.Connected(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// handleWebSocket opens a call: /ws?persona=<id>[&token=..][&session=..].
// The session is created before the upgrade so bad requests get a plain
// HTTP status.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	personaID := query.Get("persona")
	if personaID == "" {
		http.Error(w, "persona is required", http.StatusBadRequest)
		return
	}
	if !s.authHandler.VerifyToken(personaID, query.Get("token")) {
		s.logger.Warn().Str("ip", r.RemoteAddr).Str("persona", personaID).Msg("Rejected call with bad token")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	key := query.Get("session")
	if key != "" {
		if err := session.ValidateSessionKey(key); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	clientID, err := gonanoid.New()
	if err != nil {
		http.Error(w, "failed to allocate client id", http.StatusInternalServerError)
		return
	}

	sess, err := s.manager.Create(r.Context(), personaID, conversation.CreateOptions{Key: key, Room: clientID})
	if err != nil {
		switch {
		case errors.Is(err, persona.ErrUnknownPersona):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, conversation.ErrSessionExists):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			s.logger.Error().Err(err).Str("persona", personaID).Msg("Failed to create call session")
			http.Error(w, "failed to create session", http.StatusInternalServerError)
		}
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		_ = sess.Close(context.Background())
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		Persona:      personaID,
		SessionKey:   sess.Key(),
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		Limiter:      NewTurnLimiter(s.turnsPerMinute),
		cancel:       cancel,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Str("persona", personaID).
		Str("session_key", sess.Key()).
		Msg("Caller connected")

	go s.handleCall(ctx, client, sess)
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/harun/voicedesk/pkg/conversation"
	"github.com/harun/voicedesk/pkg/persona"
	"github.com/harun/voicedesk/pkg/voice"
	"github.com/rs/zerolog"
)

// handleCall greets the caller and then reads frames until the call ends.
// Turns run inline so replies keep the order the caller spoke in.
func (s *Server) handleCall(ctx context.Context, client *Client, sess *conversation.Session) {
	logger := s.logger.With().
		Str("clientId", client.ID).
		Str("session_key", sess.Key()).
		Str("persona", client.Persona).
		Logger()

	defer func() {
		client.setState(StateClosing)
		client.close()
		s.clients.Remove(client.ID)
		if err := sess.Close(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("Failed to close call session")
		}
		logger.Info().Msg("Caller disconnected")
	}()

	greeting, err := sess.Start(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to record greeting")
	}
	client.setState(StateInCall)
	if err := client.Send(EventSessionStarted, map[string]interface{}{
		"session_key": sess.Key(),
		"persona":     client.Persona,
		"voice":       greeting.Voice,
		"greeting":    greeting.Text(),
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to send session start")
		return
	}
	s.speak(ctx, client, sess, greeting, logger)

	vad := voice.NewEnergyVAD(s.vad)
	for {
		messageType, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("Call connection dropped")
			}
			return
		}
		s.clients.Touch(client.ID)

		switch messageType {
		case websocket.BinaryMessage:
			for _, utterance := range vad.Push(voice.PCMFromBytes(data)) {
				s.handleUtterance(ctx, client, sess, vad.SampleRate(), utterance, logger)
			}

		case websocket.TextMessage:
			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = client.SendError(CodeBadRequest, "invalid message")
				continue
			}
			switch msg.Type {
			case EventUserText:
				s.handleText(ctx, client, sess, msg.Text, logger)
			case EventSessionEnd:
				logger.Debug().Msg("Caller ended the session")
				return
			default:
				_ = client.SendError(CodeBadRequest, "unknown event: "+msg.Type)
			}
		}
	}
}

// beginTurn admits a turn unless the server is draining or the caller is
// over its turn budget.
func (s *Server) beginTurn(client *Client) bool {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		_ = client.SendError(CodeTurnFailed, "server is shutting down")
		return false
	}
	allowed, reason := client.Limiter.Allow()
	if allowed {
		s.inFlightTurns.Add(1)
	}
	s.shutdownMu.RUnlock()

	if !allowed {
		_ = client.SendError(CodeRateLimited, reason)
	}
	return allowed
}

func (s *Server) handleText(ctx context.Context, client *Client, sess *conversation.Session, text string, logger zerolog.Logger) {
	if strings.TrimSpace(text) == "" {
		_ = client.SendError(CodeBadRequest, "text is required")
		return
	}
	if !s.beginTurn(client) {
		return
	}
	defer s.inFlightTurns.Done()

	reply, err := sess.HandleText(ctx, text)
	if err != nil {
		s.turnFailed(client, err, logger)
		return
	}
	s.deliver(ctx, client, sess, reply, logger)
}

func (s *Server) handleUtterance(ctx context.Context, client *Client, sess *conversation.Session, sampleRate int, samples []int16, logger zerolog.Logger) {
	if !s.beginTurn(client) {
		return
	}
	defer s.inFlightTurns.Done()

	wav, err := voice.EncodeWAV(samples, sampleRate)
	if err != nil {
		s.turnFailed(client, err, logger)
		return
	}

	transcript, reply, err := sess.HandleAudio(ctx, wav)
	if strings.TrimSpace(transcript.Text) != "" {
		_ = client.Send(EventUserTranscript, map[string]interface{}{
			"text":       transcript.Text,
			"confidence": transcript.Confidence,
			"duration":   transcript.Duration,
		})
	}
	if err != nil {
		if errors.Is(err, conversation.ErrNoSpeech) {
			_ = client.SendError(CodeNoSpeech, "speech recognition is not configured")
			return
		}
		s.turnFailed(client, err, logger)
		return
	}
	if reply.Text() == "" {
		logger.Debug().Int("samples", len(samples)).Msg("Utterance had no words")
		return
	}
	s.deliver(ctx, client, sess, reply, logger)
}

func (s *Server) deliver(ctx context.Context, client *Client, sess *conversation.Session, reply persona.Reply, logger zerolog.Logger) {
	if err := client.Send(EventAgentText, map[string]interface{}{
		"text":  reply.Text(),
		"voice": reply.Voice,
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to send reply")
		return
	}
	s.speak(ctx, client, sess, reply, logger)
}

// speak streams one WAV frame per sentence chunk and closes with
// agent.audio.end. Without TTS the call stays text-only.
func (s *Server) speak(ctx context.Context, client *Client, sess *conversation.Session, reply persona.Reply, logger zerolog.Logger) {
	if reply.Text() == "" {
		return
	}
	chunks := 0
	_, err := sess.Speak(ctx, reply, func(_ string, speech voice.Speech) error {
		chunks++
		return client.SendAudio(speech.WAV)
	})
	if errors.Is(err, conversation.ErrNoSpeech) {
		return
	}
	if err != nil {
		logger.Warn().Err(err).Int("chunks", chunks).Msg("Speech synthesis failed")
		_ = client.SendError(CodeSpeechFailed, "speech synthesis failed")
	}
	_ = client.Send(EventAgentAudioEnd, map[string]interface{}{
		"voice":  reply.Voice,
		"chunks": chunks,
	})
}

func (s *Server) turnFailed(client *Client, err error, logger zerolog.Logger) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, conversation.ErrSessionClosed):
		return
	case errors.Is(err, conversation.ErrEmptyInput):
		_ = client.SendError(CodeBadRequest, "text is required")
		return
	}
	logger.Error().Err(err).Msg("Turn failed")
	_ = client.SendError(CodeTurnFailed, "failed to process turn")
}

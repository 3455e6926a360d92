package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/harun/voicedesk/internal/observability"
	"github.com/harun/voicedesk/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultMurfURL        = "https://api.murf.ai"
	defaultMurfVoice      = "en-US-matthew"
	defaultMurfStyle      = "Conversation"
	defaultMurfSampleRate = 24000
)

// MurfConfig configures MurfTTS.
type MurfConfig struct {
	APIKey     string
	BaseURL    string
	Voice      string
	Style      string
	SampleRate int
	Timeout    time.Duration
}

// MurfTTS calls Murf's /v1/speech/generate endpoint and asks for base64 WAV.
type MurfTTS struct {
	cfg    MurfConfig
	client *http.Client
}

// NewMurfTTS creates a client. Missing fields take the service defaults.
func NewMurfTTS(cfg MurfConfig) *MurfTTS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultMurfURL
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultMurfVoice
	}
	if cfg.Style == "" {
		cfg.Style = defaultMurfStyle
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultMurfSampleRate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &MurfTTS{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (m *MurfTTS) Provider() string {
	return "murf"
}

// DefaultVoice returns the voice used when Synthesize gets none.
func (m *MurfTTS) DefaultVoice() string {
	return m.cfg.Voice
}

type murfRequest struct {
	Text           string `json:"text"`
	VoiceID        string `json:"voiceId"`
	Style          string `json:"style,omitempty"`
	Format         string `json:"format"`
	SampleRate     int    `json:"sampleRate"`
	EncodeAsBase64 bool   `json:"encodeAsBase64"`
}

type murfResponse struct {
	EncodedAudio         string  `json:"encodedAudio"`
	AudioLengthInSeconds float64 `json:"audioLengthInSeconds"`
}

// Synthesize renders text with the given voice.
func (m *MurfTTS) Synthesize(ctx context.Context, text, voice string) (_ Speech, err error) {
	if voice == "" {
		voice = m.cfg.Voice
	}

	ctx, span := tracing.StartSpan(ctx, "voicedesk.voice", "tts.synthesize",
		attribute.String("tts.provider", m.Provider()),
		attribute.String("tts.voice", voice),
		attribute.Int("tts.characters", len(text)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordSpeechRequest("tts", m.Provider(), time.Since(start), err == nil)
		if err != nil {
			tracing.FailSpan(span, err)
		}
	}()

	if m.cfg.APIKey == "" {
		return Speech{}, ErrNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		return Speech{}, fmt.Errorf("murf: empty text")
	}

	payload, err := json.Marshal(murfRequest{
		Text:           text,
		VoiceID:        voice,
		Style:          m.cfg.Style,
		Format:         "WAV",
		SampleRate:     m.cfg.SampleRate,
		EncodeAsBase64: true,
	})
	if err != nil {
		return Speech{}, fmt.Errorf("murf: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/v1/speech/generate", bytes.NewReader(payload))
	if err != nil {
		return Speech{}, fmt.Errorf("murf: %w", err)
	}
	req.Header.Set("api-key", m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return Speech{}, fmt.Errorf("murf: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Speech{}, statusError("murf", resp)
	}

	var body murfResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Speech{}, fmt.Errorf("murf: failed to decode response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(body.EncodedAudio)
	if err != nil {
		return Speech{}, fmt.Errorf("murf: failed to decode audio: %w", err)
	}
	if len(audio) == 0 {
		return Speech{}, fmt.Errorf("murf: empty audio")
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("voice", voice).
		Float64("audio_seconds", body.AudioLengthInSeconds).
		Msg("Synthesized speech")
	return Speech{WAV: audio, Duration: body.AudioLengthInSeconds, Voice: voice}, nil
}

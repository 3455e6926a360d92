package voice

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/harun/voicedesk/internal/observability"
	"github.com/harun/voicedesk/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultDeepgramURL   = "https://api.deepgram.com"
	defaultDeepgramModel = "nova-3"
)

// DeepgramConfig configures DeepgramSTT.
type DeepgramConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration
}

// DeepgramSTT transcribes prerecorded audio with the Deepgram SDK.
type DeepgramSTT struct {
	cfg    DeepgramConfig
	listen *api.Client
}

// NewDeepgramSTT creates a client. Missing fields take Deepgram defaults.
func NewDeepgramSTT(cfg DeepgramConfig) *DeepgramSTT {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDeepgramURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultDeepgramModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	d := &DeepgramSTT{cfg: cfg}
	if cfg.APIKey != "" {
		rest := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{Host: cfg.BaseURL})
		d.listen = api.New(rest)
	}
	return d
}

func (d *DeepgramSTT) Provider() string {
	return "deepgram"
}

// Transcribe sends one WAV file and returns the best alternative.
func (d *DeepgramSTT) Transcribe(ctx context.Context, wav []byte) (_ Transcript, err error) {
	ctx, span := tracing.StartSpan(ctx, "voicedesk.voice", "stt.transcribe",
		attribute.String("stt.provider", d.Provider()),
		attribute.String("stt.model", d.cfg.Model),
		attribute.Int("stt.bytes", len(wav)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordSpeechRequest("stt", d.Provider(), time.Since(start), err == nil)
		if err != nil {
			tracing.FailSpan(span, err)
		}
	}()

	if d.listen == nil {
		return Transcript{}, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	res, err := d.listen.FromStream(ctx, bytes.NewReader(wav), &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.cfg.Model,
		Language:    d.cfg.Language,
		SmartFormat: true,
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("deepgram: %w", err)
	}

	var out Transcript
	if res.Metadata != nil {
		out.Duration = res.Metadata.Duration
	}
	if res.Results != nil && len(res.Results.Channels) > 0 && len(res.Results.Channels[0].Alternatives) > 0 {
		alt := res.Results.Channels[0].Alternatives[0]
		out.Text = strings.TrimSpace(alt.Transcript)
		out.Confidence = alt.Confidence
	}

	span.SetAttributes(attribute.Float64("stt.duration_seconds", out.Duration))
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Float64("confidence", out.Confidence).
		Float64("audio_seconds", out.Duration).
		Msg("Transcribed audio")
	return out, nil
}

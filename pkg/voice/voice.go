package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNotConfigured is returned when a speech client has no API key.
var ErrNotConfigured = errors.New("speech provider not configured")

// Transcript is the result of one STT request.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	// Duration is the audio length in seconds as reported by the provider.
	Duration float64 `json:"duration"`
}

// Speech is synthesized audio for one chunk of text.
type Speech struct {
	// WAV holds a complete WAV file.
	WAV []byte
	// Duration is the audio length in seconds.
	Duration float64
	Voice    string
}

// STT turns recorded audio into text.
type STT interface {
	Transcribe(ctx context.Context, wav []byte) (Transcript, error)
	Provider() string
}

// TTS turns text into audio. An empty voice selects the client default.
type TTS interface {
	Synthesize(ctx context.Context, text, voice string) (Speech, error)
	Provider() string
}

const maxErrorBody = 512

// statusError builds an error from a non-2xx response.
func statusError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s: status %d: %s", provider, resp.StatusCode, msg)
}

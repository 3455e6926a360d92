package observability

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// UsageSummary is the billable usage of one call or of the whole process.
type UsageSummary struct {
	LLMRequests     int64   `json:"llm_requests"`
	LLMInputTokens  int64   `json:"llm_input_tokens"`
	LLMOutputTokens int64   `json:"llm_output_tokens"`
	STTRequests     int64   `json:"stt_requests"`
	STTAudioSeconds float64 `json:"stt_audio_seconds"`
	TTSRequests     int64   `json:"tts_requests"`
	TTSCharacters   int64   `json:"tts_characters"`
}

func (s UsageSummary) String() string {
	return fmt.Sprintf("llm_requests=%d llm_input_tokens=%d llm_output_tokens=%d stt_requests=%d stt_audio_seconds=%.2f tts_requests=%d tts_characters=%d",
		s.LLMRequests, s.LLMInputTokens, s.LLMOutputTokens, s.STTRequests, s.STTAudioSeconds, s.TTSRequests, s.TTSCharacters)
}

// MarshalZerologObject lets a summary be attached to a log event with Object().
func (s UsageSummary) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("llm_requests", s.LLMRequests).
		Int64("llm_input_tokens", s.LLMInputTokens).
		Int64("llm_output_tokens", s.LLMOutputTokens).
		Int64("stt_requests", s.STTRequests).
		Float64("stt_audio_seconds", s.STTAudioSeconds).
		Int64("tts_requests", s.TTSRequests).
		Int64("tts_characters", s.TTSCharacters)
}

// UsageCollector accumulates usage for a call. Collectors chain to a parent
// so the daemon keeps a process total alongside per-call totals.
type UsageCollector struct {
	mu      sync.Mutex
	summary UsageSummary
	parent  *UsageCollector
}

// NewUsageCollector creates a collector. parent may be nil.
func NewUsageCollector(parent *UsageCollector) *UsageCollector {
	return &UsageCollector{parent: parent}
}

// AddLLM records one LLM request.
func (u *UsageCollector) AddLLM(inputTokens, outputTokens int) {
	if u == nil {
		return
	}
	m := getMetrics()
	m.llmTokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	m.llmTokensTotal.WithLabelValues("output").Add(float64(outputTokens))
	u.apply(func(s *UsageSummary) {
		s.LLMRequests++
		s.LLMInputTokens += int64(inputTokens)
		s.LLMOutputTokens += int64(outputTokens)
	})
}

// AddSTT records one transcription of the given audio length.
func (u *UsageCollector) AddSTT(audioSeconds float64) {
	if u == nil {
		return
	}
	getMetrics().sttAudioSeconds.Add(audioSeconds)
	u.apply(func(s *UsageSummary) {
		s.STTRequests++
		s.STTAudioSeconds += audioSeconds
	})
}

// AddTTS records one synthesis request.
func (u *UsageCollector) AddTTS(characters int) {
	if u == nil {
		return
	}
	getMetrics().ttsCharactersTotal.Add(float64(characters))
	u.apply(func(s *UsageSummary) {
		s.TTSRequests++
		s.TTSCharacters += int64(characters)
	})
}

func (u *UsageCollector) apply(fn func(*UsageSummary)) {
	for c := u; c != nil; c = c.parent {
		c.mu.Lock()
		fn(&c.summary)
		c.mu.Unlock()
	}
}

// Summary returns a snapshot.
func (u *UsageCollector) Summary() UsageSummary {
	if u == nil {
		return UsageSummary{}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.summary
}

// LogSummary writes the usage summary at info level.
func (u *UsageCollector) LogSummary(logger zerolog.Logger, msg string) {
	logger.Info().Object("usage", u.Summary()).Msg(msg)
}

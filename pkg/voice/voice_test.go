package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(n int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(float64(i)*0.3))
	}
	return out
}

func TestWAVRoundTrip(t *testing.T) {
	samples := tone(1600, 8000)
	data, err := EncodeWAV(samples, 16000)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))

	decoded, rate, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, samples, decoded)

	_, _, err = DecodeWAV([]byte("not a wav file at all"))
	assert.ErrorIs(t, err, ErrInvalidWAV)

	_, err = EncodeWAV(samples, 0)
	assert.Error(t, err)
}

func TestPCMBytes(t *testing.T) {
	samples := []int16{0, 1, -1, math.MaxInt16, math.MinInt16}
	b := PCMToBytes(samples)
	assert.Len(t, b, 10)
	assert.Equal(t, samples, PCMFromBytes(b))
	assert.Equal(t, samples, PCMFromBytes(append(b, 0x7f)))
}

func TestDeepgramSTT_Transcribe(t *testing.T) {
	var gotQuery url.Values
	var gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/listen", r.URL.Path)
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"metadata":{"duration":1.5},"results":{"channels":[{"alternatives":[{"transcript":" I'd like a latte ","confidence":0.93}]}]}}`))
	}))
	defer srv.Close()

	stt := NewDeepgramSTT(DeepgramConfig{APIKey: "dg-key", BaseURL: srv.URL + "/", Language: "en-US"})
	out, err := stt.Transcribe(context.Background(), []byte("wav-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "I'd like a latte", out.Text)
	assert.InDelta(t, 0.93, out.Confidence, 1e-9)
	assert.InDelta(t, 1.5, out.Duration, 1e-9)
	assert.True(t, strings.EqualFold("token dg-key", gotAuth), gotAuth)
	assert.Equal(t, "nova-3", gotQuery.Get("model"))
	assert.Equal(t, "en-US", gotQuery.Get("language"))
	assert.Equal(t, "true", gotQuery.Get("smart_format"))
	assert.Equal(t, []byte("wav-bytes"), gotBody)
}

func TestDeepgramSTT_Errors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		stt := NewDeepgramSTT(DeepgramConfig{})
		assert.Nil(t, stt.listen)
		_, err := stt.Transcribe(context.Background(), nil)
		assert.ErrorIs(t, err, ErrNotConfigured)
	})

	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"err_code":"TOO_MANY_REQUESTS","err_msg":"slow down"}`))
		}))
		defer srv.Close()

		_, err := NewDeepgramSTT(DeepgramConfig{APIKey: "k", BaseURL: srv.URL}).Transcribe(context.Background(), []byte("x"))
		require.Error(t, err)
		assert.True(t, strings.HasPrefix(err.Error(), "deepgram: "), err.Error())
	})

	t.Run("no alternatives", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"results":{"channels":[]}}`))
		}))
		defer srv.Close()

		out, err := NewDeepgramSTT(DeepgramConfig{APIKey: "k", BaseURL: srv.URL}).Transcribe(context.Background(), []byte("x"))
		require.NoError(t, err)
		assert.Empty(t, out.Text)
		assert.Zero(t, out.Duration)
	})
}

func TestMurfTTS_Synthesize(t *testing.T) {
	wav, err := EncodeWAV(tone(240, 4000), 24000)
	require.NoError(t, err)

	var got murfRequest
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/speech/generate", r.URL.Path)
		gotKey = r.Header.Get("api-key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(murfResponse{
			EncodedAudio:         base64.StdEncoding.EncodeToString(wav),
			AudioLengthInSeconds: 0.01,
		})
	}))
	defer srv.Close()

	tts := NewMurfTTS(MurfConfig{APIKey: "murf-key", BaseURL: srv.URL})
	assert.Equal(t, "en-US-matthew", tts.DefaultVoice())

	speech, err := tts.Synthesize(context.Background(), "Quiz mode activated.", "en-US-alicia")
	require.NoError(t, err)
	assert.Equal(t, wav, speech.WAV)
	assert.Equal(t, "en-US-alicia", speech.Voice)
	assert.InDelta(t, 0.01, speech.Duration, 1e-9)

	assert.Equal(t, "murf-key", gotKey)
	assert.Equal(t, murfRequest{
		Text:           "Quiz mode activated.",
		VoiceID:        "en-US-alicia",
		Style:          "Conversation",
		Format:         "WAV",
		SampleRate:     24000,
		EncodeAsBase64: true,
	}, got)

	speech, err = tts.Synthesize(context.Background(), "Hello.", "")
	require.NoError(t, err)
	assert.Equal(t, "en-US-matthew", speech.Voice)
}

func TestMurfTTS_Errors(t *testing.T) {
	_, err := NewMurfTTS(MurfConfig{}).Synthesize(context.Background(), "hi", "")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewMurfTTS(MurfConfig{APIKey: "k"}).Synthesize(context.Background(), "  ", "")
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"encodedAudio":"!!!"}`))
	}))
	defer srv.Close()
	_, err = NewMurfTTS(MurfConfig{APIKey: "k", BaseURL: srv.URL}).Synthesize(context.Background(), "hi", "")
	assert.Error(t, err)
}

func TestSentenceTokenizer(t *testing.T) {
	tests := []struct {
		name string
		min  int
		text string
		want []string
	}{
		{"empty", 2, "   ", nil},
		{"single", 2, "Hello there", []string{"Hello there"}},
		{"splits", 2, "Hi! How are you? I'm fine.", []string{"Hi!", "How are you?", "I'm fine."}},
		{"merges short", 10, "Ok. Let me check that for you. Sure thing.", []string{"Ok. Let me check that for you.", "Sure thing."}},
		{"short tail joins previous", 6, "That is fine. Ok.", []string{"That is fine. Ok."}},
		{"all short", 50, "Yes. No.", []string{"Yes. No."}},
		{"decimal stays", 2, "It costs 4.50 today.", []string{"It costs 4.50 today."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SentenceTokenizer{MinSentenceLen: tt.min}.Split(tt.text))
		})
	}
}

func TestEnergyVAD(t *testing.T) {
	cfg := VADConfig{SampleRate: 16000, Threshold: 1000, MinSpeechMs: 100, SilenceMs: 200}
	ms := func(n int) int { return 16 * n }

	t.Run("speech then silence", func(t *testing.T) {
		vad := NewEnergyVAD(cfg)
		assert.Empty(t, vad.Push(make([]int16, ms(100))))
		assert.False(t, vad.Speaking())

		assert.Empty(t, vad.Push(tone(ms(300), 8000)))
		assert.True(t, vad.Speaking())

		utterances := vad.Push(make([]int16, ms(300)))
		require.Len(t, utterances, 1)
		assert.Len(t, utterances[0], ms(300))
		assert.False(t, vad.Speaking())
	})

	t.Run("blip is dropped", func(t *testing.T) {
		vad := NewEnergyVAD(cfg)
		vad.Push(tone(ms(40), 8000))
		assert.Empty(t, vad.Push(make([]int16, ms(300))))
	})

	t.Run("odd chunk sizes", func(t *testing.T) {
		vad := NewEnergyVAD(cfg)
		audio := append(tone(ms(200), 8000), make([]int16, ms(260))...)
		var got [][]int16
		for i := 0; i < len(audio); i += 77 {
			end := i + 77
			if end > len(audio) {
				end = len(audio)
			}
			got = append(got, vad.Push(audio[i:end])...)
		}
		require.Len(t, got, 1)
		assert.Len(t, got[0], ms(200))
	})

	t.Run("flush", func(t *testing.T) {
		vad := NewEnergyVAD(cfg)
		vad.Push(tone(ms(200), 8000))
		assert.Len(t, vad.Flush(), ms(200))
		assert.Nil(t, vad.Flush())
	})

	t.Run("max length", func(t *testing.T) {
		c := cfg
		c.MaxUtteranceMs = 400
		vad := NewEnergyVAD(c)
		utterances := vad.Push(tone(ms(1000), 8000))
		assert.Len(t, utterances, 2)
	})
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0.0, RMS(nil))
	assert.InDelta(t, 100.0, RMS([]int16{100, -100, 100, -100}), 1e-9)
}

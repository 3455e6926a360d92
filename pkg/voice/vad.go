package voice

import (
	"math"
	"sync"
)

const frameMs = 20

// VADConfig tunes EnergyVAD. Zero values take the defaults.
type VADConfig struct {
	SampleRate int
	// Threshold is the frame RMS, in 16-bit sample units, that counts as speech.
	Threshold float64
	// MinSpeechMs drops utterances with less voiced audio than this.
	MinSpeechMs int
	// SilenceMs of trailing quiet ends an utterance.
	SilenceMs int
	// MaxUtteranceMs forces an utterance out when the caller never pauses.
	MaxUtteranceMs int
}

func (c VADConfig) withDefaults() VADConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Threshold <= 0 {
		c.Threshold = 500
	}
	if c.MinSpeechMs <= 0 {
		c.MinSpeechMs = 200
	}
	if c.SilenceMs <= 0 {
		c.SilenceMs = 700
	}
	if c.MaxUtteranceMs <= 0 {
		c.MaxUtteranceMs = 30000
	}
	return c
}

// EnergyVAD segments 16-bit mono PCM into utterances using frame energy.
// It is safe for concurrent use.
type EnergyVAD struct {
	cfg       VADConfig
	frameSize int

	mu        sync.Mutex
	pending   []int16
	utterance []int16
	speaking  bool
	voiced    int
	silence   int
}

func NewEnergyVAD(cfg VADConfig) *EnergyVAD {
	cfg = cfg.withDefaults()
	return &EnergyVAD{
		cfg:       cfg,
		frameSize: cfg.SampleRate * frameMs / 1000,
	}
}

// SampleRate returns the rate the detector expects.
func (v *EnergyVAD) SampleRate() int {
	return v.cfg.SampleRate
}

func (v *EnergyVAD) samples(ms int) int {
	return v.cfg.SampleRate * ms / 1000
}

// Push feeds samples and returns any utterances completed by them.
func (v *EnergyVAD) Push(samples []int16) [][]int16 {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.pending = append(v.pending, samples...)
	var out [][]int16
	for len(v.pending) >= v.frameSize {
		frame := v.pending[:v.frameSize]
		if u := v.processFrame(frame); u != nil {
			out = append(out, u)
		}
		v.pending = v.pending[v.frameSize:]
	}
	if len(v.pending) == 0 {
		v.pending = nil
	}
	return out
}

// Flush ends the current utterance, returning it when it has enough speech.
func (v *EnergyVAD) Flush() []int16 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.speaking {
		v.reset()
		return nil
	}
	return v.finish()
}

// Speaking reports whether an utterance is in progress.
func (v *EnergyVAD) Speaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speaking
}

func (v *EnergyVAD) processFrame(frame []int16) []int16 {
	loud := RMS(frame) >= v.cfg.Threshold

	if !v.speaking {
		if !loud {
			return nil
		}
		v.speaking = true
	}

	v.utterance = append(v.utterance, frame...)
	if loud {
		v.voiced += len(frame)
		v.silence = 0
	} else {
		v.silence += len(frame)
	}

	if v.silence >= v.samples(v.cfg.SilenceMs) || len(v.utterance) >= v.samples(v.cfg.MaxUtteranceMs) {
		return v.finish()
	}
	return nil
}

func (v *EnergyVAD) finish() []int16 {
	var out []int16
	if v.voiced >= v.samples(v.cfg.MinSpeechMs) {
		out = v.utterance[:len(v.utterance)-v.silence]
	}
	v.reset()
	return out
}

func (v *EnergyVAD) reset() {
	v.utterance = nil
	v.speaking = false
	v.voiced = 0
	v.silence = 0
}

// RMS returns the root mean square of the samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

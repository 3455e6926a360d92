package voice

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned when data is not a readable PCM WAV file.
var ErrInvalidWAV = errors.New("invalid wav data")

// EncodeWAV wraps 16-bit mono samples in a WAV container.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	var buf writeSeekerBuffer
	enc := wav.NewEncoder(&buf, sampleRate, 16, 1, 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	})
	if err != nil {
		return nil, fmt.Errorf("error writing WAV data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("error closing WAV data: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV reads a PCM WAV file and returns 16-bit mono samples. Multi
// channel audio is mixed down and other bit depths are rescaled.
func DecodeWAV(data []byte) ([]int16, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}

	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}

	frames := len(buf.Data) / channels
	samples := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += buf.Data[i*channels+c]
		}
		samples[i] = rescale(sum/channels, depth)
	}
	return samples, int(dec.SampleRate), nil
}

func rescale(v, depth int) int16 {
	switch {
	case depth == 8:
		// 8-bit WAV is unsigned.
		return int16((v - 128) << 8)
	case depth > 16:
		return int16(v >> (depth - 16))
	default:
		return int16(v)
	}
}

// PCMFromBytes reads little-endian 16-bit samples. A trailing odd byte is
// ignored.
func PCMFromBytes(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return samples
}

// PCMToBytes writes samples as little-endian 16-bit PCM.
func PCMToBytes(samples []int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

// writeSeekerBuffer is an in-memory io.WriteSeeker for the WAV encoder,
// which seeks back to patch the header sizes.
type writeSeekerBuffer struct {
	b []byte
	i int64
}

func (w *writeSeekerBuffer) Bytes() []byte { return w.b }

func (w *writeSeekerBuffer) Write(p []byte) (int, error) {
	end := w.i + int64(len(p))
	if end > int64(len(w.b)) {
		if end > int64(cap(w.b)) {
			grown := make([]byte, end, 2*end)
			copy(grown, w.b)
			w.b = grown
		} else {
			w.b = w.b[:end]
		}
	}
	copy(w.b[w.i:end], p)
	w.i = end
	return len(p), nil
}

func (w *writeSeekerBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = w.i + offset
	case io.SeekEnd:
		next = int64(len(w.b)) + offset
	default:
		return 0, errors.New("writeSeekerBuffer: invalid whence")
	}
	if next < 0 {
		return 0, errors.New("writeSeekerBuffer: negative position")
	}
	w.i = next
	return next, nil
}

// Package voice connects a call to the hosted speech services.
//
// DeepgramSTT transcribes WAV audio and MurfTTS synthesizes WAV audio from
// text. EnergyVAD cuts a stream of 16-bit mono PCM into utterances and
// SentenceTokenizer splits agent replies into chunks that are spoken one at a
// time. EncodeWAV and DecodeWAV convert between raw PCM and WAV containers.
package voice

// Package stt defines the Provider interface for Speech-to-Text backends.
//
// Parla records push-to-talk style: capture buffers the whole utterance while
// the hotkey is held, then hands one PCM buffer to recognition. The interface
// is therefore a single blocking call per utterance rather than a streaming
// session. Language fallback chains are layered on top by the caller.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Config describes the audio format and recognition hints for one utterance.
type Config struct {
	// SampleRate is the PCM sample rate in Hz. 16000 is the whisper-native
	// rate and the capture pipeline's target.
	SampleRate int

	// Channels is the channel count of the PCM buffer. 1 = mono.
	Channels int

	// Language is the ISO 639-1 language code to recognise ("en", "ru", ...).
	// Empty lets the backend auto-detect, if supported.
	Language string
}

// Result is the outcome of recognising one utterance.
type Result struct {
	// Text is the recognised transcript, trimmed. Empty means the backend
	// found no speech in the buffer.
	Text string

	// Language is the language the transcript was produced in.
	Language string
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use: utterances from a retry
// chain or from tests may overlap.
type Provider interface {
	// Recognize transcribes one complete utterance of raw 16-bit
	// little-endian PCM. It blocks until inference finishes or ctx is
	// cancelled.
	Recognize(ctx context.Context, pcm []byte, cfg Config) (Result, error)
}

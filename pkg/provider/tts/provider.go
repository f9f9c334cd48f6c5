// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, the
// OpenAI speech endpoint) behind a per-sentence streaming interface: the
// streaming workflow hands over one aggregated sentence at a time and pipes
// the resulting PCM chunks straight onto the response stream, so playback on
// the client starts before synthesis of the sentence finishes.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; sentences of concurrent
// sessions may be synthesised in parallel.
type Provider interface {
	// Synthesize converts one text fragment into speech and returns a channel
	// emitting raw 16-bit little-endian PCM chunks as they become available.
	// The chunk sample rate is voice.SampleRate.
	//
	// The channel is closed by the implementation when synthesis completes or
	// ctx is cancelled; the caller must drain it. A non-nil error is returned
	// only if synthesis cannot be started. Errors after that are signalled by
	// closing the channel early — callers check ctx.Err() to distinguish
	// cancellation.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the provider's current voice catalogue.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

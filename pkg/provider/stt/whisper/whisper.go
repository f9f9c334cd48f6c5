// Package whisper implements stt.Provider on the whisper.cpp CGO bindings.
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/parla-assistant/parla/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// defaultLanguage is used when neither the config nor an option names one.
const defaultLanguage = "en"

// Provider implements stt.Provider using the whisper.cpp Go bindings (CGO),
// with no server or HTTP hop. The model is loaded once at startup and shared
// across all Recognize calls.
type Provider struct {
	model    whisperlib.Model
	language string

	// Contexts created from the model are not thread-safe themselves, but
	// creating them concurrently from the shared model is; mu only guards
	// Close against in-flight inference.
	mu     sync.RWMutex
	closed bool
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default ISO 639-1 language code for transcription.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		if lang != "" {
			p.language = lang
		}
	}
}

// New creates a Provider that loads the whisper.cpp model from the given
// file path. The caller must call Close when the provider is no longer
// needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.model.Close()
}

// Recognize implements stt.Provider. Each call creates a fresh whisper
// context from the shared model, so concurrent utterances do not interfere.
func (p *Provider) Recognize(ctx context.Context, pcm []byte, cfg stt.Config) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return stt.Result{}, errors.New("whisper: provider is closed")
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}

	samples := pcmToFloat32Mono(pcm, channels)
	if len(samples) == 0 {
		return stt.Result{Language: lang}, nil
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: set language %q: %w", lang, err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return stt.Result{
		Text:     strings.Join(parts, " "),
		Language: lang,
	}, nil
}

// pcmToFloat32Mono converts 16-bit little-endian PCM to the normalised
// float32 mono samples whisper.cpp expects, averaging channels if needed.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / 2 / channels
	out := make([]float32, 0, frames)
	for f := 0; f < frames; f++ {
		var sum int32
		for c := 0; c < channels; c++ {
			i := (f*channels + c) * 2
			s := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
			sum += int32(s)
		}
		avg := sum / int32(channels)
		out = append(out, float32(avg)/32768.0)
	}
	return out
}

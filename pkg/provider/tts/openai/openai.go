// Package openai provides a TTS provider backed by the OpenAI speech
// endpoint. Responses are requested in raw PCM (24 kHz, 16-bit mono) and
// relayed chunk by chunk as they arrive on the HTTP body.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/parla-assistant/parla/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// SampleRate is the fixed PCM output rate of the speech endpoint.
const SampleRate = 24000

// DefaultModel is the default speech model.
const DefaultModel = "gpt-4o-mini-tts"

// readChunkBytes is the relay granularity for the response body. 4 KiB is
// ~85 ms of audio at 24 kHz mono s16.
const readChunkBytes = 4096

// builtinVoices is the speech endpoint's fixed voice set.
var builtinVoices = []string{"alloy", "ash", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer"}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel sets the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout. Zero means no timeout beyond
// ctx.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client  oai.Client
	model   string
	timeout time.Duration
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}

	p := &Provider{model: DefaultModel}
	for _, o := range opts {
		o(p)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: p.timeout}))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if text == "" {
		return nil, errors.New("openai tts: text must not be empty")
	}
	if voice.ID == "" {
		voice.ID = "alloy"
	}

	params := oai.AudioSpeechNewParams{
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(voice.ID),
		Input:          text,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.SpeedFactor > 0 {
		params.Speed = param.NewOpt(voice.SpeedFactor)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech request: %w", err)
	}

	ch := make(chan []byte, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		for {
			buf := make([]byte, readChunkBytes)
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				select {
				case ch <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return ch, nil
}

// ListVoices returns the speech endpoint's built-in voices.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	profiles := make([]tts.VoiceProfile, 0, len(builtinVoices))
	for _, v := range builtinVoices {
		profiles = append(profiles, tts.VoiceProfile{
			ID:         v,
			Name:       v,
			Provider:   "openai",
			SampleRate: SampleRate,
		})
	}
	return profiles, nil
}

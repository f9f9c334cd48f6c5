// Package recognize turns a captured utterance into text. One blocking STT
// call per configured language, tried in order until one produces a
// transcript; the winner is run through the vocabulary corrector and
// published as voice.recognition_completed. Everything that can go wrong maps
// to a named failure kind so downstream can react without parsing error
// strings.
package recognize

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/parla-assistant/parla/internal/bus"
	"github.com/parla-assistant/parla/internal/transcript"
	"github.com/parla-assistant/parla/pkg/audio"
	"github.com/parla-assistant/parla/pkg/provider/stt"
)

// DefaultTimeout bounds the whole language chain for one utterance.
const DefaultTimeout = 10 * time.Second

// Failure kinds carried by voice.recognition_failed and
// voice.recognition_timeout.
const (
	KindNoSpeech         = "no_speech"
	KindServiceError     = "service_error"
	KindTimeout          = "timeout"
	KindCaptureTooShort  = "capture_too_short"
	KindCaptureNoDevice  = "capture_unavailable"
	KindCaptureForbidden = "capture_permission_denied"
)

// Option configures a [Recognizer] during construction.
type Option func(*Recognizer)

// WithLanguages sets the language codes tried in order. Default: ["en"].
func WithLanguages(langs []string) Option {
	return func(r *Recognizer) {
		if len(langs) > 0 {
			r.languages = langs
		}
	}
}

// WithTimeout overrides [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(r *Recognizer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithCorrector applies a vocabulary corrector to transcripts before they are
// published.
func WithCorrector(c *transcript.Corrector) Option {
	return func(r *Recognizer) { r.corrector = c }
}

// Recognizer runs one utterance at a time through an STT provider. Stateless
// between calls and safe for concurrent use.
type Recognizer struct {
	bus       *bus.Bus
	provider  stt.Provider
	corrector *transcript.Corrector
	languages []string
	timeout   time.Duration
}

// New creates a Recognizer over provider publishing to b.
func New(b *bus.Bus, provider stt.Provider, opts ...Option) *Recognizer {
	r := &Recognizer{
		bus:       b,
		provider:  provider,
		languages: []string{"en"},
		timeout:   DefaultTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Recognize transcribes one utterance of 16 kHz mono int16 PCM and publishes
// the outcome. Blocking; callers run it on its own goroutine.
func (r *Recognizer) Recognize(ctx context.Context, sessionID int64, pcm []byte) {
	if len(pcm) == 0 {
		r.fail(sessionID, KindCaptureTooShort, "utterance below the minimum length")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	var lastErr error
	for _, lang := range r.languages {
		if ctx.Err() != nil {
			break
		}
		res, err := r.provider.Recognize(ctx, pcm, stt.Config{
			SampleRate: 16000,
			Channels:   1,
			Language:   lang,
		})
		if err != nil {
			lastErr = err
			slog.Warn("recognition attempt failed", "language", lang, "error", err)
			continue
		}
		if res.Text == "" {
			continue
		}

		text := res.Text
		if r.corrector != nil {
			corrected, applied := r.corrector.Correct(text)
			for _, c := range applied {
				slog.Debug("transcript corrected",
					"from", c.Original, "to", c.Corrected, "confidence", c.Confidence)
			}
			text = corrected
		}
		language := res.Language
		if language == "" {
			language = lang
		}
		slog.Info("recognition completed",
			"session_id", sessionID, "language", language, "took", time.Since(started))
		r.bus.Publish(bus.EventRecognitionCompleted, bus.RecognitionPayload{
			SessionID:  sessionID,
			Text:       text,
			Confidence: 1.0,
			Language:   language,
		})
		return
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		slog.Warn("recognition timed out", "session_id", sessionID, "after", r.timeout)
		r.bus.Publish(bus.EventRecognitionTimeout, bus.RecognitionErrorPayload{
			SessionID: sessionID,
			Kind:      KindTimeout,
			Err:       context.DeadlineExceeded.Error(),
		})
		return
	}
	if lastErr != nil {
		r.fail(sessionID, KindServiceError, lastErr.Error())
		return
	}
	r.fail(sessionID, KindNoSpeech, "no speech recognised in any configured language")
}

// FailCapture publishes a recognition failure for an utterance that never
// reached the recogniser because the microphone could not be opened.
func (r *Recognizer) FailCapture(sessionID int64, err error) {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		r.fail(sessionID, KindCaptureForbidden, err.Error())
	case errors.Is(err, audio.ErrNoDevice):
		r.fail(sessionID, KindCaptureNoDevice, err.Error())
	default:
		r.fail(sessionID, KindServiceError, err.Error())
	}
}

func (r *Recognizer) fail(sessionID int64, kind, detail string) {
	slog.Warn("recognition failed", "session_id", sessionID, "kind", kind, "error", detail)
	r.bus.Publish(bus.EventRecognitionFailed, bus.RecognitionErrorPayload{
		SessionID: sessionID,
		Kind:      kind,
		Err:       detail,
	})
}

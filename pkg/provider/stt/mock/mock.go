// Package mock provides a test double for the stt.Provider interface.
//
// Results can be scripted per language to exercise fallback chains:
//
//	p := &mock.Provider{
//	    ResultsByLanguage: map[string]stt.Result{
//	        "en": {},
//	        "ru": {Text: "привет", Language: "ru"},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/parla-assistant/parla/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// RecognizeCall records a single invocation of Recognize.
type RecognizeCall struct {
	// Ctx is the context passed to Recognize.
	Ctx context.Context
	// PCMLen is the byte length of the buffer passed to Recognize.
	PCMLen int
	// Cfg is the config passed to Recognize.
	Cfg stt.Config
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Result is returned by Recognize when ResultsByLanguage has no entry
	// for the requested language.
	Result stt.Result

	// ResultsByLanguage maps a requested language code to its result.
	ResultsByLanguage map[string]stt.Result

	// Err, if non-nil, is returned as the error from Recognize.
	Err error

	// --- Call records ---

	// RecognizeCalls records every call to Recognize in order.
	RecognizeCalls []RecognizeCall
}

// Recognize records the call and returns the scripted result.
func (p *Provider) Recognize(ctx context.Context, pcm []byte, cfg stt.Config) (stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RecognizeCalls = append(p.RecognizeCalls, RecognizeCall{Ctx: ctx, PCMLen: len(pcm), Cfg: cfg})
	if p.Err != nil {
		return stt.Result{}, p.Err
	}
	if r, ok := p.ResultsByLanguage[cfg.Language]; ok {
		return r, nil
	}
	return p.Result, nil
}

// Languages returns the language of every recorded call in order.
func (p *Provider) Languages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.RecognizeCalls))
	for i, c := range p.RecognizeCalls {
		out[i] = c.Cfg.Language
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RecognizeCalls = nil
}

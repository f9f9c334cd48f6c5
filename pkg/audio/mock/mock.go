// Package mock provides a scripted test double for the audio.Platform
// interface.
//
// The mock lets tests enqueue capture data, inspect playback output, reject
// formats to exercise candidate ladders, and simulate default-device changes
// mid-stream.
package mock

import (
	"context"
	"sync"

	"github.com/parla-assistant/parla/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Platform = (*Platform)(nil)
	_ audio.Stream   = (*Stream)(nil)
)

// OpenCall records a single invocation of Open.
type OpenCall struct {
	Dir audio.Direction
	Cfg audio.StreamConfig
}

// Platform is a mock implementation of audio.Platform.
// Zero values yield a platform with one default device per direction that
// accepts any format.
type Platform struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// InputDevice and OutputDevice are returned by DefaultDevice. Zero-value
	// devices are reported with Default=true and generic names.
	InputDevice  audio.DeviceInfo
	OutputDevice audio.DeviceInfo

	// DefaultErr, if non-nil, is returned by DefaultDevice.
	DefaultErr error

	// OpenErr, if non-nil, is returned by every Open call.
	OpenErr error

	// RejectFormats lists (channels, rate) pairs that Open fails with
	// audio.ErrFormatUnsupported. Used to exercise candidate ladders.
	RejectFormats []audio.Format

	// --- Call records ---

	// OpenCalls records every invocation of Open in order.
	OpenCalls []OpenCall

	// Streams holds every stream handed out by Open, in order.
	Streams []*Stream

	changeFn func(audio.DeviceChange)
	closed   bool
}

// DefaultDevice returns the configured device for dir, filling in defaults
// for zero values.
func (p *Platform) DefaultDevice(_ context.Context, dir audio.Direction) (audio.DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DefaultErr != nil {
		return audio.DeviceInfo{}, p.DefaultErr
	}
	return p.deviceLocked(dir), nil
}

func (p *Platform) deviceLocked(dir audio.Direction) audio.DeviceInfo {
	var d audio.DeviceInfo
	if dir == audio.Capture {
		d = p.InputDevice
	} else {
		d = p.OutputDevice
	}
	if d.ID == "" {
		d = audio.DeviceInfo{ID: "mock-" + dir.String(), Name: "Mock Device", Direction: dir, MaxChannels: 2, MaxSampleRate: 48000, Default: true}
	}
	return d
}

// Open records the call and returns a new mock Stream, honouring OpenErr and
// RejectFormats.
func (p *Platform) Open(_ context.Context, dir audio.Direction, cfg audio.StreamConfig, fn audio.DataFunc) (audio.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.OpenCalls = append(p.OpenCalls, OpenCall{Dir: dir, Cfg: cfg})
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	for _, rej := range p.RejectFormats {
		if rej == cfg.Format {
			return nil, audio.ErrFormatUnsupported
		}
	}

	s := &Stream{
		dir: dir,
		cfg: cfg,
		fn:  fn,
		dev: p.deviceLocked(dir),
	}
	p.Streams = append(p.Streams, s)
	return s, nil
}

// OnDeviceChange registers the device-change callback.
func (p *Platform) OnDeviceChange(fn func(audio.DeviceChange)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changeFn = fn
}

// Close marks the platform closed.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// SwitchDefault simulates the system default device for dir changing to dev.
// The registered device-change callback (if any) is invoked synchronously.
func (p *Platform) SwitchDefault(dir audio.Direction, dev audio.DeviceInfo) {
	p.mu.Lock()
	if dir == audio.Capture {
		p.InputDevice = dev
	} else {
		p.OutputDevice = dev
	}
	fn := p.changeFn
	p.mu.Unlock()

	if fn != nil {
		fn(audio.DeviceChange{Direction: dir, Device: dev})
	}
}

// LastStream returns the most recently opened stream, or nil.
func (p *Platform) LastStream() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Streams) == 0 {
		return nil
	}
	return p.Streams[len(p.Streams)-1]
}

// Stream is the mock stream returned by Platform.Open. Tests drive the data
// callback directly via Feed (capture) or Pull (playback).
type Stream struct {
	mu      sync.Mutex
	dir     audio.Direction
	cfg     audio.StreamConfig
	fn      audio.DataFunc
	dev     audio.DeviceInfo
	started bool
	closed  bool
}

// Start marks the stream running.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

// Stop marks the stream paused.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

// Close marks the stream closed. Idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.closed = true
	return nil
}

// Device returns the device the stream was opened on.
func (s *Stream) Device() audio.DeviceInfo { return s.dev }

// Config returns the stream config used at Open time.
func (s *Stream) Config() audio.StreamConfig { return s.cfg }

// Running reports whether Start has been called without a later Stop/Close.
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Feed invokes the data callback with captured PCM bytes, as the OS audio
// thread would for a capture stream. No-op if the stream is not running.
func (s *Stream) Feed(pcm []byte) {
	s.mu.Lock()
	running := s.started && !s.closed
	fn := s.fn
	s.mu.Unlock()
	if running && fn != nil {
		fn(pcm)
	}
}

// Pull invokes the data callback with an output buffer of n bytes and returns
// whatever the callback wrote, as the OS audio thread would for a playback
// stream. Returns nil if the stream is not running.
func (s *Stream) Pull(n int) []byte {
	s.mu.Lock()
	running := s.started && !s.closed
	fn := s.fn
	s.mu.Unlock()
	if !running || fn == nil {
		return nil
	}
	buf := make([]byte, n)
	fn(buf)
	return buf
}

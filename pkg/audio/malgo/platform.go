// Package malgo implements audio.Platform on top of the miniaudio CGO
// bindings (github.com/gen2brain/malgo).
//
// miniaudio has no portable default-device-change notification, so the
// platform runs a small polling monitor that re-reads the default device for
// both directions and fires the registered callback when the ID changes.
package malgo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/parla-assistant/parla/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Platform = (*Platform)(nil)
	_ audio.Stream   = (*stream)(nil)
)

// defaultMonitorInterval is how often the device monitor polls the system
// default devices when no interval is configured.
const defaultMonitorInterval = 1 * time.Second

// Option configures a [Platform] during construction.
type Option func(*Platform)

// WithMonitorInterval sets the default-device polling interval.
func WithMonitorInterval(d time.Duration) Option {
	return func(p *Platform) {
		if d > 0 {
			p.monitorInterval = d
		}
	}
}

// Platform is the miniaudio-backed audio.Platform.
type Platform struct {
	ctx             *malgo.AllocatedContext
	monitorInterval time.Duration

	mu       sync.Mutex
	changeFn func(audio.DeviceChange)
	lastIn   string
	lastOut  string
	done     chan struct{}
	closed   bool
}

// New initialises a miniaudio context and starts the device monitor.
// Call Close to release the context.
func New(opts ...Option) (*Platform, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	p := &Platform{
		ctx:             mctx,
		monitorInterval: defaultMonitorInterval,
		done:            make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}

	go p.monitor()
	return p, nil
}

// DefaultDevice returns the current system default device for dir.
func (p *Platform) DefaultDevice(_ context.Context, dir audio.Direction) (audio.DeviceInfo, error) {
	infos, err := p.ctx.Devices(toMalgoDeviceType(dir))
	if err != nil {
		return audio.DeviceInfo{}, fmt.Errorf("malgo: enumerate devices: %w", err)
	}
	if len(infos) == 0 {
		return audio.DeviceInfo{}, audio.ErrNoDevice
	}

	// Prefer the device flagged default; fall back to the first entry.
	chosen := infos[0]
	for _, info := range infos {
		if info.IsDefault != 0 {
			chosen = info
			break
		}
	}
	return toDeviceInfo(chosen, dir), nil
}

// Open opens a stream on the system default device for dir. A config the
// backend rejects is surfaced as audio.ErrFormatUnsupported so callers can
// walk their candidate list.
func (p *Platform) Open(_ context.Context, dir audio.Direction, cfg audio.StreamConfig, fn audio.DataFunc) (audio.Stream, error) {
	devCfg := malgo.DefaultDeviceConfig(toMalgoDeviceType(dir))
	devCfg.SampleRate = uint32(cfg.Format.SampleRate)
	if cfg.FrameSamples > 0 {
		devCfg.PeriodSizeInFrames = uint32(cfg.FrameSamples)
	}
	switch dir {
	case audio.Capture:
		devCfg.Capture.Format = malgo.FormatS16
		devCfg.Capture.Channels = uint32(cfg.Format.Channels)
	case audio.Playback:
		devCfg.Playback.Format = malgo.FormatS16
		devCfg.Playback.Channels = uint32(cfg.Format.Channels)
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, in []byte, _ uint32) {
			if dir == audio.Capture {
				fn(in)
			} else {
				fn(out)
			}
		},
	}

	dev, err := malgo.InitDevice(p.ctx.Context, devCfg, callbacks)
	if err != nil {
		// miniaudio reports format mismatches as generic init failures; map
		// them so callers can try the next candidate.
		return nil, errors.Join(audio.ErrFormatUnsupported, err)
	}

	info, _ := p.DefaultDevice(context.Background(), dir)
	return &stream{dev: dev, info: info}, nil
}

// OnDeviceChange registers the device-change callback.
func (p *Platform) OnDeviceChange(fn func(audio.DeviceChange)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changeFn = fn
}

// Close stops the monitor and releases the miniaudio context.
func (p *Platform) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	if err := p.ctx.Uninit(); err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	p.ctx.Free()
	return nil
}

// monitor polls the default device of both directions and fires the change
// callback when either changes identity.
func (p *Platform) monitor() {
	ticker := time.NewTicker(p.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.checkDefault(audio.Capture)
			p.checkDefault(audio.Playback)
		}
	}
}

func (p *Platform) checkDefault(dir audio.Direction) {
	info, err := p.DefaultDevice(context.Background(), dir)
	if err != nil {
		return
	}

	p.mu.Lock()
	last := &p.lastIn
	if dir == audio.Playback {
		last = &p.lastOut
	}
	changed := *last != "" && *last != info.ID
	*last = info.ID
	fn := p.changeFn
	p.mu.Unlock()

	if changed && fn != nil {
		slog.Debug("default audio device changed", "direction", dir.String(), "device", info.Name)
		fn(audio.DeviceChange{Direction: dir, Device: info})
	}
}

// stream wraps a malgo device handle.
type stream struct {
	dev  *malgo.Device
	info audio.DeviceInfo

	mu     sync.Mutex
	closed bool
}

func (s *stream) Start() error {
	if err := s.dev.Start(); err != nil {
		return fmt.Errorf("malgo: start device: %w", err)
	}
	return nil
}

func (s *stream) Stop() error {
	if err := s.dev.Stop(); err != nil {
		return fmt.Errorf("malgo: stop device: %w", err)
	}
	return nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev.Uninit()
	return nil
}

func (s *stream) Device() audio.DeviceInfo { return s.info }

// ─── Helpers ─────────────────────────────────────────────────────────────────

func toMalgoDeviceType(dir audio.Direction) malgo.DeviceType {
	if dir == audio.Capture {
		return malgo.Capture
	}
	return malgo.Playback
}

func toDeviceInfo(info malgo.DeviceInfo, dir audio.Direction) audio.DeviceInfo {
	out := audio.DeviceInfo{
		ID:        info.ID.String(),
		Name:      info.Name(),
		Direction: dir,
		Default:   info.IsDefault != 0,
	}
	for _, f := range info.Formats {
		if int(f.Channels) > out.MaxChannels {
			out.MaxChannels = int(f.Channels)
		}
		if int(f.SampleRate) > out.MaxSampleRate {
			out.MaxSampleRate = int(f.SampleRate)
		}
	}
	return out
}

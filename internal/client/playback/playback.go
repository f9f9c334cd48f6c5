// Package playback streams server audio to the system default output. Chunks
// arrive over gRPC ahead of real time and sit in a bounded ring; the device
// callback drains it wait-free, writing silence when the ring runs dry.
// Overflow drops the oldest audio (the freshest speech wins), an interrupt
// empties everything within a bounded time, and a default-device change
// reopens the stream with the ring carried across so no enqueued audio is
// lost.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parla-assistant/parla/internal/bus"
	"github.com/parla-assistant/parla/pkg/audio"
)

const (
	// DefaultCapacity is the ring size in chunks. At typical TTS chunk
	// sizes this is a few seconds of audio.
	DefaultCapacity = 64

	// DefaultSourceRate is the sample rate of server audio when none is
	// configured.
	DefaultSourceRate = 16000

	// drainTimeout bounds how long Stop waits for the ring to play out.
	drainTimeout = 2 * time.Second
)

// Option configures a [Player] during construction.
type Option func(*Player)

// WithSourceRate sets the sample rate of incoming server audio.
func WithSourceRate(rate int) Option {
	return func(p *Player) {
		if rate > 0 {
			p.srcRate = rate
		}
	}
}

// WithCapacity sets the ring size in chunks.
func WithCapacity(n int) Option {
	return func(p *Player) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// Player owns one playback stream at a time. Safe for concurrent use: the
// enqueue path (gRPC handler), the control path (mode controller), and the
// device callback share one lock, and the callback only ever copies under it.
type Player struct {
	bus      *bus.Bus
	platform audio.Platform
	srcRate  int
	capacity int

	mu        sync.Mutex
	playing   bool
	finishing bool
	signalled bool
	sessionID int64
	stream    audio.Stream
	devFormat audio.Format
	ring      [][]byte // device-format PCM, front consumed first
	head      int      // bytes of ring[0] already played
	dropped   int

	done  chan struct{} // closed by the callback when finishing and drained
	ended chan struct{} // closed by Abort/Stop to retire the waiter
}

// NewPlayer creates a Player on platform publishing to b.
func NewPlayer(b *bus.Bus, platform audio.Platform, opts ...Option) *Player {
	p := &Player{
		bus:      b,
		platform: platform,
		srcRate:  DefaultSourceRate,
		capacity: DefaultCapacity,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Playing reports whether a playback session is active.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Start acquires the default output device for a session and publishes
// playback.started. Starting while already playing aborts the previous
// session first.
func (p *Player) Start(ctx context.Context, sessionID int64) error {
	if p.Playing() {
		p.Abort("superseded")
	}

	stream, format, err := p.open(ctx)
	if err != nil {
		p.bus.Publish(bus.EventPlaybackFailed, bus.PlaybackPayload{
			SessionID: sessionID,
			Reason:    err.Error(),
		})
		return err
	}

	p.mu.Lock()
	p.playing = true
	p.finishing = false
	p.signalled = false
	p.sessionID = sessionID
	p.stream = stream
	p.devFormat = format
	p.ring = nil
	p.head = 0
	p.dropped = 0
	p.done = make(chan struct{})
	p.ended = make(chan struct{})
	done, ended := p.done, p.ended
	p.mu.Unlock()

	go p.awaitCompletion(sessionID, done, ended)

	slog.Debug("playback started", "session_id", sessionID, "device", stream.Device().Name)
	p.bus.Publish(bus.EventPlaybackStarted, bus.PlaybackPayload{SessionID: sessionID})
	return nil
}

// open walks a candidate (channels, rate) ladder derived from the default
// output device and returns the first stream that opens.
func (p *Player) open(ctx context.Context) (audio.Stream, audio.Format, error) {
	dev, err := p.platform.DefaultDevice(ctx, audio.Playback)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("playback: default output: %w", err)
	}

	var lastErr error
	for _, format := range candidateFormats(dev) {
		stream, err := p.platform.Open(ctx, audio.Playback, audio.StreamConfig{
			Format: format,
		}, p.callback)
		if err != nil {
			lastErr = err
			continue
		}
		if err := stream.Start(); err != nil {
			stream.Close()
			lastErr = err
			continue
		}
		slog.Debug("playback stream open",
			"device", dev.Name, "rate", format.SampleRate, "channels", format.Channels)
		return stream, format, nil
	}
	return nil, audio.Format{}, fmt.Errorf("playback: no usable format on %q: %w", dev.Name, lastErr)
}

// candidateFormats orders (channels, rate) candidates from the device's
// reported profile: its native shape first, then common fallbacks.
func candidateFormats(dev audio.DeviceInfo) []audio.Format {
	channels := []int{2, 1}
	if dev.MaxChannels <= 1 {
		channels = []int{1}
	}
	rates := []int{dev.MaxSampleRate, 48000, 44100, 16000}

	var out []audio.Format
	seen := make(map[audio.Format]struct{})
	for _, ch := range channels {
		for _, rate := range rates {
			if rate <= 0 {
				continue
			}
			f := audio.Format{SampleRate: rate, Channels: ch}
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// Enqueue converts one server chunk to the device format and appends it to
// the ring. When the ring is full the oldest chunk is dropped and
// playback.dropped published. Chunks enqueued while not playing are ignored;
// they belong to a dead session.
func (p *Player) Enqueue(chunk audio.Chunk) {
	pcm := chunk.Data
	if chunk.DType == audio.DTypeFloat32 {
		pcm = audio.Float32ToInt16(pcm)
	}

	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	pcm = audio.ResampleNearestMono16(pcm, p.srcRate, p.devFormat.SampleRate)
	pcm = audio.MonoToChannels(pcm, p.devFormat.Channels)

	p.ring = append(p.ring, pcm)
	var droppedEvent *bus.PlaybackPayload
	if len(p.ring) > p.capacity {
		p.ring = p.ring[1:]
		if len(p.ring) == 1 {
			p.head = 0
		}
		p.dropped++
		droppedEvent = &bus.PlaybackPayload{SessionID: p.sessionID, Dropped: p.dropped}
	}
	p.mu.Unlock()

	if droppedEvent != nil {
		slog.Warn("playback ring overflow", "session_id", droppedEvent.SessionID, "dropped", droppedEvent.Dropped)
		p.bus.Publish(bus.EventPlaybackDropped, *droppedEvent)
	}
}

// Finish marks the stream complete: once the ring plays out,
// playback.completed is published and the device released.
func (p *Player) Finish() {
	p.mu.Lock()
	p.finishing = true
	empty := len(p.ring) == 0
	signal := empty && p.playing && !p.signalled
	if signal {
		p.signalled = true
	}
	done := p.done
	p.mu.Unlock()

	if signal {
		close(done)
	}
}

// Abort empties the ring and releases the device immediately, publishing
// playback.cancelled with the given reason. Safe to call when idle.
func (p *Player) Abort(reason string) {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = false
	sessionID := p.sessionID
	stream := p.stream
	p.stream = nil
	p.ring = nil
	p.head = 0
	ended := p.ended
	p.mu.Unlock()

	close(ended)
	if stream != nil {
		stream.Close()
	}
	slog.Info("playback aborted", "session_id", sessionID, "reason", reason)
	p.bus.Publish(bus.EventPlaybackCancelled, bus.PlaybackPayload{
		SessionID: sessionID,
		Reason:    reason,
	})
}

// awaitCompletion retires the session when the callback reports the ring
// drained after Finish. The ended channel wins when the session is aborted.
func (p *Player) awaitCompletion(sessionID int64, done, ended <-chan struct{}) {
	select {
	case <-ended:
		return
	case <-done:
	}

	p.mu.Lock()
	if !p.playing || p.sessionID != sessionID {
		p.mu.Unlock()
		return
	}
	p.playing = false
	stream := p.stream
	p.stream = nil
	p.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	slog.Debug("playback completed", "session_id", sessionID)
	p.bus.Publish(bus.EventPlaybackCompleted, bus.PlaybackPayload{SessionID: sessionID})
}

// Stop waits briefly for the ring to drain, then aborts whatever is left.
func (p *Player) Stop() {
	p.Finish()
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		if !p.Playing() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	p.Abort("stop_timeout")
}

// callback is the device data callback: fill out from the ring, pad with
// silence, and signal completion when a finishing session runs dry.
func (p *Player) callback(out []byte) {
	p.mu.Lock()

	n := 0
	for n < len(out) && len(p.ring) > 0 {
		chunk := p.ring[0]
		copied := copy(out[n:], chunk[p.head:])
		n += copied
		p.head += copied
		if p.head >= len(chunk) {
			p.ring = p.ring[1:]
			p.head = 0
		}
	}
	audio.Silence(out[n:])

	var done chan struct{}
	if p.playing && p.finishing && len(p.ring) == 0 && !p.signalled {
		p.signalled = true
		done = p.done
	}
	p.mu.Unlock()

	if done != nil {
		close(done)
	}
}

// HandleDeviceChange reacts to a default-output change: the stream is
// reopened on the new device with the ring intact, so everything already
// enqueued still plays, at the cost of a short silent gap.
func (p *Player) HandleDeviceChange(change audio.DeviceChange) {
	if change.Direction != audio.Playback {
		return
	}
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	old := p.stream
	p.stream = nil
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}

	stream, format, err := p.open(context.Background())

	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		if err == nil {
			stream.Close()
		}
		return
	}
	if err != nil {
		p.playing = false
		sessionID := p.sessionID
		ended := p.ended
		p.ring = nil
		p.mu.Unlock()
		close(ended)
		slog.Warn("playback lost on device switch", "error", err)
		p.bus.Publish(bus.EventPlaybackFailed, bus.PlaybackPayload{
			SessionID: sessionID,
			Reason:    err.Error(),
		})
		return
	}

	// The ring survives, but its chunks were converted for the old device;
	// a rate/channel mismatch on the new one is audible but brief. Incoming
	// chunks convert for the new format.
	p.devFormat = format
	p.stream = stream
	p.mu.Unlock()
	slog.Info("playback continued on new device", "device", change.Device.Name)
	p.bus.Publish(bus.EventAudioDeviceSwitched, bus.DeviceSwitchPayload{
		NewDevice: change.Device.Name,
	})
}

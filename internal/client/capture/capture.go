// Package capture records push-to-talk audio. While the hotkey is held the
// recorder appends device chunks to one in-memory buffer, normalised to
// 16 kHz mono int16 regardless of what format the device actually opened at.
// Device hot-swaps mid-capture reopen the stream on the new default after a
// short settle delay; the buffer carries across uninterrupted.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parla-assistant/parla/pkg/audio"
)

const (
	// TargetRate is the recogniser's native sample rate; every captured
	// chunk is converted to it.
	TargetRate = 16000

	// MinUtterance is the shortest buffer worth recognising. Anything below
	// is treated as an accidental tap and discarded.
	MinUtterance = 500 * time.Millisecond

	// DefaultSettleDelay is how long a device hot-swap is given to settle
	// before the stream is reopened on the new default.
	DefaultSettleDelay = 300 * time.Millisecond

	// frameSamples caps the device callback granularity.
	frameSamples = 1024
)

// Bluetooth input profiles. HFP devices expose a narrow mono path; A2DP
// (and wired) devices a wide one. The profile decides the sample-rate ladder.
const (
	ProfileHFP  = "hfp"
	ProfileA2DP = "a2dp"
)

var (
	hfpRates  = []int{16000, 8000}
	a2dpRates = []int{16000, 44100, 48000}
)

// Classify derives the input profile from what the device reports.
func Classify(dev audio.DeviceInfo) string {
	if dev.MaxChannels <= 1 && dev.MaxSampleRate <= 16000 {
		return ProfileHFP
	}
	return ProfileA2DP
}

// Option configures a [Recorder] during construction.
type Option func(*Recorder)

// WithSettleDelay overrides [DefaultSettleDelay].
func WithSettleDelay(d time.Duration) Option {
	return func(r *Recorder) {
		if d >= 0 {
			r.settle = d
		}
	}
}

// WithPolicy forces the input profile ("hfp" or "a2dp") instead of deriving
// it from the device. Any other value keeps auto-detection.
func WithPolicy(policy string) Option {
	return func(r *Recorder) {
		if policy == ProfileHFP || policy == ProfileA2DP {
			r.policy = policy
		}
	}
}

// WithSwitchErrorHandler registers fn for hot-swap reopen failures, which
// happen asynchronously and cannot be returned from any method.
func WithSwitchErrorHandler(fn func(error)) Option {
	return func(r *Recorder) { r.onSwitchErr = fn }
}

// Recorder owns one capture stream at a time. Safe for concurrent use; the
// device callback and the control methods share one lock.
type Recorder struct {
	platform    audio.Platform
	settle      time.Duration
	policy      string // "" = auto
	onSwitchErr func(error)

	mu     sync.Mutex
	active bool
	stream audio.Stream
	buf    []byte // 16 kHz mono int16
}

// NewRecorder creates a Recorder on platform.
func NewRecorder(platform audio.Platform, opts ...Option) *Recorder {
	r := &Recorder{
		platform: platform,
		settle:   DefaultSettleDelay,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Active reports whether a capture is in progress.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start opens a capture stream on the system default input and begins
// buffering. Starting an active recorder is a no-op. Errors wrap the audio
// sentinels: [audio.ErrNoDevice] means no input exists,
// [audio.ErrPermissionDenied] that the OS refused the microphone.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return nil
	}

	stream, err := r.openLocked(ctx)
	if err != nil {
		return err
	}
	r.stream = stream
	r.buf = r.buf[:0]
	r.active = true
	slog.Debug("capture started", "device", stream.Device().Name)
	return nil
}

// openLocked walks the profile's (channels, rate) ladder against the current
// default device and returns the first stream that opens.
func (r *Recorder) openLocked(ctx context.Context) (audio.Stream, error) {
	dev, err := r.platform.DefaultDevice(ctx, audio.Capture)
	if err != nil {
		return nil, fmt.Errorf("capture: default input: %w", err)
	}

	profile := r.policy
	if profile == "" {
		profile = Classify(dev)
	}
	rates := a2dpRates
	if profile == ProfileHFP {
		rates = hfpRates
	}

	var lastErr error
	for _, rate := range rates {
		for _, channels := range []int{1, 2} {
			format := audio.Format{SampleRate: rate, Channels: channels}
			stream, err := r.platform.Open(ctx, audio.Capture, audio.StreamConfig{
				Format:       format,
				FrameSamples: frameSamples,
			}, r.dataFunc(format))
			if err != nil {
				lastErr = err
				continue
			}
			if err := stream.Start(); err != nil {
				stream.Close()
				lastErr = err
				continue
			}
			slog.Debug("capture stream open",
				"device", dev.Name, "profile", profile, "rate", rate, "channels", channels)
			return stream, nil
		}
	}
	return nil, fmt.Errorf("capture: no usable format on %q: %w", dev.Name, lastErr)
}

// dataFunc builds the device callback for a stream opened at format. The
// conversion to 16 kHz mono happens here so the buffer stays uniform across
// hot-swaps to differently-shaped devices.
func (r *Recorder) dataFunc(format audio.Format) audio.DataFunc {
	return func(data []byte) {
		pcm := data
		if format.Channels >= 2 {
			pcm = audio.StereoToMono(pcm)
		}
		pcm = audio.ResampleNearestMono16(pcm, format.SampleRate, TargetRate)

		r.mu.Lock()
		if r.active {
			r.buf = append(r.buf, pcm...)
		}
		r.mu.Unlock()
	}
}

// Stop closes the stream and returns the captured utterance. Buffers shorter
// than [MinUtterance] are discarded and nil is returned. Stopping an
// inactive recorder returns nil.
func (r *Recorder) Stop() []byte {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil
	}
	r.active = false
	stream := r.stream
	r.stream = nil
	buf := r.buf
	r.buf = nil
	r.mu.Unlock()

	// Closed outside the lock: the backend may wait for an in-flight data
	// callback, and that callback takes the same lock.
	if stream != nil {
		stream.Close()
	}
	held := pcmDuration(len(buf))
	if held < MinUtterance {
		slog.Debug("capture discarded", "held", held)
		return nil
	}
	slog.Debug("capture stopped", "held", held, "bytes", len(buf))
	return buf
}

// Abort discards the buffer and releases the device without returning audio.
func (r *Recorder) Abort() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	stream := r.stream
	r.stream = nil
	r.buf = nil
	r.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
}

// HandleDeviceChange reacts to a default-input change. If a capture is in
// progress the stream is reopened on the new default after the settle delay;
// the buffer carries across. Reopen failures abort the capture and are
// reported through the switch-error handler.
func (r *Recorder) HandleDeviceChange(change audio.DeviceChange) {
	if change.Direction != audio.Capture {
		return
	}
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if !active {
		return
	}

	go func() {
		time.Sleep(r.settle)

		r.mu.Lock()
		if !r.active {
			r.mu.Unlock()
			return
		}
		old := r.stream
		r.stream = nil
		r.mu.Unlock()
		if old != nil {
			old.Close()
		}

		r.mu.Lock()
		if !r.active {
			r.mu.Unlock()
			return
		}
		stream, err := r.openLocked(context.Background())
		if err != nil {
			r.active = false
			r.buf = nil
			r.mu.Unlock()
			slog.Warn("capture lost on device switch", "error", err)
			if r.onSwitchErr != nil {
				r.onSwitchErr(err)
			}
			return
		}
		r.stream = stream
		r.mu.Unlock()
		slog.Info("capture continued on new device", "device", change.Device.Name)
	}()
}

// pcmDuration returns the play time of n bytes of 16 kHz mono int16.
func pcmDuration(n int) time.Duration {
	return time.Duration(n/2) * time.Second / TargetRate
}

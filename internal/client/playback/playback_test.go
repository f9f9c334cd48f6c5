package playback_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parla-assistant/parla/internal/bus"
	"github.com/parla-assistant/parla/internal/client/playback"
	"github.com/parla-assistant/parla/pkg/audio"
	audiomock "github.com/parla-assistant/parla/pkg/audio/mock"
)

// monoOutput opens straight at the source format, so chunk bytes survive the
// enqueue path unchanged and tests can assert on content.
var monoOutput = audio.DeviceInfo{
	ID: "spk", Name: "Speaker", Direction: audio.Playback,
	MaxChannels: 1, MaxSampleRate: 16000,
}

type busEvent struct {
	name    string
	payload any
}

// watch subscribes the playback event names and returns a channel of
// delivered events.
func watch(b *bus.Bus) <-chan busEvent {
	events := make(chan busEvent, 32)
	for _, name := range []string{
		bus.EventPlaybackStarted,
		bus.EventPlaybackCompleted,
		bus.EventPlaybackFailed,
		bus.EventPlaybackCancelled,
		bus.EventPlaybackDropped,
		bus.EventAudioDeviceSwitched,
	} {
		name := name
		b.Subscribe(name, func(ev bus.Event) {
			events <- busEvent{name: name, payload: ev.Payload}
		})
	}
	return events
}

func expect(t *testing.T, events <-chan busEvent, want string) busEvent {
	t.Helper()
	select {
	case got := <-events:
		if got.name != want {
			t.Fatalf("event = %q, want %q", got.name, want)
		}
		return got
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
		return busEvent{}
	}
}

// chunk builds an int16 mono chunk whose bytes all carry v.
func chunk(n int, v byte) audio.Chunk {
	data := bytes.Repeat([]byte{v}, n)
	return audio.Chunk{DType: audio.DTypeInt16, Shape: []int{n / 2}, Data: data}
}

func TestPlayDrainCompletes(t *testing.T) {
	t.Parallel()

	b := bus.New()
	events := watch(b)
	platform := &audiomock.Platform{OutputDevice: monoOutput}
	p := playback.NewPlayer(b, platform)

	if err := p.Start(context.Background(), 7); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	expect(t, events, bus.EventPlaybackStarted)

	p.Enqueue(chunk(640, 0x11))
	p.Finish()

	stream := platform.LastStream()
	if out := stream.Pull(640); !bytes.Equal(out, bytes.Repeat([]byte{0x11}, 640)) {
		t.Error("device did not receive the enqueued audio")
	}

	got := expect(t, events, bus.EventPlaybackCompleted)
	if pl := got.payload.(bus.PlaybackPayload); pl.SessionID != 7 {
		t.Errorf("completed SessionID = %d, want 7", pl.SessionID)
	}

	deadline := time.Now().Add(time.Second)
	for !stream.Closed() {
		if time.Now().After(deadline) {
			t.Fatal("completion must release the device")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestCallbackPadsWithSilence(t *testing.T) {
	t.Parallel()

	platform := &audiomock.Platform{OutputDevice: monoOutput}
	p := playback.NewPlayer(bus.New(), platform)

	if err := p.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	p.Enqueue(chunk(4, 0x22))

	out := platform.LastStream().Pull(8)
	if !bytes.Equal(out[:4], []byte{0x22, 0x22, 0x22, 0x22}) {
		t.Error("queued audio missing from the front of the buffer")
	}
	if !bytes.Equal(out[4:], make([]byte, 4)) {
		t.Error("buffer tail past the queue must be silence")
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	t.Parallel()

	b := bus.New()
	events := watch(b)
	platform := &audiomock.Platform{OutputDevice: monoOutput}
	p := playback.NewPlayer(b, platform, playback.WithCapacity(2))

	if err := p.Start(context.Background(), 3); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	expect(t, events, bus.EventPlaybackStarted)

	p.Enqueue(chunk(4, 0x01))
	p.Enqueue(chunk(4, 0x02))
	p.Enqueue(chunk(4, 0x03))

	got := expect(t, events, bus.EventPlaybackDropped)
	if pl := got.payload.(bus.PlaybackPayload); pl.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", pl.Dropped)
	}

	out := platform.LastStream().Pull(8)
	want := []byte{0x02, 0x02, 0x02, 0x02, 0x03, 0x03, 0x03, 0x03}
	if !bytes.Equal(out, want) {
		t.Errorf("after overflow got % x, want the two newest chunks % x", out, want)
	}
}

func TestAbortEmptiesWithinBudget(t *testing.T) {
	t.Parallel()

	b := bus.New()
	events := watch(b)
	platform := &audiomock.Platform{OutputDevice: monoOutput}
	p := playback.NewPlayer(b, platform)

	if err := p.Start(context.Background(), 9); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	expect(t, events, bus.EventPlaybackStarted)
	for i := 0; i < 10; i++ {
		p.Enqueue(chunk(3200, 0x44))
	}

	start := time.Now()
	p.Abort("interrupt")
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Abort took %v, want under 200ms", elapsed)
	}

	got := expect(t, events, bus.EventPlaybackCancelled)
	pl := got.payload.(bus.PlaybackPayload)
	if pl.SessionID != 9 || pl.Reason != "interrupt" {
		t.Errorf("cancelled payload = %+v", pl)
	}
	if p.Playing() {
		t.Error("player still playing after Abort")
	}
	if !platform.LastStream().Closed() {
		t.Error("Abort must release the device")
	}

	// Late chunks belong to a dead session and must be ignored.
	p.Enqueue(chunk(4, 0x55))
}

func TestFinishOnEmptyRingCompletesImmediately(t *testing.T) {
	t.Parallel()

	b := bus.New()
	events := watch(b)
	platform := &audiomock.Platform{OutputDevice: monoOutput}
	p := playback.NewPlayer(b, platform)

	if err := p.Start(context.Background(), 5); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	expect(t, events, bus.EventPlaybackStarted)

	p.Finish()
	expect(t, events, bus.EventPlaybackCompleted)
}

func TestStartFailurePublishesFailed(t *testing.T) {
	t.Parallel()

	b := bus.New()
	events := watch(b)
	platform := &audiomock.Platform{OpenErr: errors.New("device busy")}
	p := playback.NewPlayer(b, platform)

	if err := p.Start(context.Background(), 2); err == nil {
		t.Fatal("Start() succeeded against a busy device")
	}
	got := expect(t, events, bus.EventPlaybackFailed)
	if pl := got.payload.(bus.PlaybackPayload); pl.SessionID != 2 || pl.Reason == "" {
		t.Errorf("failed payload = %+v", pl)
	}
}

func TestFloat32ChunksConverted(t *testing.T) {
	t.Parallel()

	platform := &audiomock.Platform{OutputDevice: monoOutput}
	p := playback.NewPlayer(bus.New(), platform)

	if err := p.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Four float32 samples become four int16 samples.
	f32 := audio.Chunk{DType: audio.DTypeFloat32, Shape: []int{4}, Data: make([]byte, 16)}
	p.Enqueue(f32)

	out := platform.LastStream().Pull(8)
	if len(out) != 8 {
		t.Fatalf("Pull returned %d bytes, want 8", len(out))
	}
}

func TestStereoDeviceGetsFannedOutAudio(t *testing.T) {
	t.Parallel()

	platform := &audiomock.Platform{
		OutputDevice: audio.DeviceInfo{
			ID: "hdmi", Name: "HDMI", Direction: audio.Playback,
			MaxChannels: 2, MaxSampleRate: 16000,
		},
	}
	p := playback.NewPlayer(bus.New(), platform)

	if err := p.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := platform.LastStream().Config().Format.Channels; got != 2 {
		t.Fatalf("opened %d channels, want 2", got)
	}

	// One mono sample duplicates into both channels.
	p.Enqueue(audio.Chunk{DType: audio.DTypeInt16, Shape: []int{1}, Data: []byte{0x0A, 0x0B}})
	out := platform.LastStream().Pull(4)
	want := []byte{0x0A, 0x0B, 0x0A, 0x0B}
	if !bytes.Equal(out, want) {
		t.Errorf("stereo fan-out got % x, want % x", out, want)
	}
}

func TestDeviceHotSwapKeepsQueue(t *testing.T) {
	t.Parallel()

	b := bus.New()
	events := watch(b)
	platform := &audiomock.Platform{OutputDevice: monoOutput}
	p := playback.NewPlayer(b, platform)

	if err := p.Start(context.Background(), 4); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	expect(t, events, bus.EventPlaybackStarted)
	first := platform.LastStream()
	p.Enqueue(chunk(8, 0x66))

	newDev := audio.DeviceInfo{
		ID: "airpods", Name: "AirPods", Direction: audio.Playback,
		MaxChannels: 1, MaxSampleRate: 16000,
	}
	platform.OutputDevice = newDev
	p.HandleDeviceChange(audio.DeviceChange{Direction: audio.Playback, Device: newDev})

	got := expect(t, events, bus.EventAudioDeviceSwitched)
	if pl := got.payload.(bus.DeviceSwitchPayload); pl.NewDevice != "AirPods" {
		t.Errorf("NewDevice = %q, want AirPods", pl.NewDevice)
	}
	if !first.Closed() {
		t.Error("old stream must be closed on hot-swap")
	}

	second := platform.LastStream()
	if second == first {
		t.Fatal("stream was never reopened on the new device")
	}
	if out := second.Pull(8); !bytes.Equal(out, bytes.Repeat([]byte{0x66}, 8)) {
		t.Error("queued audio lost across the device switch")
	}
}

func TestCaptureDeviceChangeIgnored(t *testing.T) {
	t.Parallel()

	platform := &audiomock.Platform{OutputDevice: monoOutput}
	p := playback.NewPlayer(bus.New(), platform)

	if err := p.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first := platform.LastStream()

	p.HandleDeviceChange(audio.DeviceChange{Direction: audio.Capture})
	if platform.LastStream() != first || first.Closed() {
		t.Error("an input change must not disturb playback")
	}
}

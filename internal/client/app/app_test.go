package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/parla-assistant/parla/internal/bus"
	"github.com/parla-assistant/parla/internal/client/app"
	"github.com/parla-assistant/parla/internal/mode"
	"github.com/parla-assistant/parla/pkg/audio"
)

// ─── Fakes ───

type fakeCapture struct {
	mu       sync.Mutex
	started  int
	stopped  int
	aborted  int
	pcm      []byte
	startErr error
}

func (f *fakeCapture) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeCapture) Stop() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return f.pcm
}

func (f *fakeCapture) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted++
}

func (f *fakeCapture) HandleDeviceChange(audio.DeviceChange) {}

func (f *fakeCapture) counts() (started, stopped, aborted int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped, f.aborted
}

type recognizeCall struct {
	sessionID int64
	pcmLen    int
}

type fakeRecognizer struct {
	calls    chan recognizeCall
	failures chan error
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{
		calls:    make(chan recognizeCall, 4),
		failures: make(chan error, 4),
	}
}

func (f *fakeRecognizer) Recognize(_ context.Context, sessionID int64, pcm []byte) {
	f.calls <- recognizeCall{sessionID: sessionID, pcmLen: len(pcm)}
}

func (f *fakeRecognizer) FailCapture(_ int64, err error) { f.failures <- err }

type fakePlayer struct {
	mu       sync.Mutex
	playing  bool
	started  []int64
	enqueued []audio.Chunk
	finished int
	aborted  []string
}

func (f *fakePlayer) Start(_ context.Context, sessionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = true
	f.started = append(f.started, sessionID)
	return nil
}

func (f *fakePlayer) Enqueue(c audio.Chunk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, c)
}

func (f *fakePlayer) Finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished++
}

func (f *fakePlayer) Abort(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
	f.aborted = append(f.aborted, reason)
}

func (f *fakePlayer) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakePlayer) HandleDeviceChange(audio.DeviceChange) {}

type sendCall struct {
	sessionID int64
	prompt    string
}

type fakeRPC struct {
	mu         sync.Mutex
	sends      chan sendCall
	cancels    int
	interrupts chan struct{}
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		sends:      make(chan sendCall, 4),
		interrupts: make(chan struct{}, 4),
	}
}

func (f *fakeRPC) Send(_ context.Context, sessionID int64, prompt string) {
	f.sends <- sendCall{sessionID: sessionID, prompt: prompt}
}

func (f *fakeRPC) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeRPC) Interrupt(context.Context) { f.interrupts <- struct{}{} }

func (f *fakeRPC) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

type fakeShots struct{ calls chan int64 }

func newFakeShots() *fakeShots { return &fakeShots{calls: make(chan int64, 4)} }

func (f *fakeShots) Capture(sessionID int64) { f.calls <- sessionID }

// ─── Harness ───

type harness struct {
	bus        *bus.Bus
	ctrl       *mode.Controller
	capture    *fakeCapture
	recognizer *fakeRecognizer
	player     *fakePlayer
	rpc        *fakeRPC
	shots      *fakeShots
}

func newHarness(t *testing.T, opts ...app.Option) *harness {
	t.Helper()

	h := &harness{
		bus:        bus.New(),
		capture:    &fakeCapture{pcm: make([]byte, 16000*2)},
		recognizer: newFakeRecognizer(),
		player:     &fakePlayer{},
		rpc:        newFakeRPC(),
		shots:      newFakeShots(),
	}
	h.ctrl = mode.NewController(h.bus)

	a := app.New(h.bus, h.ctrl, h.capture, h.recognizer, h.player, h.rpc, h.shots, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a.Attach(ctx)
	return h
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

// talk walks the harness through press-hold-release and returns the session
// id once recognition has been invoked.
func (h *harness) talk(t *testing.T) int64 {
	t.Helper()
	h.bus.Publish(bus.EventKeyboardPress, bus.KeyPayload{})
	if got := h.ctrl.Mode(); got != mode.Listening {
		t.Fatalf("mode after press = %v, want LISTENING", got)
	}
	h.bus.Publish(bus.EventKeyboardRelease, bus.KeyPayload{})
	call := recv(t, h.recognizer.calls, "recognition")
	return call.sessionID
}

// ─── Scenarios ───

func TestHappyPathSessionLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sessionID := h.talk(t)

	if started, stopped, _ := h.capture.counts(); started != 1 || stopped != 1 {
		t.Errorf("capture started/stopped = %d/%d, want 1/1", started, stopped)
	}
	if shot := recv(t, h.shots.calls, "screenshot"); shot != sessionID {
		t.Errorf("screenshot session = %d, want %d", shot, sessionID)
	}

	h.bus.Publish(bus.EventRecognitionCompleted, bus.RecognitionPayload{
		SessionID: sessionID, Text: "what time is it", Confidence: 1.0, Language: "en",
	})
	if got := h.ctrl.Mode(); got != mode.Processing {
		t.Fatalf("mode after recognition = %v, want PROCESSING", got)
	}
	send := recv(t, h.rpc.sends, "rpc send")
	if send.sessionID != sessionID || send.prompt != "what time is it" {
		t.Errorf("send = %+v", send)
	}

	h.bus.Publish(bus.EventGrpcResponseAudio, bus.ResponseAudioPayload{
		SessionID: sessionID, DType: "int16", Shape: []int{2, 1}, Data: []byte{1, 2, 3, 4},
	})
	if !h.player.Playing() {
		t.Fatal("first audio chunk must start playback")
	}

	h.bus.Publish(bus.EventGrpcRequestCompleted, bus.GrpcResultPayload{SessionID: sessionID})
	h.player.mu.Lock()
	finished := h.player.finished
	h.player.mu.Unlock()
	if finished != 1 {
		t.Errorf("player.Finish calls = %d, want 1", finished)
	}

	h.bus.Publish(bus.EventPlaybackCompleted, bus.PlaybackPayload{SessionID: sessionID})
	if got := h.ctrl.Mode(); got != mode.Sleeping {
		t.Errorf("mode after playback = %v, want SLEEPING", got)
	}
}

func TestNoSpeechReturnsToSleep(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sessionID := h.talk(t)

	h.bus.Publish(bus.EventRecognitionFailed, bus.RecognitionErrorPayload{
		SessionID: sessionID, Kind: "no_speech",
	})
	if got := h.ctrl.Mode(); got != mode.Sleeping {
		t.Errorf("mode = %v, want SLEEPING", got)
	}
	select {
	case s := <-h.rpc.sends:
		t.Errorf("unexpected rpc send %+v", s)
	default:
	}
}

func TestInterruptDuringProcessing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sessionID := h.talk(t)
	h.bus.Publish(bus.EventRecognitionCompleted, bus.RecognitionPayload{
		SessionID: sessionID, Text: "tell me a long story",
	})
	recv(t, h.rpc.sends, "rpc send")

	h.bus.Publish(bus.EventInterruptRequest, nil)
	if got := h.ctrl.Mode(); got != mode.Sleeping {
		t.Fatalf("mode after interrupt = %v, want SLEEPING", got)
	}
	if h.rpc.cancelCount() != 1 {
		t.Error("interrupt must cancel the in-flight RPC")
	}
	recv(t, h.rpc.interrupts, "interrupt control message")
	h.player.mu.Lock()
	aborted := append([]string(nil), h.player.aborted...)
	h.player.mu.Unlock()
	if len(aborted) != 1 || aborted[0] != "interrupt" {
		t.Errorf("player aborts = %v", aborted)
	}

	// Audio still in flight for the dead session is discarded.
	h.bus.Publish(bus.EventGrpcResponseAudio, bus.ResponseAudioPayload{
		SessionID: sessionID, DType: "int16", Shape: []int{1, 1}, Data: []byte{0, 0},
	})
	h.player.mu.Lock()
	enqueued := len(h.player.enqueued)
	h.player.mu.Unlock()
	if enqueued != 0 {
		t.Error("audio for a dead session reached the player")
	}
}

func TestInterruptEmitsCriticalModeRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	requests := make(chan bus.Event, 4)
	h.bus.Subscribe(bus.EventModeRequest, func(ev bus.Event) { requests <- ev })

	sessionID := h.talk(t)
	h.bus.Publish(bus.EventRecognitionCompleted, bus.RecognitionPayload{
		SessionID: sessionID, Text: "tell me everything",
	})
	recv(t, h.rpc.sends, "rpc send")

	h.bus.Publish(bus.EventInterruptRequest, nil)

	ev := recv(t, requests, "mode.request")
	if ev.Priority != bus.Critical {
		t.Errorf("mode.request priority = %v, want CRITICAL", ev.Priority)
	}
	p := ev.Payload.(bus.ModeRequestPayload)
	if p.Source != bus.SourceInterrupt || p.Target != string(mode.Sleeping) {
		t.Errorf("mode.request = %+v, want interrupt → SLEEPING", p)
	}
	if got := h.ctrl.Mode(); got != mode.Sleeping {
		t.Errorf("mode = %v, want SLEEPING", got)
	}
}

func TestShortPressActsAsInterrupt(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sessionID := h.talk(t)
	h.bus.Publish(bus.EventRecognitionCompleted, bus.RecognitionPayload{
		SessionID: sessionID, Text: "keep talking",
	})
	recv(t, h.rpc.sends, "rpc send")

	h.bus.Publish(bus.EventKeyboardShortPress, bus.KeyPayload{})
	if got := h.ctrl.Mode(); got != mode.Sleeping {
		t.Errorf("mode after short press = %v, want SLEEPING", got)
	}
	recv(t, h.rpc.interrupts, "interrupt control message")
}

func TestPressWhileProcessingRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sessionID := h.talk(t)
	h.bus.Publish(bus.EventRecognitionCompleted, bus.RecognitionPayload{
		SessionID: sessionID, Text: "still working",
	})
	recv(t, h.rpc.sends, "rpc send")

	h.bus.Publish(bus.EventKeyboardPress, bus.KeyPayload{})
	if got := h.ctrl.Mode(); got != mode.Processing {
		t.Errorf("mode = %v, want PROCESSING to survive the press", got)
	}
	if started, _, _ := h.capture.counts(); started != 1 {
		t.Errorf("capture started %d times, want the rejected press to not record", started)
	}
}

func TestShortTapDiscardsRecordingAndInterrupts(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	recording := make(chan bus.Event, 4)
	h.bus.Subscribe(bus.EventRecordingStart, func(ev bus.Event) { recording <- ev })
	h.bus.Subscribe(bus.EventRecordingStop, func(ev bus.Event) { recording <- ev })

	h.bus.Publish(bus.EventKeyboardPress, bus.KeyPayload{})
	if got := h.ctrl.Mode(); got != mode.Listening {
		t.Fatalf("mode after press = %v, want LISTENING", got)
	}
	start := recv(t, recording, "recording_start")
	if start.Name != bus.EventRecordingStart {
		t.Fatalf("first recording event = %q", start.Name)
	}
	sessionID := start.Payload.(bus.SessionPayload).SessionID

	// Key up before the long-press threshold: the tap is an interrupt and the
	// short capture never reaches recognition.
	h.bus.Publish(bus.EventKeyboardShortPress, bus.KeyPayload{})

	stop := recv(t, recording, "recording_stop")
	if stop.Name != bus.EventRecordingStop {
		t.Fatalf("second recording event = %q", stop.Name)
	}
	if got := stop.Payload.(bus.SessionPayload).SessionID; got != sessionID {
		t.Errorf("recording_stop session = %d, want %d", got, sessionID)
	}
	if got := h.ctrl.Mode(); got != mode.Sleeping {
		t.Errorf("mode after tap = %v, want SLEEPING", got)
	}
	if _, stopped, aborted := h.capture.counts(); stopped != 0 || aborted == 0 {
		t.Errorf("capture stopped/aborted = %d/%d, want the buffer discarded", stopped, aborted)
	}
	recv(t, h.rpc.interrupts, "interrupt control message")
	select {
	case call := <-h.recognizer.calls:
		t.Errorf("discarded capture reached recognition: %+v", call)
	default:
	}
}

func TestStaleRecognitionAfterInterruptDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sessionID := h.talk(t)

	h.bus.Publish(bus.EventInterruptRequest, nil)
	if got := h.ctrl.Mode(); got != mode.Sleeping {
		t.Fatalf("mode after interrupt = %v, want SLEEPING", got)
	}

	h.bus.Publish(bus.EventRecognitionCompleted, bus.RecognitionPayload{
		SessionID: sessionID, Text: "too late",
	})
	if got := h.ctrl.Mode(); got != mode.Sleeping {
		t.Errorf("stale recognition moved mode to %v", got)
	}
	select {
	case s := <-h.rpc.sends:
		t.Errorf("stale recognition reached the server: %+v", s)
	default:
	}
}

func TestCaptureFailureReportsAndSleeps(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.capture.startErr = audio.ErrNoDevice

	h.bus.Publish(bus.EventKeyboardPress, bus.KeyPayload{})

	if err := recv(t, h.recognizer.failures, "capture failure"); err != audio.ErrNoDevice {
		t.Errorf("failure = %v, want ErrNoDevice", err)
	}
	if got := h.ctrl.Mode(); got != mode.Sleeping {
		t.Errorf("mode = %v, want SLEEPING after a capture failure", got)
	}
}

func TestGreetingSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, app.WithGreeting("Good morning!"))

	h.bus.Publish(bus.EventGreetingRequest, nil)
	if got := h.ctrl.Mode(); got != mode.Processing {
		t.Fatalf("mode = %v, want PROCESSING for the greeting", got)
	}
	send := recv(t, h.rpc.sends, "greeting send")
	if send.prompt != "Good morning!" {
		t.Errorf("greeting prompt = %q", send.prompt)
	}

	h.bus.Publish(bus.EventGrpcRequestCompleted, bus.GrpcResultPayload{SessionID: send.sessionID})
	if got := h.ctrl.Mode(); got != mode.Sleeping {
		t.Errorf("mode after greeting = %v, want SLEEPING", got)
	}
}

func TestRequestFailureSleeps(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sessionID := h.talk(t)
	h.bus.Publish(bus.EventRecognitionCompleted, bus.RecognitionPayload{
		SessionID: sessionID, Text: "hello",
	})
	recv(t, h.rpc.sends, "rpc send")

	h.bus.Publish(bus.EventGrpcRequestFailed, bus.GrpcResultPayload{
		SessionID: sessionID, Err: "server gone",
	})
	if got := h.ctrl.Mode(); got != mode.Sleeping {
		t.Errorf("mode = %v, want SLEEPING after a failed request", got)
	}
}

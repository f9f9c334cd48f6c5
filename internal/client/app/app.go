// Package app wires the client components into the push-to-talk flow. It
// subscribes to the bus, drives the mode controller and tells capture,
// recognition, the gRPC client and playback when to act. All policy lives
// here; the components below it are mechanism only.
package app

import (
	"context"
	"log/slog"

	"github.com/parla-assistant/parla/internal/bus"
	"github.com/parla-assistant/parla/internal/mode"
	"github.com/parla-assistant/parla/pkg/audio"
)

// DefaultGreeting is the prompt sent for a greeting session.
const DefaultGreeting = "Greet the user briefly and ask how you can help."

// Capturer records one utterance at a time.
type Capturer interface {
	Start(ctx context.Context) error
	Stop() []byte
	Abort()
	HandleDeviceChange(audio.DeviceChange)
}

// Recognizer turns a captured utterance into recognition events.
type Recognizer interface {
	Recognize(ctx context.Context, sessionID int64, pcm []byte)
	FailCapture(sessionID int64, err error)
}

// Player streams response audio to the speakers.
type Player interface {
	Start(ctx context.Context, sessionID int64) error
	Enqueue(chunk audio.Chunk)
	Finish()
	Abort(reason string)
	Playing() bool
	HandleDeviceChange(audio.DeviceChange)
}

// Requester is the voice RPC client.
type Requester interface {
	Send(ctx context.Context, sessionID int64, prompt string)
	Cancel()
	Interrupt(ctx context.Context)
}

// Screenshotter captures the screen for a session.
type Screenshotter interface {
	Capture(sessionID int64)
}

// Option configures an [App] during construction.
type Option func(*App)

// WithGreeting overrides [DefaultGreeting]. Empty disables the greeting
// handler entirely.
func WithGreeting(prompt string) Option {
	return func(a *App) { a.greeting = prompt }
}

// App is the client orchestrator. Construct with [New], then call [App.Run].
type App struct {
	bus        *bus.Bus
	ctrl       *mode.Controller
	capture    Capturer
	recognizer Recognizer
	player     Player
	rpc        Requester
	shots      Screenshotter
	greeting   string

	ctx context.Context // run context for handler goroutines
}

// New creates an App over the given components. The controller must be
// subscribed on the same bus.
func New(b *bus.Bus, ctrl *mode.Controller, capture Capturer, recognizer Recognizer,
	player Player, rpc Requester, shots Screenshotter, opts ...Option) *App {
	a := &App{
		bus:        b,
		ctrl:       ctrl,
		capture:    capture,
		recognizer: recognizer,
		player:     player,
		rpc:        rpc,
		shots:      shots,
		greeting:   DefaultGreeting,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterDeviceChanges routes OS default-device changes to capture and
// playback.
func (a *App) RegisterDeviceChanges(platform audio.Platform) {
	platform.OnDeviceChange(func(change audio.DeviceChange) {
		a.capture.HandleDeviceChange(change)
		a.player.HandleDeviceChange(change)
	})
}

// Attach subscribes all handlers. ctx is the lifetime for the goroutines the
// handlers spawn (recognition, RPC).
func (a *App) Attach(ctx context.Context) {
	a.ctx = ctx

	a.bus.Subscribe(bus.EventKeyboardPress, func(bus.Event) { a.onPress() })
	a.bus.Subscribe(bus.EventKeyboardRelease, func(bus.Event) { a.onRelease() })
	a.bus.Subscribe(bus.EventKeyboardShortPress, func(bus.Event) { a.onShortPress() })
	a.bus.Subscribe(bus.EventInterruptRequest, func(bus.Event) { a.onInterrupt() })

	a.bus.Subscribe(bus.EventRecognitionCompleted, func(ev bus.Event) {
		if p, ok := ev.Payload.(bus.RecognitionPayload); ok {
			a.onRecognized(p)
		}
	})
	a.bus.Subscribe(bus.EventRecognitionFailed, func(ev bus.Event) { a.onRecognitionLost(ev) })
	a.bus.Subscribe(bus.EventRecognitionTimeout, func(ev bus.Event) { a.onRecognitionLost(ev) })

	a.bus.Subscribe(bus.EventGrpcResponseAudio, func(ev bus.Event) {
		if p, ok := ev.Payload.(bus.ResponseAudioPayload); ok {
			a.onResponseAudio(p)
		}
	})
	a.bus.Subscribe(bus.EventGrpcRequestCompleted, func(ev bus.Event) {
		if p, ok := ev.Payload.(bus.GrpcResultPayload); ok {
			a.onRequestCompleted(p)
		}
	})
	a.bus.Subscribe(bus.EventGrpcRequestFailed, func(ev bus.Event) {
		if p, ok := ev.Payload.(bus.GrpcResultPayload); ok {
			a.onRequestFailed(p)
		}
	})

	a.bus.Subscribe(bus.EventPlaybackCompleted, func(ev bus.Event) {
		if p, ok := ev.Payload.(bus.PlaybackPayload); ok {
			a.toSleep("playback", p.SessionID)
		}
	})
	a.bus.Subscribe(bus.EventPlaybackFailed, func(ev bus.Event) {
		if p, ok := ev.Payload.(bus.PlaybackPayload); ok {
			a.toSleep("playback", p.SessionID)
		}
	})

	if a.greeting != "" {
		a.bus.Subscribe(bus.EventGreetingRequest, func(bus.Event) { a.onGreeting() })
	}
}

// Run attaches the handlers and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.Attach(ctx)
	<-ctx.Done()
	return ctx.Err()
}

// onPress opens a new push-to-talk session the instant the key goes down, so
// the head of the utterance is captured. A press while PROCESSING is rejected
// by the mode table and ignored; the user interrupts first.
func (a *App) onPress() {
	sessionID := mode.NewSessionID()
	a.ctrl.Apply(mode.Request{Target: mode.Listening, Source: "keyboard", SessionID: sessionID})
	if a.ctrl.Mode() != mode.Listening {
		return
	}

	a.bus.Publish(bus.EventRecordingStart, bus.SessionPayload{SessionID: sessionID, Source: "keyboard"})
	if err := a.capture.Start(a.ctx); err != nil {
		a.recognizer.FailCapture(sessionID, err)
		a.toSleep("capture", sessionID)
	}
}

// onShortPress ends a sub-threshold press: the few-hundred-millisecond
// capture is discarded, its stop event still appears in the timeline, and the
// tap doubles as the interrupt gesture.
func (a *App) onShortPress() {
	if a.ctrl.Mode() == mode.Listening {
		sessionID := a.ctrl.Session()
		a.bus.Publish(bus.EventRecordingStop, bus.SessionPayload{SessionID: sessionID, Source: "keyboard"})
		a.capture.Abort()
	}
	a.bus.Publish(bus.EventInterruptRequest, nil)
}

// onRelease closes the capture and hands the utterance to recognition while
// the screenshot is taken in parallel.
func (a *App) onRelease() {
	if a.ctrl.Mode() != mode.Listening {
		return
	}
	sessionID := a.ctrl.Session()
	a.bus.Publish(bus.EventRecordingStop, bus.SessionPayload{SessionID: sessionID, Source: "keyboard"})

	pcm := a.capture.Stop()
	go a.shots.Capture(sessionID)
	go a.recognizer.Recognize(a.ctx, sessionID, pcm)
}

// onInterrupt drops everything: mode to SLEEPING with the override source,
// playback emptied, the in-flight RPC cancelled and the server told to stop.
// The mode change goes over the bus so the CRITICAL mode.request is visible
// to every subscriber, not just the controller.
func (a *App) onInterrupt() {
	a.requestMode(mode.Sleeping, bus.SourceInterrupt, 0)
	a.capture.Abort()
	a.player.Abort("interrupt")
	a.rpc.Cancel()
	go a.rpc.Interrupt(a.ctx)
}

// onRecognized moves to PROCESSING and fires the RPC. An empty transcript
// cannot happen here; recognition publishes a failure for that.
func (a *App) onRecognized(p bus.RecognitionPayload) {
	// An interrupt clears the session; a transcript landing afterwards
	// belongs to nobody.
	if a.ctrl.Session() != p.SessionID {
		slog.Debug("recognition for a dead session dropped", "session_id", p.SessionID)
		return
	}
	a.ctrl.Apply(mode.Request{Target: mode.Processing, Source: "recognition", SessionID: p.SessionID})
	if a.ctrl.Mode() != mode.Processing || a.ctrl.Session() != p.SessionID {
		slog.Debug("recognition for a dead session dropped", "session_id", p.SessionID)
		return
	}
	go a.rpc.Send(a.ctx, p.SessionID, p.Text)
}

func (a *App) onRecognitionLost(ev bus.Event) {
	p, ok := ev.Payload.(bus.RecognitionErrorPayload)
	if !ok {
		return
	}
	a.toSleep("recognition", p.SessionID)
}

// onResponseAudio lazily opens playback on the first chunk of the current
// session; chunks tagged with any other session are discarded.
func (a *App) onResponseAudio(p bus.ResponseAudioPayload) {
	if p.SessionID != a.ctrl.Session() {
		slog.Debug("audio for a dead session dropped", "session_id", p.SessionID)
		return
	}
	if !a.player.Playing() {
		if err := a.player.Start(a.ctx, p.SessionID); err != nil {
			a.toSleep("playback", p.SessionID)
			return
		}
	}
	a.player.Enqueue(audio.Chunk{
		DType: audio.DType(p.DType),
		Shape: p.Shape,
		Data:  p.Data,
	})
}

// onRequestCompleted lets playback drain; with no audio started there is
// nothing to wait for and the session ends now.
func (a *App) onRequestCompleted(p bus.GrpcResultPayload) {
	if p.SessionID != a.ctrl.Session() {
		return
	}
	if a.player.Playing() {
		a.player.Finish()
		return
	}
	a.toSleep("grpc", p.SessionID)
}

func (a *App) onRequestFailed(p bus.GrpcResultPayload) {
	if p.SessionID != a.ctrl.Session() {
		return
	}
	a.player.Abort("request_failed")
	a.toSleep("grpc", p.SessionID)
}

// onGreeting runs an unprompted session: straight to PROCESSING with the
// greeting prompt, no capture involved.
func (a *App) onGreeting() {
	sessionID := mode.NewSessionID()
	a.ctrl.Apply(mode.Request{Target: mode.Processing, Source: "greeting", SessionID: sessionID})
	if a.ctrl.Mode() != mode.Processing {
		return
	}
	go a.rpc.Send(a.ctx, sessionID, a.greeting)
}

func (a *App) toSleep(source string, sessionID int64) {
	a.requestMode(mode.Sleeping, source, sessionID)
}

// requestMode publishes a mode.request at the source's priority and lets the
// controller's subscription apply it.
func (a *App) requestMode(target mode.Mode, source string, sessionID int64) {
	a.bus.PublishWith(bus.EventModeRequest, bus.ModeRequestPayload{
		Target:    string(target),
		Source:    source,
		SessionID: sessionID,
	}, bus.ModeRequestPriority(source))
}

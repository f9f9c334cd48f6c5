package mode

import (
	"log/slog"
	"sync"
	"time"

	"github.com/parla-assistant/parla/internal/bus"
)

// Request asks the controller to move to a target mode. Source names the
// originating component ("keyboard", "recognition", "grpc", "greeting",
// "mode_management", or [bus.SourceInterrupt]).
type Request struct {
	Target    Mode
	Source    string
	SessionID int64
}

// Option configures a [Controller] during construction.
type Option func(*Controller)

// WithListeningWatchdog forces LISTENING back to SLEEPING after d. Zero
// (the default) disables the watchdog.
func WithListeningWatchdog(d time.Duration) Option {
	return func(c *Controller) { c.listenTimeout = d }
}

// WithProcessingWatchdog forces PROCESSING back to SLEEPING after d. Zero
// (the default) disables the watchdog.
func WithProcessingWatchdog(d time.Duration) Option {
	return func(c *Controller) { c.processTimeout = d }
}

// Controller owns the client's mode and the active session id. It consumes
// mode.request events from the bus and publishes app.mode_changed on every
// actual change. All methods are safe for concurrent use.
type Controller struct {
	bus *bus.Bus

	listenTimeout  time.Duration
	processTimeout time.Duration

	mu        sync.Mutex
	mode      Mode
	sessionID int64 // 0 while SLEEPING
	watchdog  *time.Timer
}

// NewController creates a Controller in SLEEPING and subscribes it to
// mode.request on b.
func NewController(b *bus.Bus, opts ...Option) *Controller {
	c := &Controller{
		bus:  b,
		mode: Sleeping,
	}
	for _, o := range opts {
		o(c)
	}
	b.Subscribe(bus.EventModeRequest, func(ev bus.Event) {
		p, ok := ev.Payload.(bus.ModeRequestPayload)
		if !ok {
			slog.Error("mode.request with unexpected payload", "payload", ev.Payload)
			return
		}
		c.Apply(Request{Target: Mode(p.Target), Source: p.Source, SessionID: p.SessionID})
	})
	return c
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Session returns the active session id, or 0 when SLEEPING.
func (c *Controller) Session() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Apply evaluates one request against the transition table and performs the
// change if legal. Same-mode requests are dropped without any event
// (including repeated interrupts while already SLEEPING). Illegal requests
// are logged and published as mode.request_rejected; the run continues.
func (c *Controller) Apply(req Request) {
	if !req.Target.IsValid() {
		slog.Warn("mode request with invalid target", "target", req.Target, "source", req.Source)
		if req.Source == bus.SourceInterrupt {
			c.bus.Publish(bus.EventInterruptIgnored, bus.ModeRequestPayload{
				Target: string(req.Target),
				Source: req.Source,
			})
		}
		return
	}

	c.mu.Lock()
	prev := c.mode

	if req.Target == prev {
		c.mu.Unlock()
		slog.Debug("mode request for current mode ignored", "mode", prev, "source", req.Source)
		return
	}

	override := req.Source == bus.SourceInterrupt
	rejected := !override && !Allowed(prev, req.Target)
	// While PROCESSING the controller serves exactly one session; a request
	// tagged with a different one belongs to a dead session.
	if !override && !rejected && prev == Processing &&
		req.SessionID != 0 && c.sessionID != 0 && req.SessionID != c.sessionID {
		rejected = true
	}
	if rejected {
		c.mu.Unlock()
		slog.Warn("mode transition rejected",
			"from", prev, "to", req.Target, "source", req.Source, "session_id", req.SessionID)
		c.bus.Publish(bus.EventModeRequestRejected, bus.ModeRequestPayload{
			Target:    string(req.Target),
			Source:    req.Source,
			SessionID: req.SessionID,
		})
		return
	}

	c.mode = req.Target
	switch req.Target {
	case Sleeping:
		c.sessionID = 0
	default:
		if req.SessionID != 0 {
			c.sessionID = req.SessionID
		}
	}
	c.rearmWatchdogLocked(req.Target)
	c.mu.Unlock()

	slog.Info("mode changed", "from", prev, "to", req.Target, "source", req.Source)
	c.bus.Publish(bus.EventModeChanged, bus.ModeChangedPayload{
		Mode:     string(req.Target),
		Previous: string(prev),
	})
}

// rearmWatchdogLocked cancels any running watchdog and starts the one
// configured for the mode being entered. Must be called with c.mu held.
func (c *Controller) rearmWatchdogLocked(entered Mode) {
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}

	var d time.Duration
	switch entered {
	case Listening:
		d = c.listenTimeout
	case Processing:
		d = c.processTimeout
	}
	if d <= 0 {
		return
	}

	c.watchdog = time.AfterFunc(d, func() {
		c.mu.Lock()
		stuck := c.mode == entered
		c.mu.Unlock()
		if !stuck {
			return
		}
		slog.Warn("mode watchdog fired", "mode", entered, "after", d)
		c.bus.PublishWith(bus.EventModeRequest, bus.ModeRequestPayload{
			Target: string(Sleeping),
			Source: "mode_management",
		}, bus.ModeRequestPriority("mode_management"))
	})
}

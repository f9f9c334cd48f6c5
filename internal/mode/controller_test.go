package mode_test

import (
	"testing"
	"time"

	"github.com/parla-assistant/parla/internal/bus"
	"github.com/parla-assistant/parla/internal/mode"
)

// recordChanges subscribes a recorder for app.mode_changed events.
func recordChanges(b *bus.Bus) *[]bus.ModeChangedPayload {
	var changes []bus.ModeChangedPayload
	b.Subscribe(bus.EventModeChanged, func(ev bus.Event) {
		changes = append(changes, ev.Payload.(bus.ModeChangedPayload))
	})
	return &changes
}

func TestHappyPathTransitions(t *testing.T) {
	t.Parallel()

	b := bus.New()
	changes := recordChanges(b)
	c := mode.NewController(b)

	c.Apply(mode.Request{Target: mode.Listening, Source: "keyboard", SessionID: 100})
	c.Apply(mode.Request{Target: mode.Processing, Source: "recognition", SessionID: 100})
	c.Apply(mode.Request{Target: mode.Sleeping, Source: "grpc"})

	if c.Mode() != mode.Sleeping {
		t.Errorf("final mode = %v, want SLEEPING", c.Mode())
	}
	want := []string{"LISTENING", "PROCESSING", "SLEEPING"}
	if len(*changes) != len(want) {
		t.Fatalf("%d mode changes, want %d: %v", len(*changes), len(want), *changes)
	}
	for i, ch := range *changes {
		if ch.Mode != want[i] {
			t.Errorf("change[%d].Mode = %q, want %q", i, ch.Mode, want[i])
		}
	}
}

func TestProcessingToListeningForbidden(t *testing.T) {
	t.Parallel()

	b := bus.New()
	var rejected int
	b.Subscribe(bus.EventModeRequestRejected, func(bus.Event) { rejected++ })
	c := mode.NewController(b)

	c.Apply(mode.Request{Target: mode.Listening, Source: "keyboard"})
	c.Apply(mode.Request{Target: mode.Processing, Source: "recognition"})
	c.Apply(mode.Request{Target: mode.Listening, Source: "keyboard"})

	if c.Mode() != mode.Processing {
		t.Errorf("mode = %v, want PROCESSING (transition must be rejected)", c.Mode())
	}
	if rejected != 1 {
		t.Errorf("mode.request_rejected events = %d, want 1", rejected)
	}
}

func TestSessionMismatchRejectedWhileProcessing(t *testing.T) {
	t.Parallel()

	b := bus.New()
	var rejected int
	b.Subscribe(bus.EventModeRequestRejected, func(bus.Event) { rejected++ })
	c := mode.NewController(b)

	c.Apply(mode.Request{Target: mode.Listening, Source: "keyboard", SessionID: 100})
	c.Apply(mode.Request{Target: mode.Processing, Source: "recognition", SessionID: 100})

	// A stale session may not steer the controller out of PROCESSING.
	c.Apply(mode.Request{Target: mode.Sleeping, Source: "grpc", SessionID: 42})
	if c.Mode() != mode.Processing {
		t.Errorf("mode = %v, want PROCESSING", c.Mode())
	}
	if rejected != 1 {
		t.Errorf("mode.request_rejected events = %d, want 1", rejected)
	}

	// The tracked session may.
	c.Apply(mode.Request{Target: mode.Sleeping, Source: "grpc", SessionID: 100})
	if c.Mode() != mode.Sleeping {
		t.Errorf("mode = %v, want SLEEPING", c.Mode())
	}
}

func TestSameModeRequestIsSilentlyDropped(t *testing.T) {
	t.Parallel()

	b := bus.New()
	changes := recordChanges(b)
	c := mode.NewController(b)

	c.Apply(mode.Request{Target: mode.Sleeping, Source: "grpc"})
	c.Apply(mode.Request{Target: mode.Sleeping, Source: bus.SourceInterrupt})

	if len(*changes) != 0 {
		t.Errorf("mode changes = %v, want none for same-mode requests", *changes)
	}
}

func TestInterruptOverridesTable(t *testing.T) {
	t.Parallel()

	b := bus.New()
	c := mode.NewController(b)

	c.Apply(mode.Request{Target: mode.Listening, Source: "keyboard", SessionID: 7})
	c.Apply(mode.Request{Target: mode.Sleeping, Source: bus.SourceInterrupt})

	if c.Mode() != mode.Sleeping {
		t.Errorf("mode = %v, want SLEEPING after interrupt", c.Mode())
	}
	if c.Session() != 0 {
		t.Errorf("session = %d, want 0 after returning to SLEEPING", c.Session())
	}
}

func TestGreetingPathSleepingToProcessing(t *testing.T) {
	t.Parallel()

	b := bus.New()
	c := mode.NewController(b)

	c.Apply(mode.Request{Target: mode.Processing, Source: "greeting", SessionID: 9})

	if c.Mode() != mode.Processing {
		t.Errorf("mode = %v, want PROCESSING via greeting path", c.Mode())
	}
	if c.Session() != 9 {
		t.Errorf("session = %d, want 9", c.Session())
	}
}

func TestSessionTracking(t *testing.T) {
	t.Parallel()

	b := bus.New()
	c := mode.NewController(b)

	c.Apply(mode.Request{Target: mode.Listening, Source: "keyboard", SessionID: 1234})
	if c.Session() != 1234 {
		t.Fatalf("session = %d, want 1234", c.Session())
	}
	// Session survives LISTENING → PROCESSING without restating the id.
	c.Apply(mode.Request{Target: mode.Processing, Source: "recognition"})
	if c.Session() != 1234 {
		t.Errorf("session = %d, want 1234 carried into PROCESSING", c.Session())
	}
	c.Apply(mode.Request{Target: mode.Sleeping, Source: "grpc"})
	if c.Session() != 0 {
		t.Errorf("session = %d, want cleared", c.Session())
	}
}

func TestModeRequestEventDrivesController(t *testing.T) {
	t.Parallel()

	b := bus.New()
	c := mode.NewController(b)

	b.PublishWith(bus.EventModeRequest, bus.ModeRequestPayload{
		Target: "LISTENING", Source: "keyboard", SessionID: 55,
	}, bus.ModeRequestPriority("keyboard"))

	if c.Mode() != mode.Listening {
		t.Errorf("mode = %v, want LISTENING via bus event", c.Mode())
	}
}

func TestListeningWatchdog(t *testing.T) {
	t.Parallel()

	b := bus.New()
	c := mode.NewController(b, mode.WithListeningWatchdog(20*time.Millisecond))

	c.Apply(mode.Request{Target: mode.Listening, Source: "keyboard"})

	deadline := time.Now().Add(time.Second)
	for c.Mode() != mode.Sleeping {
		if time.Now().After(deadline) {
			t.Fatalf("watchdog did not fire; mode = %v", c.Mode())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatchdogRequestsOverTheBus(t *testing.T) {
	t.Parallel()

	b := bus.New()
	requests := make(chan bus.ModeRequestPayload, 1)
	b.Subscribe(bus.EventModeRequest, func(ev bus.Event) {
		if p, ok := ev.Payload.(bus.ModeRequestPayload); ok {
			requests <- p
		}
	})
	c := mode.NewController(b, mode.WithListeningWatchdog(20*time.Millisecond))

	c.Apply(mode.Request{Target: mode.Listening, Source: "keyboard"})

	select {
	case p := <-requests:
		if p.Source != "mode_management" || p.Target != string(mode.Sleeping) {
			t.Errorf("watchdog request = %+v, want mode_management → SLEEPING", p)
		}
	case <-time.After(time.Second):
		t.Fatal("watchdog never published a mode.request")
	}
	deadline := time.Now().Add(time.Second)
	for c.Mode() != mode.Sleeping {
		if time.Now().After(deadline) {
			t.Fatalf("mode = %v, want SLEEPING", c.Mode())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatchdogDefaultOff(t *testing.T) {
	t.Parallel()

	b := bus.New()
	c := mode.NewController(b)

	c.Apply(mode.Request{Target: mode.Listening, Source: "keyboard"})
	time.Sleep(50 * time.Millisecond)

	if c.Mode() != mode.Listening {
		t.Errorf("mode = %v, want LISTENING (no watchdog configured)", c.Mode())
	}
}

func TestNewSessionIDIsWallClockMillis(t *testing.T) {
	t.Parallel()

	before := time.Now().UnixMilli()
	id := mode.NewSessionID()
	after := time.Now().UnixMilli()
	if id < before || id > after {
		t.Errorf("session id %d outside [%d, %d]", id, before, after)
	}
}

func TestAllowedTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to mode.Mode
		want     bool
	}{
		{mode.Sleeping, mode.Listening, true},
		{mode.Sleeping, mode.Processing, true},
		{mode.Listening, mode.Processing, true},
		{mode.Listening, mode.Sleeping, true},
		{mode.Processing, mode.Sleeping, true},
		{mode.Processing, mode.Listening, false},
	}
	for _, tc := range cases {
		if got := mode.Allowed(tc.from, tc.to); got != tc.want {
			t.Errorf("Allowed(%v, %v) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

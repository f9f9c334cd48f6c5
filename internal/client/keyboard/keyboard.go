// Package keyboard turns the global push-to-talk hotkey into bus events.
// keyboard.press fires the instant the key goes down, so recording starts
// without waiting out the threshold. A hold crossing the long-press threshold
// additionally publishes keyboard.long_press and keyboard.release when the
// key comes back up; a shorter tap publishes keyboard.short_press instead,
// which downstream treats as an interrupt (discarding the short capture).
package keyboard

import (
	"context"
	"log/slog"
	"time"

	"golang.design/x/hotkey"

	"github.com/parla-assistant/parla/internal/bus"
)

// DefaultLongPressThreshold separates a talk-hold from an interrupt tap.
const DefaultLongPressThreshold = 300 * time.Millisecond

// Key is the press/release source the monitor listens on. Satisfied by
// *hotkey.Hotkey.
type Key interface {
	Keydown() <-chan hotkey.Event
	Keyup() <-chan hotkey.Event
}

// OpenDefault registers the default push-to-talk hotkey (Ctrl+Shift+Space)
// with the OS. The caller must keep the returned hotkey alive for the
// monitor's lifetime and Unregister it on shutdown.
func OpenDefault() (*hotkey.Hotkey, error) {
	hk := hotkey.New([]hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}, hotkey.KeySpace)
	if err := hk.Register(); err != nil {
		return nil, err
	}
	return hk, nil
}

// Option configures a [Monitor] during construction.
type Option func(*Monitor)

// WithLongPressThreshold overrides [DefaultLongPressThreshold]. Non-positive
// keeps the default.
func WithLongPressThreshold(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.threshold = d
		}
	}
}

// Monitor watches one Key and publishes keyboard.* events.
type Monitor struct {
	bus       *bus.Bus
	key       Key
	threshold time.Duration
}

// NewMonitor creates a Monitor over key.
func NewMonitor(b *bus.Bus, key Key, opts ...Option) *Monitor {
	m := &Monitor{
		bus:       b,
		key:       key,
		threshold: DefaultLongPressThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Run watches key events until ctx is cancelled. Blocking; callers run it on
// its own goroutine. press fires on keydown; long_press fires the moment the
// threshold is crossed, while the key is still held.
func (m *Monitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.key.Keydown():
			m.press(ctx)
		}
	}
}

func (m *Monitor) press(ctx context.Context) {
	pressedAt := time.Now()
	m.bus.Publish(bus.EventKeyboardPress, bus.KeyPayload{Timestamp: pressedAt})
	timer := time.NewTimer(m.threshold)
	defer timer.Stop()

	long := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			long = true
			slog.Debug("long press", "threshold", m.threshold)
			m.bus.Publish(bus.EventKeyboardLongPress, bus.KeyPayload{
				Duration:  m.threshold,
				Timestamp: pressedAt,
			})
		case <-m.key.Keyup():
			held := time.Since(pressedAt)
			payload := bus.KeyPayload{Duration: held, Timestamp: pressedAt}
			if long {
				slog.Debug("key released", "held", held)
				m.bus.Publish(bus.EventKeyboardRelease, payload)
			} else {
				slog.Debug("short press", "held", held)
				m.bus.Publish(bus.EventKeyboardShortPress, payload)
			}
			return
		}
	}
}

// Package statefile mirrors the client's mode into a small JSON file that the
// system tray (a separate process) polls. Writes are atomic via rename so the
// tray never observes a torn file.
package statefile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parla-assistant/parla/internal/bus"
)

// FileName is the tray state file name under the state directory.
const FileName = "tray_state.json"

// State is the on-disk document.
type State struct {
	// State is the lowercase mode name ("sleeping", "listening",
	// "processing").
	State string `json:"state"`

	// TS is the write time in epoch seconds.
	TS int64 `json:"ts"`
}

// Writer persists mode changes for the tray. Not safe for concurrent use on
// its own; the bus serialises handler calls.
type Writer struct {
	path string
	now  func() time.Time
}

// NewWriter creates a Writer under stateDir.
func NewWriter(stateDir string) *Writer {
	return &Writer{
		path: filepath.Join(stateDir, FileName),
		now:  time.Now,
	}
}

// Attach subscribes the writer to app.mode_changed. Write failures are
// logged, never propagated: a broken tray file must not affect the session.
func (w *Writer) Attach(b *bus.Bus) {
	b.Subscribe(bus.EventModeChanged, func(ev bus.Event) {
		p, ok := ev.Payload.(bus.ModeChangedPayload)
		if !ok {
			return
		}
		if err := w.Write(p.Mode); err != nil {
			slog.Warn("tray state write failed", "error", err)
		}
	})
}

// Write persists the given mode name.
func (w *Writer) Write(mode string) error {
	doc, err := json.Marshal(State{
		State: strings.ToLower(mode),
		TS:    w.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("statefile: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o700); err != nil {
		return fmt.Errorf("statefile: create dir: %w", err)
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, doc, 0o600); err != nil {
		return fmt.Errorf("statefile: write: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("statefile: rename: %w", err)
	}
	return nil
}

// Read loads the current document, for tests and diagnostics.
func (w *Writer) Read() (State, error) {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, fmt.Errorf("statefile: parse: %w", err)
	}
	return s, nil
}

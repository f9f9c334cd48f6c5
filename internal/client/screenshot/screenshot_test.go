package screenshot_test

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parla-assistant/parla/internal/bus"
	"github.com/parla-assistant/parla/internal/client/screenshot"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x), A: 255})
	}
	return img
}

func TestCapturePublishesEvent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	b := bus.New()
	var captured []bus.ScreenshotPayload
	b.Subscribe(bus.EventScreenshotCaptured, func(ev bus.Event) {
		captured = append(captured, ev.Payload.(bus.ScreenshotPayload))
	})

	c := screenshot.New(b, dir, screenshot.WithGrabber(func() (image.Image, error) {
		return testImage(320, 200), nil
	}))
	c.Capture(1234)

	if len(captured) != 1 {
		t.Fatalf("captured = %+v, want one event", captured)
	}
	p := captured[0]
	if p.SessionID != 1234 || p.Width != 320 || p.Height != 200 || p.MimeType != "image/jpeg" {
		t.Errorf("payload = %+v", p)
	}
	if !strings.HasPrefix(filepath.Base(p.ImagePath), "shot_") {
		t.Errorf("image path = %q, want shot_<ms>.jpg", p.ImagePath)
	}
	raw, err := os.ReadFile(p.ImagePath)
	if err != nil {
		t.Fatalf("reading screenshot: %v", err)
	}
	if int64(len(raw)) != p.SizeBytes {
		t.Errorf("size = %d, payload says %d", len(raw), p.SizeBytes)
	}
}

func TestCaptureFailurePublishesError(t *testing.T) {
	t.Parallel()

	b := bus.New()
	var errs []bus.ScreenshotErrorPayload
	b.Subscribe(bus.EventScreenshotError, func(ev bus.Event) {
		errs = append(errs, ev.Payload.(bus.ScreenshotErrorPayload))
	})

	c := screenshot.New(b, t.TempDir(), screenshot.WithGrabber(func() (image.Image, error) {
		return nil, errors.New("no display")
	}))
	c.Capture(7)

	if len(errs) != 1 || errs[0].SessionID != 7 || !strings.Contains(errs[0].Err, "no display") {
		t.Errorf("errors = %+v", errs)
	}
}

func TestReapRemovesOnlyStaleShots(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stale := filepath.Join(dir, "shot_1.jpg")
	fresh := filepath.Join(dir, "shot_2.jpg")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{stale, fresh, other} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-25 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(other, old, old); err != nil {
		t.Fatal(err)
	}

	c := screenshot.New(bus.New(), dir)
	if got := c.Reap(); got != 1 {
		t.Errorf("Reap() = %d, want 1", got)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale shot must be removed")
	}
	for _, p := range []string{fresh, other} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s must survive the reaper: %v", filepath.Base(p), err)
		}
	}
}

// Package screenshot captures the primary display for vision-capable models.
// Captures are written as JPEGs into a short-lived cache directory and
// announced on the bus; a reaper removes files older than a day so the cache
// never grows unbounded.
package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	kbscreenshot "github.com/kbinani/screenshot"

	"github.com/parla-assistant/parla/internal/bus"
)

const (
	// jpegQuality balances upload size against legibility of on-screen text.
	jpegQuality = 80

	// MaxAge is how long cached screenshots are kept.
	MaxAge = 24 * time.Hour

	filePrefix = "shot_"
	fileSuffix = ".jpg"
)

// Option configures a [Capturer] during construction.
type Option func(*Capturer)

// WithGrabber replaces the display grabber. Tests use this to capture
// without a display server.
func WithGrabber(fn func() (image.Image, error)) Option {
	return func(c *Capturer) {
		if fn != nil {
			c.grab = fn
		}
	}
}

// Capturer takes screenshots into cacheDir and reports them on the bus.
type Capturer struct {
	bus      *bus.Bus
	cacheDir string
	grab     func() (image.Image, error)
	now      func() time.Time
}

// New creates a Capturer writing into cacheDir.
func New(b *bus.Bus, cacheDir string, opts ...Option) *Capturer {
	c := &Capturer{
		bus:      b,
		cacheDir: cacheDir,
		grab:     grabPrimaryDisplay,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func grabPrimaryDisplay() (image.Image, error) {
	if kbscreenshot.NumActiveDisplays() == 0 {
		return nil, fmt.Errorf("screenshot: no active displays")
	}
	return kbscreenshot.CaptureDisplay(0)
}

// Capture grabs the primary display and publishes screenshot.captured for
// sessionID, or screenshot.error on failure. Blocking; callers run it off
// the bus executor.
func (c *Capturer) Capture(sessionID int64) {
	path, info, err := c.capture(sessionID)
	if err != nil {
		slog.Warn("screenshot failed", "session_id", sessionID, "error", err)
		c.bus.Publish(bus.EventScreenshotError, bus.ScreenshotErrorPayload{
			SessionID: sessionID,
			Err:       err.Error(),
		})
		return
	}
	slog.Debug("screenshot captured",
		"session_id", sessionID, "path", path, "bytes", info.SizeBytes)
	c.bus.Publish(bus.EventScreenshotCaptured, info)
}

func (c *Capturer) capture(sessionID int64) (string, bus.ScreenshotPayload, error) {
	img, err := c.grab()
	if err != nil {
		return "", bus.ScreenshotPayload{}, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", bus.ScreenshotPayload{}, fmt.Errorf("screenshot: encode: %w", err)
	}

	if err := os.MkdirAll(c.cacheDir, 0o700); err != nil {
		return "", bus.ScreenshotPayload{}, fmt.Errorf("screenshot: create cache dir: %w", err)
	}
	name := fmt.Sprintf("%s%d%s", filePrefix, c.now().UnixMilli(), fileSuffix)
	path := filepath.Join(c.cacheDir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return "", bus.ScreenshotPayload{}, fmt.Errorf("screenshot: write: %w", err)
	}

	b := img.Bounds()
	return path, bus.ScreenshotPayload{
		SessionID: sessionID,
		ImagePath: path,
		Width:     b.Dx(),
		Height:    b.Dy(),
		SizeBytes: int64(buf.Len()),
		MimeType:  "image/jpeg",
	}, nil
}

// Reap removes cached screenshots older than [MaxAge]. Returns the number of
// files removed.
func (c *Capturer) Reap() int {
	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		return 0
	}
	cutoff := c.now().Add(-MaxAge)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.cacheDir, name)); err == nil {
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("reaped stale screenshots", "count", removed)
	}
	return removed
}

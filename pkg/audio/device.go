package audio

import (
	"context"
	"errors"
)

// Direction distinguishes capture from playback devices.
type Direction int

const (
	// Capture identifies microphone-side devices and streams.
	Capture Direction = iota

	// Playback identifies speaker-side devices and streams.
	Playback
)

// String returns the human-readable name of the direction.
func (d Direction) String() string {
	switch d {
	case Capture:
		return "CAPTURE"
	case Playback:
		return "PLAYBACK"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors reported by platform implementations. Callers match these
// with [errors.Is] to classify device failures.
var (
	// ErrNoDevice indicates no device of the requested direction exists.
	ErrNoDevice = errors.New("audio: no device available")

	// ErrPermissionDenied indicates the OS refused access to the device.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrFormatUnsupported indicates the device rejected the requested
	// (channels, sample rate) combination. Callers should try the next
	// candidate format.
	ErrFormatUnsupported = errors.New("audio: format unsupported")
)

// DeviceInfo describes one audio endpoint as reported by the platform.
type DeviceInfo struct {
	// ID is the platform-specific opaque device identifier.
	ID string

	// Name is the human-readable device name (e.g., "AirPods Pro").
	Name string

	// Direction indicates whether this is a capture or playback device.
	Direction Direction

	// MaxChannels is the largest channel count the device reports.
	MaxChannels int

	// MaxSampleRate is the highest sample rate (Hz) the device reports.
	MaxSampleRate int

	// Default reports whether the device is the current system default for
	// its direction.
	Default bool
}

// DeviceChange describes a change of the system default device for one
// direction, as observed by the platform's device monitor.
type DeviceChange struct {
	Direction Direction
	Device    DeviceInfo
}

// StreamConfig describes the PCM format requested when opening a stream.
// All Parla streams are 16-bit signed little-endian.
type StreamConfig struct {
	Format Format

	// FrameSamples is the preferred callback granularity in samples per
	// channel. Zero lets the backend choose.
	FrameSamples int
}

// DataFunc is the device data callback. For capture streams, data holds the
// newly captured PCM bytes. For playback streams, data is the output buffer
// the callback must fill (write silence if no audio is pending).
//
// DataFunc runs on the audio subsystem's thread and must be wait-free on the
// common path: copy and return.
type DataFunc func(data []byte)

// Stream is an open device stream. Streams begin stopped; call Start to run
// the data callback and Close to release the device.
type Stream interface {
	// Start begins invoking the data callback.
	Start() error

	// Stop pauses the data callback without releasing the device.
	Stop() error

	// Close stops the stream and releases the underlying device handle.
	// Close is idempotent.
	Close() error

	// Device returns the device this stream was opened on.
	Device() DeviceInfo
}

// Platform is the abstraction over an OS audio backend.
//
// Implementations must be safe for concurrent use. Open calls that cannot
// satisfy cfg must fail with [ErrFormatUnsupported] so callers can walk their
// candidate format list.
type Platform interface {
	// DefaultDevice returns the current system default device for dir.
	// Returns ErrNoDevice if none exists.
	DefaultDevice(ctx context.Context, dir Direction) (DeviceInfo, error)

	// Open opens a stream on the current default device for dir with the
	// requested config and data callback.
	Open(ctx context.Context, dir Direction, cfg StreamConfig, fn DataFunc) (Stream, error)

	// OnDeviceChange registers a callback invoked whenever the system default
	// device for either direction changes. Only one callback may be active;
	// subsequent calls replace the previous registration. The callback is
	// invoked on the platform's monitor goroutine and must not block.
	OnDeviceChange(fn func(DeviceChange))

	// Close releases all platform resources. Open streams become invalid.
	Close() error
}

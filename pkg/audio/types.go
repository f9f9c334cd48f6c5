// Package audio defines the device-facing types and interfaces for the Parla
// client audio pipeline.
//
// The two primary abstractions are:
//
//   - [Platform] — enumerates audio devices and opens capture/playback streams.
//   - [Stream] — an open device stream whose data callback runs on the OS audio
//     subsystem's own thread.
//
// Implementations are provided by backend packages (audio/malgo for the real
// miniaudio backend, audio/mock for tests). The interfaces are intentionally
// narrow so the capture and playback components stay decoupled from any
// particular audio API.
package audio

import "time"

// DType identifies the PCM sample encoding of an audio chunk.
type DType string

const (
	// DTypeInt16 is 16-bit signed little-endian PCM.
	DTypeInt16 DType = "int16"

	// DTypeFloat32 is 32-bit IEEE float PCM.
	DTypeFloat32 DType = "float32"
)

// BytesPerSample returns the sample width in bytes, or 0 for unknown dtypes.
func (d DType) BytesPerSample() int {
	switch d {
	case DTypeInt16:
		return 2
	case DTypeFloat32:
		return 4
	}
	return 0
}

// IsValid reports whether d is a recognised sample encoding.
func (d DType) IsValid() bool {
	return d == DTypeInt16 || d == DTypeFloat32
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Frame is a contiguous run of PCM samples captured from or destined for a
// device. Frames are the atomic transport unit of the client pipeline.
type Frame struct {
	// Data is little-endian int16 PCM.
	Data []byte

	// Format describes Data's sample rate and channel count.
	Format Format

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame's PCM data.
func (f Frame) Duration() time.Duration {
	bytesPerSec := f.Format.SampleRate * f.Format.Channels * 2
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(len(f.Data)) * time.Second / time.Duration(bytesPerSec)
}

// Chunk is a typed PCM payload as carried on the wire between server and
// client. Shape follows the row-major convention (samples, channels); a mono
// chunk has a single-element shape.
type Chunk struct {
	DType DType
	Shape []int
	Data  []byte
}

// SampleCount returns the number of samples described by the chunk's shape,
// or 0 for an empty shape.
func (c Chunk) SampleCount() int {
	if len(c.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range c.Shape {
		n *= d
	}
	return n
}

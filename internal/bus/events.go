package bus

import "time"

// Reserved event names. These are the contract surface of the bus; every
// component publishes and subscribes under these exact strings.
const (
	EventKeyboardPress      = "keyboard.press"
	EventKeyboardLongPress  = "keyboard.long_press"
	EventKeyboardShortPress = "keyboard.short_press"
	EventKeyboardRelease    = "keyboard.release"

	EventRecordingStart       = "voice.recording_start"
	EventRecordingStop        = "voice.recording_stop"
	EventRecognitionCompleted = "voice.recognition_completed"
	EventRecognitionFailed    = "voice.recognition_failed"
	EventRecognitionTimeout   = "voice.recognition_timeout"

	EventScreenshotCaptured = "screenshot.captured"
	EventScreenshotError    = "screenshot.error"

	EventHardwareIDRequest  = "hardware.id_request"
	EventHardwareIDResponse = "hardware.id_response"
	EventHardwareIDObtained = "hardware.id_obtained"

	EventNetworkStatusChanged = "network.status_changed"

	EventGrpcRequestStarted   = "grpc.request_started"
	EventGrpcRequestCompleted = "grpc.request_completed"
	EventGrpcRequestFailed    = "grpc.request_failed"
	EventGrpcResponseText     = "grpc.response.text"
	EventGrpcResponseAudio    = "grpc.response.audio"

	EventModeRequest         = "mode.request"
	EventModeChanged         = "app.mode_changed"
	EventModeRequestRejected = "mode.request_rejected"

	EventPlaybackStarted   = "playback.started"
	EventPlaybackCompleted = "playback.completed"
	EventPlaybackFailed    = "playback.failed"
	EventPlaybackCancelled = "playback.cancelled"
	EventPlaybackDropped   = "playback.dropped"

	EventInterruptRequest = "interrupt.request"
	EventInterruptIgnored = "interrupt.ignored"
	EventGreetingRequest  = "greeting.request"

	EventAudioDeviceSwitched = "audio.device_switched"
)

// defaultPriorities is the reserved-name priority table. mode.request is
// absent on purpose: its priority depends on the request source, see
// [ModeRequestPriority].
var defaultPriorities = map[string]Priority{
	EventKeyboardPress:      High,
	EventKeyboardLongPress:  High,
	EventKeyboardShortPress: High,
	EventKeyboardRelease:    High,

	EventRecordingStart:       High,
	EventRecordingStop:        High,
	EventRecognitionCompleted: High,
	EventRecognitionFailed:    High,
	EventRecognitionTimeout:   High,

	EventScreenshotCaptured: High,
	EventScreenshotError:    High,

	EventHardwareIDRequest:  High,
	EventHardwareIDResponse: High,
	EventHardwareIDObtained: High,

	EventNetworkStatusChanged: Medium,

	EventGrpcRequestStarted:   High,
	EventGrpcRequestCompleted: High,
	EventGrpcRequestFailed:    High,
	EventGrpcResponseText:     High,
	EventGrpcResponseAudio:    High,

	EventModeChanged:         High,
	EventModeRequestRejected: High,

	EventPlaybackStarted:   High,
	EventPlaybackCompleted: High,
	EventPlaybackFailed:    High,
	EventPlaybackCancelled: High,
	EventPlaybackDropped:   Medium,

	EventInterruptRequest: Critical,
	EventInterruptIgnored: High,
	EventGreetingRequest:  High,

	EventAudioDeviceSwitched: Medium,
}

// DefaultPriority returns the reserved priority for name, or Medium for
// names outside the reserved table.
func DefaultPriority(name string) Priority {
	if p, ok := defaultPriorities[name]; ok {
		return p
	}
	return Medium
}

// SourceInterrupt marks a mode request driven by a user interrupt; such
// requests override the transition table and are published CRITICAL.
const SourceInterrupt = "interrupt"

// ModeRequestPriority returns the priority a mode.request must be published
// at for the given source.
func ModeRequestPriority(source string) Priority {
	if source == SourceInterrupt {
		return Critical
	}
	return High
}

// ─── Reserved payload types ───

// KeyPayload accompanies the keyboard.* events.
type KeyPayload struct {
	Duration  time.Duration
	Timestamp time.Time
}

// SessionPayload accompanies voice.recording_start/stop and the plain
// grpc.request_* and playback.* events.
type SessionPayload struct {
	SessionID int64
	Source    string
}

// RecognitionPayload accompanies voice.recognition_completed.
type RecognitionPayload struct {
	SessionID  int64
	Text       string
	Confidence float64
	Language   string
}

// RecognitionErrorPayload accompanies voice.recognition_failed and
// voice.recognition_timeout. Kind is one of the recognition error kinds
// (no_speech, service_error, timeout, capture_unavailable,
// capture_permission_denied, capture_too_short).
type RecognitionErrorPayload struct {
	SessionID int64
	Kind      string
	Err       string
}

// ScreenshotPayload accompanies screenshot.captured.
type ScreenshotPayload struct {
	SessionID int64
	ImagePath string
	Width     int
	Height    int
	SizeBytes int64
	MimeType  string
}

// ScreenshotErrorPayload accompanies screenshot.error.
type ScreenshotErrorPayload struct {
	SessionID int64
	Err       string
}

// HardwareIDPayload accompanies the hardware.* events.
type HardwareIDPayload struct {
	UUID   string
	Source string
}

// NetworkPayload accompanies network.status_changed. Old and New are
// "connected" or "disconnected".
type NetworkPayload struct {
	Old     string
	New     string
	Details string
}

// GrpcResultPayload accompanies grpc.request_completed and
// grpc.request_failed.
type GrpcResultPayload struct {
	SessionID int64
	Err       string
}

// ResponseTextPayload accompanies grpc.response.text.
type ResponseTextPayload struct {
	SessionID     int64
	SentenceIndex int
	Text          string
}

// ResponseAudioPayload accompanies grpc.response.audio. Data is raw PCM in
// the encoding named by DType.
type ResponseAudioPayload struct {
	SessionID     int64
	SentenceIndex int
	ChunkIndex    int
	DType         string
	Shape         []int
	Data          []byte
}

// ModeRequestPayload accompanies mode.request. Target is a mode name
// (SLEEPING, LISTENING, PROCESSING).
type ModeRequestPayload struct {
	Target    string
	Source    string
	SessionID int64
}

// ModeChangedPayload accompanies app.mode_changed.
type ModeChangedPayload struct {
	Mode     string
	Previous string
}

// PlaybackPayload accompanies the playback.* events. Reason is set for
// playback.failed and playback.cancelled; Dropped for playback.dropped.
type PlaybackPayload struct {
	SessionID int64
	Reason    string
	Dropped   int
}

// DeviceSwitchPayload accompanies audio.device_switched.
type DeviceSwitchPayload struct {
	OldDevice string
	NewDevice string
}

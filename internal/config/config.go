// Package config provides the configuration schema, loader, and provider
// registry for Parla. One YAML file covers both the client and the server;
// each binary reads the sections it cares about and ignores the rest. An
// absent file is equivalent to all defaults.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SampleFormat is the PCM sample encoding used on the wire and on the device.
type SampleFormat string

const (
	FormatInt16   SampleFormat = "int16"
	FormatFloat32 SampleFormat = "float32"
)

// IsValid reports whether f is a recognised sample format.
func (f SampleFormat) IsValid() bool {
	return f == FormatInt16 || f == FormatFloat32
}

// BluetoothPolicy selects which Bluetooth audio profile the capture side
// prefers when a headset exposes both.
type BluetoothPolicy string

const (
	// BluetoothAuto tries the device's native rate first, then the HFP and
	// A2DP candidate ladders.
	BluetoothAuto BluetoothPolicy = "auto"

	// BluetoothHFP prefers the hands-free profile rates (8/16 kHz).
	BluetoothHFP BluetoothPolicy = "hfp"

	// BluetoothA2DP prefers the high-quality playback rates (44.1/48 kHz).
	BluetoothA2DP BluetoothPolicy = "a2dp"
)

// IsValid reports whether p is a recognised Bluetooth policy.
func (p BluetoothPolicy) IsValid() bool {
	switch p {
	case BluetoothAuto, BluetoothHFP, BluetoothA2DP:
		return true
	}
	return false
}

// Config is the root configuration structure for Parla.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity for whichever binary loads this file.
	LogLevel LogLevel `yaml:"log_level"`

	// StateDir overrides the directory holding persisted client state (mode
	// file, screenshot cache, hardware-id cache). Empty means the platform
	// default under the user's application-support location.
	StateDir string `yaml:"state_dir"`

	Audio        AudioConfig        `yaml:"audio"`
	Network      NetworkConfig      `yaml:"network"`
	Integrations IntegrationsConfig `yaml:"integrations"`
	Recognition  RecognitionConfig  `yaml:"recognition"`
	Stream       StreamConfig       `yaml:"stream"`
	Server       ServerConfig       `yaml:"server"`
}

// AudioConfig holds the capture-side audio format and device handling knobs.
type AudioConfig struct {
	// SampleRate is the capture rate in Hz. The pipeline target is 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the capture channel count (1 or 2).
	Channels int `yaml:"channels"`

	// DType is the PCM sample encoding.
	DType SampleFormat `yaml:"dtype"`

	// DeviceSwitch configures behaviour when the OS default device changes.
	DeviceSwitch DeviceSwitchConfig `yaml:"device_switch"`

	// BluetoothPolicy selects the preferred Bluetooth profile ladder.
	BluetoothPolicy BluetoothPolicy `yaml:"bluetooth_policy"`
}

// DeviceSwitchConfig tunes the capture/playback reaction to device hot-swaps.
type DeviceSwitchConfig struct {
	// SettleMs is how long to wait after a device change notification before
	// reopening, letting the OS finish routing.
	SettleMs int `yaml:"settle_ms"`
}

// NetworkConfig holds gRPC keepalive settings, in seconds.
type NetworkConfig struct {
	KeepaliveTime    float64 `yaml:"keepalive_time"`
	KeepaliveTimeout float64 `yaml:"keepalive_timeout"`
}

// IntegrationsConfig groups the client-side integration blocks.
type IntegrationsConfig struct {
	GrpcClient  GrpcClientConfig  `yaml:"grpc_client"`
	AudioDevice AudioDeviceConfig `yaml:"audio_device"`
	Permissions PermissionsConfig `yaml:"permissions"`
}

// GrpcClientConfig configures the client's connection to the Parla server.
type GrpcClientConfig struct {
	// Server is the host:port of the Parla gRPC server.
	Server string `yaml:"server"`

	// AggregateTimeoutSec bounds how long the client waits for the
	// screenshot to join the recognised text before sending anyway.
	AggregateTimeoutSec float64 `yaml:"aggregate_timeout_sec"`

	// RequestTimeoutSec bounds one whole StreamAudio call.
	RequestTimeoutSec float64 `yaml:"request_timeout_sec"`

	// UseNetworkGate refuses to send while the network probe reports
	// disconnected instead of letting the dial fail.
	UseNetworkGate bool `yaml:"use_network_gate"`
}

// AudioDeviceConfig configures default-device monitoring on the client.
type AudioDeviceConfig struct {
	// AutoSwitchEnabled follows the OS default device on change.
	AutoSwitchEnabled bool `yaml:"auto_switch_enabled"`

	// MonitoringInterval is the default-device poll interval in seconds.
	MonitoringInterval float64 `yaml:"monitoring_interval"`

	// SwitchDelay is the pause in seconds before acting on a detected switch.
	SwitchDelay float64 `yaml:"switch_delay"`
}

// PermissionsConfig configures runtime permission checking (microphone,
// screen capture).
type PermissionsConfig struct {
	// CheckInterval is the permission re-check interval in seconds.
	CheckInterval float64 `yaml:"check_interval"`

	// AutoOpenPreferences opens the OS privacy settings on denial.
	AutoOpenPreferences bool `yaml:"auto_open_preferences"`

	// ShowInstructions logs remediation steps on denial.
	ShowInstructions bool `yaml:"show_instructions"`
}

// RecognitionConfig configures the client-side speech recogniser.
type RecognitionConfig struct {
	// ModelPath points at the whisper.cpp model file (e.g.
	// "models/ggml-base.bin").
	ModelPath string `yaml:"model_path"`

	// Languages is the fallback chain tried in order; the first non-empty
	// result wins. Empty means auto-detect only.
	Languages []string `yaml:"languages"`

	// TimeoutSec bounds one recognition call.
	TimeoutSec float64 `yaml:"timeout_sec"`

	// Vocabulary lists domain words the phonetic corrector may substitute
	// for near-miss recognitions.
	Vocabulary []string `yaml:"vocabulary"`
}

// StreamConfig holds the server-side sentence aggregation thresholds.
type StreamConfig struct {
	// MinChars is the minimum segment length that forces an emit.
	MinChars int `yaml:"min_chars"`

	// MinWords is the minimum meaningful word count for non-first segments.
	MinWords int `yaml:"min_words"`

	// FirstSentenceMinWords is the lower word bound for the first segment,
	// kept small so the user hears something quickly.
	FirstSentenceMinWords int `yaml:"first_sentence_min_words"`

	// PunctFlushStrict only flushes at sentence-ending punctuation.
	PunctFlushStrict bool `yaml:"punct_flush_strict"`

	// ForceFlushMaxChars, when > 0, emits a trailing unpunctuated segment of
	// at least this length at end-of-stream. 0 disables the force flush.
	ForceFlushMaxChars int `yaml:"force_flush_max_chars"`
}

// ServerConfig holds everything only the parlad binary reads.
type ServerConfig struct {
	// ListenAddr is the TCP address the gRPC server listens on (e.g. ":50051").
	ListenAddr string `yaml:"listen_addr"`

	// HTTPAddr is the TCP address for the /metrics and health endpoints.
	HTTPAddr string `yaml:"http_addr"`

	// InterruptTTLSec is the lifetime of an interrupt mark in seconds.
	InterruptTTLSec float64 `yaml:"interrupt_ttl_sec"`

	// MemoryReadBudgetSec bounds the pre-prompt memory fetch in seconds.
	MemoryReadBudgetSec float64 `yaml:"memory_read_budget_sec"`

	Memory    MemoryConfig    `yaml:"memory"`
	Providers ProvidersConfig `yaml:"providers"`
}

// MemoryConfig holds settings for the persistent memory layer.
type MemoryConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the memory store.
	// Empty disables persistent memory; requests proceed without context.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector dimension of the snippet index.
	// Must match the model configured in Providers.Embeddings.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	TTS        ProviderEntry `yaml:"tts"`
	STT        ProviderEntry `yaml:"stt"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g. "gpt-4o").
	Model string `yaml:"model"`

	// Voice is the provider-specific voice identifier for TTS entries.
	Voice string `yaml:"voice"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

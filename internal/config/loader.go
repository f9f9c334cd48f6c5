package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp"},
	"tts":        {"openai", "elevenlabs"},
	"stt":        {"whisper"},
	"embeddings": {"openai"},
}

// Default returns a Config populated with the safe defaults every key falls
// back to when absent from the YAML file.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			DType:           FormatInt16,
			DeviceSwitch:    DeviceSwitchConfig{SettleMs: 300},
			BluetoothPolicy: BluetoothAuto,
		},
		Network: NetworkConfig{
			KeepaliveTime:    30,
			KeepaliveTimeout: 10,
		},
		Integrations: IntegrationsConfig{
			GrpcClient: GrpcClientConfig{
				Server:              "localhost:50051",
				AggregateTimeoutSec: 1.5,
				RequestTimeoutSec:   60,
				UseNetworkGate:      true,
			},
			AudioDevice: AudioDeviceConfig{
				AutoSwitchEnabled:  true,
				MonitoringInterval: 2,
				SwitchDelay:        0.3,
			},
			Permissions: PermissionsConfig{
				CheckInterval:       30,
				AutoOpenPreferences: false,
				ShowInstructions:    true,
			},
		},
		Recognition: RecognitionConfig{
			ModelPath:  "models/ggml-base.bin",
			Languages:  []string{""},
			TimeoutSec: 10,
		},
		Stream: StreamConfig{
			MinChars:              15,
			MinWords:              3,
			FirstSentenceMinWords: 2,
			PunctFlushStrict:      true,
			ForceFlushMaxChars:    0,
		},
		Server: ServerConfig{
			ListenAddr:          ":50051",
			HTTPAddr:            ":9090",
			InterruptTTLSec:     5,
			MemoryReadBudgetSec: 2,
			Memory: MemoryConfig{
				EmbeddingDimensions: 1536,
			},
		},
	}
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A missing file is not an error: it yields [Default].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("config file not found, using defaults", "path", path)
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result, so keys absent from the document keep their default
// values. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", cfg.Audio.Channels))
	}
	if cfg.Audio.DType != "" && !cfg.Audio.DType.IsValid() {
		errs = append(errs, fmt.Errorf("audio.dtype %q is invalid; valid values: int16, float32", cfg.Audio.DType))
	}
	if cfg.Audio.BluetoothPolicy != "" && !cfg.Audio.BluetoothPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("audio.bluetooth_policy %q is invalid; valid values: auto, hfp, a2dp", cfg.Audio.BluetoothPolicy))
	}
	if cfg.Audio.DeviceSwitch.SettleMs < 0 {
		errs = append(errs, fmt.Errorf("audio.device_switch.settle_ms %d must not be negative", cfg.Audio.DeviceSwitch.SettleMs))
	}

	// Network
	if cfg.Network.KeepaliveTime < 0 || cfg.Network.KeepaliveTimeout < 0 {
		errs = append(errs, errors.New("network keepalive values must not be negative"))
	}

	// gRPC client
	if cfg.Integrations.GrpcClient.AggregateTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("integrations.grpc_client.aggregate_timeout_sec %.2f must be positive", cfg.Integrations.GrpcClient.AggregateTimeoutSec))
	}
	if cfg.Integrations.GrpcClient.RequestTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("integrations.grpc_client.request_timeout_sec %.2f must be positive", cfg.Integrations.GrpcClient.RequestTimeoutSec))
	}

	// Recognition
	if cfg.Recognition.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("recognition.timeout_sec %.2f must be positive", cfg.Recognition.TimeoutSec))
	}

	// Stream thresholds
	if cfg.Stream.MinChars < 0 || cfg.Stream.MinWords < 0 ||
		cfg.Stream.FirstSentenceMinWords < 0 || cfg.Stream.ForceFlushMaxChars < 0 {
		errs = append(errs, errors.New("stream thresholds must not be negative"))
	}

	// Server
	if cfg.Server.InterruptTTLSec <= 0 {
		errs = append(errs, fmt.Errorf("server.interrupt_ttl_sec %.2f must be positive", cfg.Server.InterruptTTLSec))
	}
	if cfg.Server.MemoryReadBudgetSec <= 0 {
		errs = append(errs, fmt.Errorf("server.memory_read_budget_sec %.2f must be positive", cfg.Server.MemoryReadBudgetSec))
	}
	if cfg.Server.Memory.PostgresDSN != "" && cfg.Server.Memory.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("server.memory.embedding_dimensions %d must be positive when postgres_dsn is set", cfg.Server.Memory.EmbeddingDimensions))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Server.Providers.LLM.Name)
	validateProviderName("tts", cfg.Server.Providers.TTS.Name)
	validateProviderName("stt", cfg.Server.Providers.STT.Name)
	validateProviderName("embeddings", cfg.Server.Providers.Embeddings.Name)

	if cfg.Server.Providers.Embeddings.Name == "" && cfg.Server.Memory.PostgresDSN != "" {
		slog.Warn("server.memory.postgres_dsn is set but no embeddings provider is configured; semantic retrieval will be unavailable")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

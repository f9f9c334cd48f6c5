// Command parla is the push-to-talk desktop client: hold the hotkey to talk,
// release to send, tap to interrupt. Recognition runs locally; the response
// is streamed back from a parlad server as text and audio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parla-assistant/parla/internal/bus"
	"github.com/parla-assistant/parla/internal/client/app"
	"github.com/parla-assistant/parla/internal/client/capture"
	"github.com/parla-assistant/parla/internal/client/hardware"
	"github.com/parla-assistant/parla/internal/client/keyboard"
	"github.com/parla-assistant/parla/internal/client/netprobe"
	"github.com/parla-assistant/parla/internal/client/playback"
	"github.com/parla-assistant/parla/internal/client/recognize"
	"github.com/parla-assistant/parla/internal/client/rpc"
	"github.com/parla-assistant/parla/internal/client/screenshot"
	"github.com/parla-assistant/parla/internal/client/statefile"
	"github.com/parla-assistant/parla/internal/config"
	"github.com/parla-assistant/parla/internal/mode"
	"github.com/parla-assistant/parla/internal/resilience"
	"github.com/parla-assistant/parla/internal/transcript"
	audiomalgo "github.com/parla-assistant/parla/pkg/audio/malgo"
	"github.com/parla-assistant/parla/pkg/provider/stt/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	greet := flag.Bool("greet", false, "speak a greeting once the client is up")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parla: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.LogLevel))
	slog.Info("parla starting",
		"config", *configPath,
		"server", cfg.Integrations.GrpcClient.Server,
		"state_dir", cfg.StateDir,
		"log_level", cfg.LogLevel,
	)
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		slog.Error("cannot create state directory", "dir", cfg.StateDir, "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Bus + mode controller ─────────────────────────────────────────────────
	b := bus.New()
	ctrl := mode.NewController(b)

	statefile.NewWriter(cfg.StateDir).Attach(b)

	hw := hardware.NewResolver(cfg.StateDir)
	if err := hw.Attach(b); err != nil {
		slog.Error("cannot resolve a hardware identity", "err", err)
		return 1
	}
	slog.Info("hardware identity resolved", "source", hw.Source())

	// ── Audio platform ────────────────────────────────────────────────────────
	platform, err := audiomalgo.New(
		audiomalgo.WithMonitorInterval(secs(cfg.Integrations.AudioDevice.MonitoringInterval)),
	)
	if err != nil {
		slog.Error("cannot initialise the audio platform", "err", err)
		return 1
	}
	defer platform.Close()

	recorder := capture.NewRecorder(platform,
		capture.WithSettleDelay(time.Duration(cfg.Audio.DeviceSwitch.SettleMs)*time.Millisecond),
		capture.WithPolicy(string(cfg.Audio.BluetoothPolicy)),
	)
	player := playback.NewPlayer(b, platform,
		playback.WithSourceRate(cfg.Audio.SampleRate),
	)

	// ── Recognition ───────────────────────────────────────────────────────────
	sttPrimary, err := whisper.New(cfg.Recognition.ModelPath)
	if err != nil {
		slog.Error("cannot load the whisper model", "path", cfg.Recognition.ModelPath, "err", err)
		return 1
	}
	sttGroup := resilience.NewSTTFallback(sttPrimary, "whisper", resilience.FallbackConfig{})
	recognizer := recognize.New(b, sttGroup,
		recognize.WithLanguages(cfg.Recognition.Languages),
		recognize.WithTimeout(secs(cfg.Recognition.TimeoutSec)),
		recognize.WithCorrector(transcript.New(cfg.Recognition.Vocabulary)),
	)

	// ── Server link ───────────────────────────────────────────────────────────
	gc := cfg.Integrations.GrpcClient
	rpcOpts := []rpc.Option{
		rpc.WithAggregateTimeout(secs(gc.AggregateTimeoutSec)),
		rpc.WithRequestTimeout(secs(gc.RequestTimeoutSec)),
		rpc.WithKeepalive(secs(cfg.Network.KeepaliveTime), secs(cfg.Network.KeepaliveTimeout)),
	}
	if gc.UseNetworkGate {
		rpcOpts = append(rpcOpts, rpc.WithNetworkGate())
	}
	client := rpc.NewClient(b, gc.Server, hw.ID, rpcOpts...)
	client.Attach()
	defer client.Close()

	shots := screenshot.New(b, cfg.StateDir)
	prober := netprobe.New(b, gc.Server)

	// ── Hotkey ────────────────────────────────────────────────────────────────
	hk, err := keyboard.OpenDefault()
	if err != nil {
		slog.Error("cannot register the push-to-talk hotkey", "err", err)
		return 1
	}
	defer hk.Unregister()
	monitor := keyboard.NewMonitor(b, hk)

	// ── Orchestrator ──────────────────────────────────────────────────────────
	a := app.New(b, ctrl, recorder, recognizer, player, client, shots)
	a.RegisterDeviceChanges(platform)

	slog.Info("ready — hold Ctrl+Shift+Space to talk, tap to interrupt")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		prober.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return a.Run(gctx)
	})
	if *greet {
		b.Publish(bus.EventGreetingRequest, nil)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// secs converts a fractional-seconds config value to a Duration.
func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

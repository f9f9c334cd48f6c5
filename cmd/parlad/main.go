// Command parlad is the Parla voice assistant server: one gRPC service that
// turns a recognised prompt into a stream of sentences and synthesised audio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/parla-assistant/parla/internal/config"
	"github.com/parla-assistant/parla/internal/health"
	"github.com/parla-assistant/parla/internal/observe"
	"github.com/parla-assistant/parla/internal/resilience"
	"github.com/parla-assistant/parla/internal/server"
	"github.com/parla-assistant/parla/internal/server/interrupt"
	"github.com/parla-assistant/parla/internal/server/memctx"
	"github.com/parla-assistant/parla/internal/server/workflow"
	"github.com/parla-assistant/parla/pkg/memory"
	memorypg "github.com/parla-assistant/parla/pkg/memory/postgres"
	"github.com/parla-assistant/parla/pkg/provider/embeddings"
	oaembed "github.com/parla-assistant/parla/pkg/provider/embeddings/openai"
	"github.com/parla-assistant/parla/pkg/provider/llm"
	"github.com/parla-assistant/parla/pkg/provider/llm/anyllm"
	oaillm "github.com/parla-assistant/parla/pkg/provider/llm/openai"
	"github.com/parla-assistant/parla/pkg/provider/tts"
	"github.com/parla-assistant/parla/pkg/provider/tts/elevenlabs"
	oaitts "github.com/parla-assistant/parla/pkg/provider/tts/openai"
	"github.com/parla-assistant/parla/pkg/wire"
)

const defaultSystemPrompt = "You are Parla, a voice assistant. Answer briefly " +
	"and conversationally; your answers are spoken aloud, so avoid lists, " +
	"markdown and long preambles."

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parlad: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.LogLevel))
	slog.Info("parlad starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"http_addr", cfg.Server.HTTPAddr,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "parlad"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerServerProviders(reg)

	llmProvider, ttsProvider, embProvider, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Memory layer (optional) ───────────────────────────────────────────────
	var (
		store    memory.Store
		semantic memory.SemanticIndex
		checkers []health.Checker
	)
	if dsn := cfg.Server.Memory.PostgresDSN; dsn != "" {
		pg, err := memorypg.NewStore(ctx, dsn, cfg.Server.Memory.EmbeddingDimensions)
		if err != nil {
			slog.Error("failed to open memory store", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		semantic = pg.Semantic()
		checkers = append(checkers, health.Checker{
			Name: "database",
			Check: func(ctx context.Context) error {
				_, err := pg.Load(ctx, "healthcheck")
				return err
			},
		})
		slog.Info("memory store connected", "embedding_dimensions", cfg.Server.Memory.EmbeddingDimensions)
	} else {
		slog.Info("persistent memory disabled; requests proceed without context")
	}

	var mem *memctx.Coordinator
	if store != nil {
		memOpts := []memctx.Option{
			memctx.WithReadBudget(secs(cfg.Server.MemoryReadBudgetSec)),
			memctx.WithMetrics(metrics),
		}
		if semantic != nil && embProvider != nil {
			memOpts = append(memOpts, memctx.WithSemanticIndex(semantic, embProvider))
		}
		mem = memctx.New(store, memctx.NewLLMAnalyser(llmProvider), memOpts...)
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	wf := workflow.New(llmProvider, ttsProvider,
		workflow.WithThresholds(workflow.Thresholds{
			MinChars:              cfg.Stream.MinChars,
			MinWords:              cfg.Stream.MinWords,
			FirstSentenceMinWords: cfg.Stream.FirstSentenceMinWords,
			PunctFlushStrict:      cfg.Stream.PunctFlushStrict,
			ForceFlushMaxChars:    cfg.Stream.ForceFlushMaxChars,
		}),
		workflow.WithVoice(tts.VoiceProfile{ID: cfg.Server.Providers.TTS.Voice}),
		workflow.WithSystemPrompt(defaultSystemPrompt),
		workflow.WithMetrics(metrics),
	)
	interrupts := interrupt.NewRegistry(interrupt.WithTTL(secs(cfg.Server.InterruptTTLSec)))
	svc := server.New(wf, mem, interrupts,
		server.WithMetrics(metrics),
		server.WithAudioFormat(string(cfg.Audio.DType), cfg.Audio.Channels),
	)

	// ── Listeners ─────────────────────────────────────────────────────────────
	lis, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		slog.Error("failed to listen", "addr", cfg.Server.ListenAddr, "err", err)
		return 1
	}
	grpcServer := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    secs(cfg.Network.KeepaliveTime),
		Timeout: secs(cfg.Network.KeepaliveTimeout),
	}))
	wire.RegisterVoiceServiceServer(grpcServer, svc)

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	httpServer := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: mux}

	slog.Info("server ready — press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerServerProviders wires the provider factories the server side can
// use: text models, synthesis backends and embeddings.
func registerServerProviders(reg *config.Registry) {
	// openai goes through its native SDK; the rest of the model families
	// share the any-llm gateway with an optional APIKey + BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})
	for _, providerName := range []string{
		"anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp",
	} {
		providerName := providerName
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		return oaitts.New(entry.APIKey, opts...)
	})
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})
}

// buildProviders instantiates the configured text, synthesis and embeddings
// providers. LLM and TTS are mandatory and wrapped in a failover group with
// per-backend circuit breakers; a fallback entry comes from the provider's
// "fallback" option block when present.
func buildProviders(cfg *config.Config, reg *config.Registry) (llm.Provider, tts.Provider, embeddings.Provider, error) {
	llmEntry := cfg.Server.Providers.LLM
	if llmEntry.Name == "" {
		return nil, nil, nil, errors.New("server.providers.llm is required")
	}
	llmPrimary, err := reg.CreateLLM(llmEntry)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create llm provider %q: %w", llmEntry.Name, err)
	}
	llmGroup := resilience.NewLLMFallback(llmPrimary, llmEntry.Name, resilience.FallbackConfig{})
	if fb := fallbackEntry(llmEntry); fb.Name != "" {
		p, err := reg.CreateLLM(fb)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
		}
		llmGroup.AddFallback(fb.Name, p)
		slog.Info("provider fallback registered", "kind", "llm", "name", fb.Name)
	}
	slog.Info("provider created", "kind", "llm", "name", llmEntry.Name, "model", llmEntry.Model)

	ttsEntry := cfg.Server.Providers.TTS
	if ttsEntry.Name == "" {
		return nil, nil, nil, errors.New("server.providers.tts is required")
	}
	ttsPrimary, err := reg.CreateTTS(ttsEntry)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create tts provider %q: %w", ttsEntry.Name, err)
	}
	ttsGroup := resilience.NewTTSFallback(ttsPrimary, ttsEntry.Name, resilience.FallbackConfig{})
	if fb := fallbackEntry(ttsEntry); fb.Name != "" {
		p, err := reg.CreateTTS(fb)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
		}
		ttsGroup.AddFallback(fb.Name, p)
		slog.Info("provider fallback registered", "kind", "tts", "name", fb.Name)
	}
	slog.Info("provider created", "kind", "tts", "name", ttsEntry.Name, "model", ttsEntry.Model)

	var embProvider embeddings.Provider
	if name := cfg.Server.Providers.Embeddings.Name; name != "" {
		embProvider, err = reg.CreateEmbeddings(cfg.Server.Providers.Embeddings)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return llmGroup, ttsGroup, embProvider, nil
}

// fallbackEntry extracts a secondary provider from an entry's options:
//
//	options:
//	  fallback:
//	    name: ollama
//	    model: llama3
func fallbackEntry(entry config.ProviderEntry) config.ProviderEntry {
	raw, ok := entry.Options["fallback"].(map[string]any)
	if !ok {
		return config.ProviderEntry{}
	}
	return config.ProviderEntry{
		Name:    optString(raw, "name"),
		APIKey:  optString(raw, "api_key"),
		BaseURL: optString(raw, "base_url"),
		Model:   optString(raw, "model"),
	}
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

// ── Helpers ───────────────────────────────────────────────────────────────────

// secs converts a fractional-seconds config value to a Duration.
func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// optString extracts a string value from a provider Options map[string]any.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

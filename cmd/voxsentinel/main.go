// Command voxsentinel is the main entry point for the VoxSentinel audio
// monitoring server.
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

	"github.com/joho/godotenv"

	"github.com/Theesthan/VoxSentinel/internal/app"
	"github.com/Theesthan/VoxSentinel/internal/config"
	"github.com/Theesthan/VoxSentinel/internal/observe"
	"github.com/Theesthan/VoxSentinel/pkg/provider/asr"
	"github.com/Theesthan/VoxSentinel/pkg/provider/asr/deepgram"
	"github.com/Theesthan/VoxSentinel/pkg/provider/asr/whisperhttp"
	"github.com/Theesthan/VoxSentinel/pkg/provider/diarize"
	"github.com/Theesthan/VoxSentinel/pkg/provider/diarize/diarhttp"
	"github.com/Theesthan/VoxSentinel/pkg/provider/sentiment"
	"github.com/Theesthan/VoxSentinel/pkg/provider/sentiment/senthttp"
	"github.com/Theesthan/VoxSentinel/pkg/provider/vad"
	"github.com/Theesthan/VoxSentinel/pkg/provider/vad/energy"
	"github.com/Theesthan/VoxSentinel/pkg/provider/vad/silero"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Environment ────────────────────────────────────────────────────────────
	// Provider API keys and the Postgres DSN are commonly kept in a .env file
	// during development. Absence is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voxsentinel: loading .env: %v\n", err)
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxsentinel: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxsentinel: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voxsentinel starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxsentinel",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Stream registrations and the log level are applied live. Streams stay
	// file-driven only without a control plane; with one configured, the
	// reconciler owns the stream set and the watcher leaves it alone.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "log_level", d.NewLogLevel)
		}
		if d.StreamsChanged && cfg.API.BaseURL == "" {
			slog.Info("stream configuration changed, reconciling",
				"changes", len(d.StreamChanges))
			application.ReconcileStreams(ctx, new.Streams)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in engine factories into reg. Each
// factory receives a config.ProviderEntry and constructs the engine from the
// real implementation packages. Pipeline tunables that belong to an engine
// (batch accumulation for whisper-style ASR) come from cfg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("deepgram", func(entry config.ProviderEntry) (asr.Engine, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterASR("whisperhttp", func(entry config.ProviderEntry) (asr.Engine, error) {
		var opts []whisperhttp.Option
		if entry.Model != "" {
			opts = append(opts, whisperhttp.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisperhttp.WithLanguage(lang))
		}
		if cfg.Pipeline.AccumulationSeconds > 0 {
			opts = append(opts, whisperhttp.WithAccumulationSeconds(cfg.Pipeline.AccumulationSeconds))
		}
		return whisperhttp.New(entry.BaseURL, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		return silero.New(modelPath)
	})

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── Diarization ───────────────────────────────────────────────────────────

	reg.RegisterDiarize("diarhttp", func(entry config.ProviderEntry) (diarize.Engine, error) {
		return diarhttp.New(entry.BaseURL)
	})

	// ── Sentiment ─────────────────────────────────────────────────────────────

	reg.RegisterSentiment("senthttp", func(entry config.ProviderEntry) (sentiment.Analyzer, error) {
		return senthttp.New(entry.BaseURL)
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      VoxSentinel — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("ASR", cfg.Providers.ASRPrimary.Name, cfg.Providers.ASRPrimary.Model)
	printProvider("ASR fallback", cfg.Providers.ASRFallback.Name, cfg.Providers.ASRFallback.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Diarization", cfg.Providers.Diarization.Name, "")
	printProvider("Sentiment", cfg.Providers.Sentiment.Name, "")
	fmt.Printf("║  Streams         : %-19d ║\n", len(cfg.Streams))
	fmt.Printf("║  Alert channels  : %-19d ║\n", len(cfg.Channels))
	if cfg.API.BaseURL != "" {
		fmt.Printf("║  Control plane   : %-19s ║\n", "configured")
	} else {
		fmt.Printf("║  Control plane   : %-19s ║\n", "(disabled)")
	}
	if cfg.Search.URL != "" {
		fmt.Printf("║  Search index    : %-19s ║\n", "configured")
	} else {
		fmt.Printf("║  Search index    : %-19s ║\n", "(postgres only)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

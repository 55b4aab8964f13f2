// Command parrot is the main entry point for the parrot voice companion.
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

	"github.com/MrWong99/parrot/internal/app"
	"github.com/MrWong99/parrot/internal/config"
	"github.com/MrWong99/parrot/internal/observe"
	"github.com/MrWong99/parrot/pkg/audio"
	"github.com/MrWong99/parrot/pkg/audio/portaudio"
	"github.com/MrWong99/parrot/pkg/audio/wavfile"
	"github.com/MrWong99/parrot/pkg/provider/vad"
	"github.com/MrWong99/parrot/pkg/provider/vad/silero"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	cycles := flag.Int("cycles", 0, "stop after this many Bit-cycles (0 runs until interrupted)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parrot: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parrot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("parrot starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"cycles", *cycles,
		"version", version,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		Version: version,
		Traces:  cfg.Server.Traces,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build backends", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithMetrics(telemetry.Metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = providers.Audio.Close()
		_ = providers.VAD.Close()
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(c config.Change) {
		if c.Diff.LogLevelChanged {
			level.Set(slogLevel(c.Diff.NewLogLevel))
			slog.Info("log level changed", "level", c.Diff.NewLogLevel)
		}
		if err := application.Reload(c.Old, c.New); err != nil {
			slog.Warn("config reload rejected", "err", err)
		}
	}, config.WithReloadSignal(syscall.SIGHUP))
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		go func() { _ = watcher.Run(ctx) }()
	}

	slog.Info("parrot ready, press Ctrl+C to shut down")

	exitCode := 0
	if err := application.Run(ctx, *cycles); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exitCode = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exitCode
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the built-in engine and device factories into
// reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterVAD("silero", func(c config.VADConfig) (vad.Engine, error) {
		var opts []silero.Option
		if c.ONNXLibrary != "" {
			opts = append(opts, silero.WithLibraryPath(c.ONNXLibrary))
		}
		return silero.New(c.ModelPath, opts...)
	})

	reg.RegisterAudio("portaudio", func(c config.AudioConfig) (audio.Device, error) {
		return portaudio.Open(c.Format())
	})
	reg.RegisterAudio("wavfile", func(c config.AudioConfig) (audio.Device, error) {
		return wavfile.Open(c.ReplayDir, c.OutputPath, c.Format())
	})
}

// buildProviders instantiates the configured engine and device.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	eng, err := reg.CreateVAD(cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("vad: %w", err)
	}
	dev, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("audio: %w", err)
	}
	return &app.Providers{VAD: eng, Audio: dev}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

// printStartupSummary writes a human-readable summary of the configuration.
func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Parrot: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Audio backend", cfg.Audio.Backend)
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.Audio.SampleRate))
	printRow("VAD engine", cfg.VAD.Engine)
	printRow("Bit duration", cfg.Segment.BitDuration.String())
	printRow("Max utterance", cfg.Segment.MaxUtterance.String())
	printRow("Pitch shift", fmt.Sprintf("%+.1f st", cfg.Conditioning.PitchSemitones))
	if cfg.Conditioning.PreFilter.Enabled {
		printRow("Pre-filter", string(cfg.Conditioning.PreFilter.Mode))
	} else {
		printRow("Pre-filter", "(disabled)")
	}
	printRow("Idle bound", fmt.Sprintf("%s-%s", cfg.Playback.IdleMin, cfg.Playback.IdleMax))
	printRow("Indicator", string(cfg.Indicator.Kind))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	printRow("Traces", string(cfg.Server.Traces))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(none)"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// slogLevel maps a config log level to its slog equivalent.
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

// Package app wires the parrot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the Bit-cycle loop (and the optional HTTP
// endpoint), and Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithClips,
// WithIndicator, WithMetrics, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parrot/internal/clips"
	"github.com/MrWong99/parrot/internal/condition"
	"github.com/MrWong99/parrot/internal/config"
	"github.com/MrWong99/parrot/internal/duplex"
	"github.com/MrWong99/parrot/internal/health"
	"github.com/MrWong99/parrot/internal/indicator"
	"github.com/MrWong99/parrot/internal/observe"
	"github.com/MrWong99/parrot/internal/playback"
	"github.com/MrWong99/parrot/internal/segment"
	"github.com/MrWong99/parrot/pkg/audio"
	"github.com/MrWong99/parrot/pkg/provider/vad"
)

// minHeartbeatAge is the shortest silence tolerated from the loop before
// /readyz reports it as stalled.
const minHeartbeatAge = time.Minute

// Providers holds the backend instances built by main.go via the config
// registry. Both are required.
type Providers struct {
	VAD   vad.Engine
	Audio audio.Device
}

// App owns all subsystem lifetimes and runs the parrot loop.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Injected or built in New.
	metrics   *observe.Metrics
	indicator indicator.Indicator
	reactions playback.ClipSource
	sentences playback.ClipSource
	rng       *rand.Rand
	now       func() time.Time

	coord    *duplex.Coordinator
	sched    *playback.Scheduler
	pipeline *condition.Pipeline
	machine  *segment.Machine

	engineReady health.Flag
	deviceOK    health.Flag
	loop        *health.Heartbeat
	handler     http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithIndicator injects a status indicator instead of creating one from config.
func WithIndicator(ind indicator.Indicator) Option {
	return func(a *App) { a.indicator = ind }
}

// WithClips injects the reaction and sentence clip sets instead of opening the
// configured directories.
func WithClips(reactions, sentences playback.ClipSource) Option {
	return func(a *App) {
		a.reactions = reactions
		a.sentences = sentences
	}
}

// WithRand injects the random source used for clip decisions. It overrides
// playback.seed.
func WithRand(rng *rand.Rand) Option {
	return func(a *App) { a.rng = rng }
}

// WithClock sets the wall clock used by the idle timer and the loop heartbeat.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: clip enumeration, pipeline
// and engine warm-up, and construction of the coordinator, scheduler and
// segmentation machine. Nothing is captured until Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.VAD == nil || providers.Audio == nil {
		return nil, errors.New("app: vad engine and audio device are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.indicator == nil {
		a.indicator = indicator.New(cfg.Indicator.Kind, cfg.Indicator.GPIOChip, cfg.Indicator.GPIOPin)
	}
	if a.rng == nil && cfg.Playback.Seed != 0 {
		a.rng = rand.New(rand.NewPCG(cfg.Playback.Seed, cfg.Playback.Seed))
	}
	sampleRate := cfg.Audio.SampleRate

	// ── 1. Half-duplex coordinator ───────────────────────────────────────
	a.coord = duplex.New(providers.Audio, a.indicator, duplex.WithMetrics(a.metrics))

	// ── 2. Clip sets ─────────────────────────────────────────────────────
	if err := a.initClips(sampleRate); err != nil {
		return nil, fmt.Errorf("app: init clips: %w", err)
	}

	// ── 3. Playback scheduler ────────────────────────────────────────────
	schedOpts := []playback.Option{
		playback.WithClock(a.now),
		playback.WithMetrics(a.metrics),
	}
	if a.rng != nil {
		schedOpts = append(schedOpts, playback.WithRand(a.rng))
	}
	sched, err := playback.New(cfg.SchedulerConfig(), a.coord, a.reactions, a.sentences, schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: init scheduler: %w", err)
	}
	a.sched = sched

	// ── 4. Conditioning pipeline ─────────────────────────────────────────
	pipeline, err := condition.New(cfg.PipelineConfig(), sampleRate, condition.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	if err := pipeline.WarmUp(ctx); err != nil {
		return nil, fmt.Errorf("app: warm up pipeline: %w", err)
	}
	a.pipeline = pipeline

	// ── 5. Engine warm-up ────────────────────────────────────────────────
	if err := warmUpEngine(providers.VAD, sampleRate); err != nil {
		a.engineReady.Fail(err.Error())
		return nil, fmt.Errorf("app: warm up engine: %w", err)
	}
	a.engineReady.Set()

	// ── 6. Segmentation machine ──────────────────────────────────────────
	a.loop = health.NewHeartbeat(max(minHeartbeatAge, 4*cfg.Segment.MaxUtterance), a.now)
	machine, err := segment.New(cfg.MachineConfig(), a.coord, providers.VAD, a.pipeline, a.sched,
		segment.WithMetrics(a.metrics),
		segment.WithCycleHook(a.loop.Beat),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init machine: %w", err)
	}
	a.machine = machine

	// ── 7. HTTP surface ──────────────────────────────────────────────────
	a.handler = a.buildHandler()

	a.closers = append(a.closers,
		a.coord.Close,
		a.indicator.Close,
		providers.Audio.Close,
		providers.VAD.Close,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initClips opens the configured clip directories unless both sets were
// injected.
func (a *App) initClips(sampleRate int) error {
	if a.reactions == nil {
		s, err := clips.Open(playback.SetReaction, a.cfg.Playback.ReactionDir, sampleRate)
		if err != nil {
			return err
		}
		a.reactions = s
	}
	if a.sentences == nil {
		s, err := clips.Open(playback.SetSentence, a.cfg.Playback.SentenceDir, sampleRate)
		if err != nil {
			return err
		}
		a.sentences = s
	}
	return nil
}

// warmUpEngine runs one inference on a silent frame with a throwaway state so
// the first real Bit does not pay for session creation.
func warmUpEngine(eng vad.Engine, sampleRate int) error {
	var st vad.State
	_, err := eng.Infer(&st, make([]float32, vad.FrameSize(sampleRate)), sampleRate)
	return err
}

// buildHandler assembles /metrics, /healthz and /readyz behind the observe
// middleware.
func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		a.engineReady.Checker("engine"),
		a.deviceOK.Checker("device"),
		a.loop.Checker("loop"),
	).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler served on server.listen_addr.
func (a *App) Handler() http.Handler { return a.handler }

// Machine returns the segmentation machine.
func (a *App) Machine() *segment.Machine { return a.machine }

// Scheduler returns the playback scheduler.
func (a *App) Scheduler() *playback.Scheduler { return a.sched }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts capture and executes Bit-cycles until ctx is cancelled or, when
// cycles > 0, that many cycles have completed. When server.listen_addr is set
// the HTTP endpoint runs alongside the loop and stops with it.
//
// Run returns nil on cancellation and on completing a bounded run.
func (a *App) Run(ctx context.Context, cycles int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		if err := a.coord.Listen(); err != nil {
			a.deviceOK.Fail(err.Error())
			return fmt.Errorf("app: start capture: %w", err)
		}
		a.deviceOK.Set()
		slog.Info("app running",
			"bit", a.machine.BitLength(),
			"max_bits", a.machine.MaxBits(),
			"reactions", a.reactions.Len(),
			"sentences", a.sentences.Len(),
		)
		if err := a.machine.Run(gctx, cycles); err != nil {
			a.deviceOK.Fail(err.Error())
			return fmt.Errorf("app: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of next. Sections that need a
// restart are logged and otherwise ignored. The log level is owned by the
// caller.
func (a *App) Reload(prev, next *config.Config) error {
	d := config.Diff(prev, next)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config change requires restart", "sections", d.RestartRequired)
	}
	if !d.PlaybackChanged {
		return nil
	}
	if err := a.sched.Update(next.SchedulerConfig()); err != nil {
		return fmt.Errorf("app: reload playback: %w", err)
	}
	slog.Info("playback settings reloaded", "idle_bound", a.sched.Bound())
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture, turns the indicator off and releases the device and
// engine. It is safe to call more than once; only the first call does work.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

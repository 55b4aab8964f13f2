// Package playback decides when pre-recorded clips are played: a reactive
// clip after each emitted utterance and idle chatter after long silences.
//
// All randomness comes from an injected *rand.Rand and all time from an
// injected clock, so decisions are reproducible in tests.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/parrot/internal/observe"
	"github.com/MrWong99/parrot/internal/resilience"
)

// Clip set names used in logs and metrics.
const (
	SetReaction = "reaction"
	SetSentence = "sentence"
)

// Player renders a clip. Implementations open their own speaking window when
// one is not already open.
type Player interface {
	Play(ctx context.Context, pcm []int16) error
}

// ClipSource is an enumerable collection of clips. An empty source disables
// every path that would draw from it.
type ClipSource interface {
	// Len returns the number of clips.
	Len() int

	// Pick returns one clip chosen uniformly with rng.
	Pick(rng *rand.Rand) ([]int16, error)
}

// Config holds the tunables of a [Scheduler].
type Config struct {
	// ReactionProbability is the chance of a reactive clip after an
	// utterance.
	ReactionProbability float64

	// IdleProbability is the chance that an idle trigger produces chatter.
	IdleProbability float64

	// SentenceShare is the share of idle chatter that is a sentence clip; the
	// rest plays two reaction clips.
	SentenceShare float64

	// IdleMin and IdleMax bound the idle period. A new bound is drawn
	// uniformly from [IdleMin, IdleMax] at every trigger.
	IdleMin time.Duration
	IdleMax time.Duration

	// ClipDelay is waited before each clip.
	ClipDelay time.Duration
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		ReactionProbability: 0.25,
		IdleProbability:     0.25,
		SentenceShare:       0.5,
		IdleMin:             60 * time.Second,
		IdleMax:             180 * time.Second,
		ClipDelay:           100 * time.Millisecond,
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"reaction probability", c.ReactionProbability},
		{"idle probability", c.IdleProbability},
		{"sentence share", c.SentenceShare},
	} {
		if p.v < 0 || p.v > 1 {
			errs = append(errs, fmt.Errorf("playback: %s %.2f outside [0, 1]", p.name, p.v))
		}
	}
	if c.IdleMin <= 0 {
		errs = append(errs, fmt.Errorf("playback: idle min %v must be positive", c.IdleMin))
	}
	if c.IdleMax < c.IdleMin {
		errs = append(errs, fmt.Errorf("playback: idle max %v below idle min %v", c.IdleMax, c.IdleMin))
	}
	if c.ClipDelay < 0 {
		errs = append(errs, fmt.Errorf("playback: clip delay %v must not be negative", c.ClipDelay))
	}
	return errors.Join(errs...)
}

// Option is a functional option for [New].
type Option func(*Scheduler)

// WithRand sets the random source. Defaults to a randomly seeded PCG.
func WithRand(rng *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = rng }
}

// WithClock sets the time source. Defaults to [time.Now].
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithPickBreaker suspends a clip set for cooldown after maxFailures
// consecutive failed picks. Defaults to 3 failures and 5 minutes.
func WithPickBreaker(maxFailures int, cooldown time.Duration) Option {
	return func(s *Scheduler) {
		s.breakerFailures = maxFailures
		s.breakerCooldown = cooldown
	}
}

// Scheduler implements the reactive-clip and idle-chatter decisions.
// It is safe for concurrent use; [Scheduler.Update] may be called from a
// config watcher while the listening loop drives the other methods.
type Scheduler struct {
	player    Player
	reactions ClipSource
	sentences ClipSource
	metrics   *observe.Metrics

	breakerFailures int
	breakerCooldown time.Duration
	breakers        map[string]*resilience.CircuitBreaker

	mu    sync.Mutex
	cfg   Config
	rng   *rand.Rand
	now   func() time.Time
	last  time.Time
	bound time.Duration
}

// New validates cfg and returns a Scheduler. reactions and sentences may be
// nil, which behaves like an empty source.
func New(cfg Config, player Player, reactions, sentences ClipSource, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		player:    player,
		reactions: orEmpty(reactions),
		sentences: orEmpty(sentences),
		cfg:       cfg,
	}
	for _, o := range opts {
		o(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.breakers = make(map[string]*resilience.CircuitBreaker, 2)
	for _, set := range []string{SetReaction, SetSentence} {
		s.breakers[set] = resilience.New(resilience.Config{
			Name:        "clips/" + set,
			MaxFailures: s.breakerFailures,
			Cooldown:    s.breakerCooldown,
			Now:         s.now,
		})
	}
	s.last = s.now()
	s.bound = s.rollBound()
	return s, nil
}

// Update replaces the tunables. The current idle bound is re-drawn from the
// new range.
func (s *Scheduler) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.bound = s.rollBound()
	return nil
}

// Bound returns the current idle bound.
func (s *Scheduler) Bound() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// ResetIdle restarts the idle timer.
func (s *Scheduler) ResetIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = s.now()
}

// CheckIdle evaluates the idle timer. Once the time since the last reset has
// reached the bound, the timer is reset, a new bound is drawn and with
// IdleProbability either one sentence clip or two reaction clips are played.
func (s *Scheduler) CheckIdle(ctx context.Context) error {
	s.mu.Lock()
	now := s.now()
	if now.Sub(s.last) < s.bound {
		s.mu.Unlock()
		return nil
	}
	s.last = now
	s.bound = s.rollBound()
	cfg := s.cfg
	chatter := s.rng.Float64() < cfg.IdleProbability
	sentence := s.rng.Float64() < cfg.SentenceShare
	s.mu.Unlock()

	switch {
	case !chatter:
		s.metrics.RecordIdleEvaluation(ctx, "skipped")
		return nil
	case sentence:
		s.metrics.RecordIdleEvaluation(ctx, SetSentence)
		return s.play(ctx, cfg, SetSentence, s.sentences)
	default:
		s.metrics.RecordIdleEvaluation(ctx, SetReaction)
		for range 2 {
			if err := s.play(ctx, cfg, SetReaction, s.reactions); err != nil {
				return err
			}
		}
		return nil
	}
}

// AfterUtterance plays one reaction clip with ReactionProbability.
func (s *Scheduler) AfterUtterance(ctx context.Context) error {
	if s.reactions.Len() == 0 {
		return nil
	}
	s.mu.Lock()
	cfg := s.cfg
	hit := s.rng.Float64() < cfg.ReactionProbability
	s.mu.Unlock()
	if !hit {
		return nil
	}
	return s.play(ctx, cfg, SetReaction, s.reactions)
}

// play waits ClipDelay, picks a clip from src and plays it. An empty source,
// or a set suspended after repeated pick failures, is a no-op.
func (s *Scheduler) play(ctx context.Context, cfg Config, set string, src ClipSource) error {
	if sleep(ctx, cfg.ClipDelay) != nil {
		return nil
	}
	if src.Len() == 0 {
		return nil
	}
	var pcm []int16
	err := s.breakers[set].Execute(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		var err error
		pcm, err = src.Pick(s.rng)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		observe.Logger(ctx).Debug("clip set suspended", "set", set)
		return nil
	}
	if err != nil {
		return fmt.Errorf("playback: pick %s clip: %w", set, err)
	}

	ctx, span := observe.StartClip(ctx, set)
	defer span.End()
	if err := s.player.Play(ctx, pcm); err != nil {
		observe.FailSpan(span, "playback", err)
		return fmt.Errorf("playback: play %s clip: %w", set, err)
	}
	s.metrics.RecordClip(ctx, set)
	observe.Logger(ctx).Debug("clip played", "set", set, "samples", len(pcm))
	return nil
}

// rollBound draws a new idle bound. Must be called with s.mu held.
func (s *Scheduler) rollBound() time.Duration {
	span := s.cfg.IdleMax - s.cfg.IdleMin
	if span <= 0 {
		return s.cfg.IdleMin
	}
	return s.cfg.IdleMin + time.Duration(s.rng.Float64()*float64(span))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type emptySource struct{}

func (emptySource) Len() int { return 0 }

func (emptySource) Pick(*rand.Rand) ([]int16, error) {
	return nil, errors.New("playback: empty clip set")
}

func orEmpty(src ClipSource) ClipSource {
	if src == nil {
		return emptySource{}
	}
	return src
}

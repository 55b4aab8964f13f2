// Package mock provides test doubles for the playback package interfaces.
package mock

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/MrWong99/parrot/internal/playback"
)

// Player records every clip passed to Play.
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play.
	PlayErr error

	// Played holds a copy of every clip passed to Play.
	Played [][]int16
}

// Play implements [playback.Player].
func (p *Player) Play(_ context.Context, pcm []int16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PlayErr != nil {
		return p.PlayErr
	}
	cp := make([]int16, len(pcm))
	copy(cp, pcm)
	p.Played = append(p.Played, cp)
	return nil
}

// PlayCount returns the number of successful Play calls. Thread-safe.
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Played)
}

// Clips is a fixed in-memory clip collection.
type Clips struct {
	mu sync.Mutex

	// Items is the collection. Pick draws uniformly from it.
	Items [][]int16

	// PickErr, if non-nil, is returned by Pick.
	PickErr error

	// Picks records the index of every successful Pick.
	Picks []int
}

// Len implements [playback.ClipSource].
func (c *Clips) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Items)
}

// Pick implements [playback.ClipSource].
func (c *Clips) Pick(rng *rand.Rand) ([]int16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PickErr != nil {
		return nil, c.PickErr
	}
	i := rng.IntN(len(c.Items))
	c.Picks = append(c.Picks, i)
	return c.Items[i], nil
}

// PickCount returns the number of successful Pick calls. Thread-safe.
func (c *Clips) PickCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Picks)
}

// NewClips returns a collection of n distinct clips of length samples each.
func NewClips(n, samples int) *Clips {
	c := &Clips{}
	for i := range n {
		clip := make([]int16, samples)
		for j := range clip {
			clip[j] = int16(i + 1)
		}
		c.Items = append(c.Items, clip)
	}
	return c
}

var (
	_ playback.Player     = (*Player)(nil)
	_ playback.ClipSource = (*Clips)(nil)
)

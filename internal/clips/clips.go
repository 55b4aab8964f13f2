// Package clips loads the pre-recorded clip collections played by the
// playback scheduler.
//
// A Store enumerates the .wav and .mp3 files of one directory at Open and
// decodes a clip the first time it is picked. Decoded clips are mono int16 at
// the device sample rate and are cached for the life of the Store.
package clips

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/faiface/beep/mp3"

	"github.com/MrWong99/parrot/internal/dsp"
	"github.com/MrWong99/parrot/pkg/audio"
	"github.com/MrWong99/parrot/pkg/audio/wavfile"
)

// ErrUnsupportedFormat is returned by [Decode] for files that are neither
// WAV nor MP3.
var ErrUnsupportedFormat = errors.New("clips: unsupported file format")

// Store is one named clip collection. It is safe for concurrent use.
type Store struct {
	name       string
	sampleRate int
	paths      []string

	mu    sync.Mutex
	cache map[int][]int16
}

// Open enumerates the clips in dir. An empty dir, or one that does not exist,
// yields an empty Store, which disables every path that draws from it.
func Open(name, dir string, sampleRate int) (*Store, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("clips: %s: sample rate %d must be positive", name, sampleRate)
	}
	s := &Store{name: name, sampleRate: sampleRate, cache: make(map[int][]int16)}
	if dir == "" {
		return s, nil
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("clips: directory missing, set disabled", "set", name, "dir", dir)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("clips: %s: read %s: %w", name, dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !supported(e.Name()) {
			continue
		}
		s.paths = append(s.paths, filepath.Join(dir, e.Name()))
	}
	slices.Sort(s.paths)
	slog.Info("clips loaded", "set", name, "dir", dir, "count", len(s.paths))
	return s, nil
}

func supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".mp3":
		return true
	}
	return false
}

// Name returns the collection name.
func (s *Store) Name() string { return s.name }

// Len returns the number of clips.
func (s *Store) Len() int { return len(s.paths) }

// Paths returns the clip files in lexical order.
func (s *Store) Paths() []string { return slices.Clone(s.paths) }

// Pick returns a uniformly chosen clip, decoding it on first use.
func (s *Store) Pick(rng *rand.Rand) ([]int16, error) {
	if len(s.paths) == 0 {
		return nil, fmt.Errorf("clips: %s: empty set", s.name)
	}
	return s.Load(rng.IntN(len(s.paths)))
}

// Load returns clip i, decoding it on first use.
func (s *Store) Load(i int) ([]int16, error) {
	if i < 0 || i >= len(s.paths) {
		return nil, fmt.Errorf("clips: %s: index %d out of range", s.name, i)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if pcm, ok := s.cache[i]; ok {
		return pcm, nil
	}
	samples, err := Decode(s.paths[i], s.sampleRate)
	if err != nil {
		return nil, err
	}
	pcm := audio.Float64ToInt16(samples)
	s.cache[i] = pcm
	return pcm, nil
}

// Decode reads a WAV or MP3 file and returns mono float64 samples at
// sampleRate.
func Decode(path string, sampleRate int) ([]float64, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		out, err := wavfile.DecodeFile(path, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("clips: %w", err)
		}
		return out, nil
	case ".mp3":
		return decodeMP3(path, sampleRate)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func decodeMP3(path string, sampleRate int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("clips: open %s: %w", path, err)
	}
	// The streamer owns f and closes it.
	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("clips: decode %s: %w", path, err)
	}
	defer streamer.Close()

	var mono []float64
	buf := make([][2]float64, 4096)
	for {
		n, ok := streamer.Stream(buf)
		for _, frame := range buf[:n] {
			mono = append(mono, (frame[0]+frame[1])/2)
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("clips: decode %s: %w", path, err)
	}

	out, err := dsp.Resample(mono, float64(format.SampleRate), float64(sampleRate))
	if err != nil {
		return nil, fmt.Errorf("clips: %s: %w", path, err)
	}
	return out, nil
}

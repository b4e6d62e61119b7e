// Package fake provides deterministic probability sources for tests and
// demos. They never look at the audio.
package fake

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/chriscow/rtvad/pkg/vad"
)

const (
	// DefaultSpeechProbability is the default chance that a Random frame is speech.
	DefaultSpeechProbability = 0.3
	// DefaultSeed is the deterministic seed for reproducible testing.
	DefaultSeed = 42
)

// ErrScripted is returned by Scripted for frames listed in Failures.
var ErrScripted = errors.New("fake: scripted inference failure")

// Scripted returns a fixed probability per frame, in call order. Once the
// script runs out the Tail value is returned.
type Scripted struct {
	mu       sync.Mutex
	script   []float64
	failures map[int]bool
	tail     float64

	calls   int
	loads   []vad.ModelVersion
	resets  int
	closed  bool
	LoadErr error
}

// NewScripted returns a source that yields probs in order and tail after.
func NewScripted(probs []float64, tail float64) *Scripted {
	return &Scripted{script: probs, tail: tail, failures: map[int]bool{}}
}

// Repeat builds a script of n copies of p.
func Repeat(p float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = p
	}
	return out
}

// Concat joins scripts.
func Concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// FailAt makes the call with the given zero-based index return ErrScripted.
// Failing calls still consume their script entry.
func (s *Scripted) FailAt(calls ...int) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range calls {
		s.failures[c] = true
	}
	return s
}

// Score implements vad.ProbabilitySource.
func (s *Scripted) Score(frame []float32, rate vad.SampleRate, version vad.ModelVersion) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.New("fake: source closed")
	}
	i := s.calls
	s.calls++
	if s.failures[i] {
		return 0, fmt.Errorf("%w (call %d)", ErrScripted, i)
	}
	if i < len(s.script) {
		return s.script[i], nil
	}
	return s.tail, nil
}

// Load records the requested version and returns LoadErr.
func (s *Scripted) Load(version vad.ModelVersion, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return s.LoadErr
	}
	s.loads = append(s.loads, version)
	return nil
}

// Reset counts resets.
func (s *Scripted) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

// Close marks the source closed.
func (s *Scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Calls returns how many frames were scored.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Loads returns the model versions loaded so far.
func (s *Scripted) Loads() []vad.ModelVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]vad.ModelVersion(nil), s.loads...)
}

// Resets returns how many times Reset was called.
func (s *Scripted) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closed reports whether Close was called.
func (s *Scripted) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Random draws speech or silence per frame from a seeded generator. Speech
// frames score High and silent frames score Low.
type Random struct {
	mu                sync.Mutex
	speechProbability float64
	rng               *rand.Rand
	seed              int64

	High float64
	Low  float64
}

// NewRandom returns a Random source using DefaultSeed.
func NewRandom(speechProbability float64) *Random {
	return NewRandomWithSeed(speechProbability, DefaultSeed)
}

// NewRandomWithSeed returns a Random source with a custom seed.
func NewRandomWithSeed(speechProbability float64, seed int64) *Random {
	if speechProbability <= 0 {
		speechProbability = DefaultSpeechProbability
	}
	return &Random{
		speechProbability: speechProbability,
		rng:               rand.New(rand.NewSource(seed)),
		seed:              seed,
		High:              0.9,
		Low:               0.1,
	}
}

// Score implements vad.ProbabilitySource.
func (r *Random) Score(frame []float32, rate vad.SampleRate, version vad.ModelVersion) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rng.Float64() < r.speechProbability {
		return r.High, nil
	}
	return r.Low, nil
}

// Reset rewinds the generator to its seed.
func (r *Random) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rng = rand.New(rand.NewSource(r.seed))
}

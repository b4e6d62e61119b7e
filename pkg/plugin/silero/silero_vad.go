//go:build silero

package silero

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/chriscow/rtvad/pkg/audio"
	"github.com/chriscow/rtvad/pkg/vad"
)

// Available reports whether this build can run the Silero model.
const Available = true

// Source is a vad.ProbabilitySource backed by a Silero ONNX model. It keeps
// the network's recurrent state between frames, so one Source serves one
// stream.
type Source struct {
	mu      sync.Mutex
	opts    Options
	version vad.ModelVersion
	path    string
	sess    *session
}

// NewSource returns an unloaded source. The engine loads the model through
// Load; call it directly when using the source on its own.
func NewSource(opts Options) *Source {
	return &Source{opts: opts, version: opts.Version}
}

// Load opens the model for version. An empty path falls back to the path
// given in Options, then to the default model location.
func (s *Source) Load(version vad.ModelVersion, path string) error {
	if path == "" {
		path = s.opts.ModelPath
	}
	path = ResolveModelPath(version, path)

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("model file not found: %s (run 'rtvad model download' first): %w", path, err)
	}
	if err := ensureOrtEnv(); err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	sess, err := newSession(path, version, 16000, s.opts.Threads)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != nil {
		s.sess.destroy()
	}
	s.sess = sess
	s.version = version
	s.path = path

	slog.Debug("Loaded Silero model",
		slog.String("version", version.String()),
		slog.String("model_path", path))
	return nil
}

// Score implements vad.ProbabilitySource. Input above 16 kHz is resampled to
// 16 kHz before inference.
func (s *Source) Score(frame []float32, rate vad.SampleRate, version vad.ModelVersion) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess == nil {
		return 0, errors.New("silero model not loaded")
	}
	if version != s.version {
		return 0, fmt.Errorf("loaded model is %s, frame is for %s", s.version, version)
	}

	modelRate := rate.ModelRate()
	if s.sess.rate != modelRate {
		sess, err := newSession(s.path, s.version, modelRate, s.opts.Threads)
		if err != nil {
			return 0, err
		}
		s.sess.destroy()
		s.sess = sess
	}

	samples := frame
	if int(rate) != modelRate {
		samples = audio.Resample(frame, int(rate), modelRate)
	}

	p, err := s.sess.run(samples)
	if err != nil {
		return 0, err
	}
	return float64(p), nil
}

// Reset clears the recurrent state.
func (s *Source) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != nil {
		s.sess.reset()
	}
}

// Close releases the ONNX session.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != nil {
		s.sess.destroy()
		s.sess = nil
	}
	return nil
}

func newSource(opts Options) (vad.ProbabilitySource, error) {
	return NewSource(opts), nil
}

// Package vad implements a streaming voice activity detection engine.
//
// An Engine slices pushed audio into fixed-size frames, scores each frame with
// a ProbabilitySource, debounces the scores through a hysteresis state
// machine and assembles speech segments. Segment boundaries are delivered
// synchronously to an Observer: one start, zero or more continues and one end
// carrying the complete waveform (pre-roll included) as a WAV container.
//
// An Engine is not safe for concurrent use. Run one engine per stream and
// serialize calls to it.
package vad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/chriscow/rtvad/internal/observe"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers the observer that receives engine events.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.disp.observer = o }
}

// Metrics receives engine measurements. *observe.Metrics implements it.
type Metrics interface {
	RecordFrame(ctx context.Context, state string)
	RecordInference(ctx context.Context, d time.Duration)
	RecordError(ctx context.Context, kind string)
	SegmentStarted(ctx context.Context)
	SegmentEnded(ctx context.Context, d time.Duration)
	SegmentDiscarded(ctx context.Context)
}

// WithMetrics sets the metrics sink. Default: the process-wide OpenTelemetry
// instruments.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// Engine is an owned VAD instance. Create it with New and release it with
// Close when the stream ends.
type Engine struct {
	cfg     Config
	source  ProbabilitySource
	logger  *slog.Logger
	metrics Metrics

	framer  *Framer
	machine *StateMachine
	ring    *frameRing
	asm     *Assembler
	disp    dispatcher

	// pos is the stream time at the start of the next frame. It survives
	// Apply, which may change the frame duration.
	pos time.Duration

	released bool
}

// New validates cfg, loads the model if source is a ModelLoader and returns
// an Idle engine.
func New(cfg Config, source ProbabilitySource, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newError("new", ErrInvalidConfig, err)
	}
	if source == nil {
		return nil, newError("new", ErrInvalidConfig, errors.New("nil probability source"))
	}

	e := &Engine{
		source: source,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.disp.logger = e.logger

	if loader, ok := source.(ModelLoader); ok {
		if err := loader.Load(cfg.ModelVersion, cfg.ModelPath); err != nil {
			return nil, newError("new", ErrResourceUnavailable, err)
		}
	}

	e.framer = NewFramer(cfg.FrameSize())
	e.rebuild(cfg)

	e.logger.Debug("vad engine created",
		slog.Int("sample_rate", int(cfg.SampleRate)),
		slog.String("model", cfg.ModelVersion.String()),
		slog.Int("frame_size", cfg.FrameSize()),
	)
	return e, nil
}

// SetObserver replaces the registered observer. A nil observer drops events.
func (e *Engine) SetObserver(o Observer) {
	e.disp.observer = o
}

// Config returns the active configuration.
func (e *Engine) Config() Config { return e.cfg }

// State returns the current speech state.
func (e *Engine) State() State { return e.machine.State() }

// Buffered returns the number of samples held for the next frame.
func (e *Engine) Buffered() int { return e.framer.Buffered() }

// Apply replaces the configuration. It fails with ErrConfigurationConflict
// unless the engine is Idle with no partial frame buffered, and with
// ErrResourceUnavailable when the new model cannot be loaded. On failure
// the previous configuration stays in effect.
func (e *Engine) Apply(cfg Config) error {
	if e.released {
		return newError("apply", ErrReleased, nil)
	}
	if st := e.machine.State(); st != Idle {
		return newError("apply", ErrConfigurationConflict, fmt.Errorf("engine is %s", st))
	}
	if n := e.framer.Buffered(); n > 0 {
		return newError("apply", ErrConfigurationConflict, fmt.Errorf("%d samples buffered", n))
	}
	if err := cfg.Validate(); err != nil {
		return newError("apply", ErrInvalidConfig, err)
	}

	if cfg.ModelVersion != e.cfg.ModelVersion || cfg.ModelPath != e.cfg.ModelPath {
		if loader, ok := e.source.(ModelLoader); ok {
			if err := loader.Load(cfg.ModelVersion, cfg.ModelPath); err != nil {
				return newError("apply", ErrResourceUnavailable, err)
			}
		}
	}

	if err := e.framer.Resize(cfg.FrameSize()); err != nil {
		return err
	}
	e.rebuild(cfg)
	if r, ok := e.source.(Resetter); ok {
		r.Reset()
	}

	e.logger.Debug("vad engine reconfigured",
		slog.Int("sample_rate", int(cfg.SampleRate)),
		slog.String("model", cfg.ModelVersion.String()),
		slog.Int("frame_size", cfg.FrameSize()),
	)
	return nil
}

// SetSampleRate applies the current configuration with a new input rate.
func (e *Engine) SetSampleRate(rate SampleRate) error {
	cfg := e.cfg
	cfg.SampleRate = rate
	return e.Apply(cfg)
}

// SetModel applies the current configuration with a new model.
func (e *Engine) SetModel(version ModelVersion, path string) error {
	cfg := e.cfg
	cfg.ModelVersion = version
	cfg.ModelPath = path
	return e.Apply(cfg)
}

// SetThresholds applies the current configuration with new thresholds.
func (e *Engine) SetThresholds(th Thresholds) error {
	cfg := e.cfg
	cfg.Thresholds = th
	return e.Apply(cfg)
}

// Push feeds samples at the configured rate. Every completed frame is scored
// and processed before Push returns, and observer callbacks run on the
// calling goroutine. Per-frame failures do not stop the stream: they are
// returned joined together once all frames were processed.
func (e *Engine) Push(samples []float32) error {
	if e.released {
		return newError("push", ErrReleased, nil)
	}

	var errs []error
	for _, f := range e.framer.Push(samples) {
		// An observer may release the engine mid-batch.
		if e.released {
			break
		}
		if err := e.process(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) process(f Frame) error {
	ctx := context.Background()
	at := e.pos
	e.pos += e.cfg.FrameDuration()

	began := time.Now()
	p, err := e.source.Score(f.Samples, e.cfg.SampleRate, e.cfg.ModelVersion)
	e.metrics.RecordInference(ctx, time.Since(began))
	if err != nil {
		e.metrics.RecordError(ctx, "inference")
		e.logger.Warn("frame skipped",
			slog.Int64("frame", f.Index),
			slog.String("error", err.Error()),
		)
		// The frame is not classified but its audio stays in the stream.
		e.keep(f)
		return frameError("push", ErrInference, f.Index, err)
	}

	tr, perr := e.machine.Observe(p)
	var ferr error
	if perr != nil {
		e.metrics.RecordError(ctx, "invalid_probability")
		e.logger.Warn("invalid probability treated as silence",
			slog.Int64("frame", f.Index),
			slog.Float64("probability", p),
		)
		ferr = frameError("push", ErrInvalidProbability, f.Index, perr)
	}
	e.metrics.RecordFrame(ctx, e.machine.State().String())

	switch tr {
	case Start:
		if err := e.begin(ctx, f, at); err != nil {
			return errors.Join(ferr, err)
		}
	case Continue:
		if err := e.appendFrame(f); err != nil {
			return errors.Join(ferr, err)
		}
	case End:
		if err := e.finish(ctx, f); err != nil {
			return errors.Join(ferr, err)
		}
	default:
		e.ring.push(f)
	}
	return ferr
}

// keep retains the audio of an unclassified frame without emitting an event
// for it.
func (e *Engine) keep(f Frame) {
	if !e.asm.Active() {
		e.ring.push(f)
		return
	}
	if err := e.asm.Append(f); err != nil {
		e.logger.Error("dropping unclassified frame", slog.Int64("frame", f.Index), slog.String("error", err.Error()))
	}
}

func (e *Engine) begin(ctx context.Context, f Frame, at time.Duration) error {
	preroll := e.ring.drain()
	if err := e.asm.Begin(preroll); err != nil {
		return frameError("push", nil, f.Index, err)
	}
	if err := e.asm.Append(f); err != nil {
		e.asm.Discard()
		return frameError("push", nil, f.Index, err)
	}
	e.metrics.SegmentStarted(ctx)

	e.logger.Debug("voice start",
		slog.Int64("frame", f.Index),
		slog.Int("preroll_frames", len(preroll)),
	)
	e.disp.start(StartEvent{
		Frame:  f.Index,
		Offset: at,
	})
	return nil
}

func (e *Engine) appendFrame(f Frame) error {
	if err := e.asm.Append(f); err != nil {
		return frameError("push", nil, f.Index, err)
	}
	if e.cfg.ContinueEvents {
		e.disp.continued(ContinueEvent{Frame: f.Index, Samples: f.Samples, SampleRate: e.cfg.SampleRate})
	}
	return nil
}

func (e *Engine) finish(ctx context.Context, f Frame) error {
	if err := e.asm.Append(f); err != nil {
		e.logger.Error("end frame not appended", slog.Int64("frame", f.Index), slog.String("error", err.Error()))
	}
	w, err := e.asm.Finalize()
	e.ring.reset()
	if err != nil {
		return frameError("push", nil, f.Index, err)
	}
	e.metrics.SegmentEnded(ctx, w.Duration())

	e.logger.Debug("voice end",
		slog.Int64("frame", f.Index),
		slog.Int("frames", w.Frames),
		slog.Duration("duration", w.Duration()),
	)
	e.disp.end(EndEvent{Waveform: w, WAV: w.Encode(e.cfg.Encoding)})
	return nil
}

// Release discards any active segment without an end event, frees buffers
// and closes the source if it is an io.Closer. It is safe to call more than
// once; later calls return nil.
func (e *Engine) Release() error {
	if e.released {
		return nil
	}
	e.released = true

	if e.asm.Active() {
		e.asm.Discard()
		e.metrics.SegmentDiscarded(context.Background())
		e.logger.Debug("active segment discarded on release")
	}
	e.disp.abandon()
	e.framer.Reset()
	e.machine.Reset()
	e.ring.reset()

	if c, ok := e.source.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return newError("release", ErrResourceUnavailable, err)
		}
	}
	return nil
}

// Close is Release, for use with defer.
func (e *Engine) Close() error {
	return e.Release()
}

// rebuild installs cfg and fresh per-stream state derived from it.
func (e *Engine) rebuild(cfg Config) {
	e.cfg = cfg
	e.machine = NewStateMachine(cfg.Thresholds, cfg.PartialWindow)
	e.ring = newFrameRing(cfg.Thresholds.StartFrameCount - 1)
	e.asm = NewAssembler(cfg.SampleRate, cfg.FrameSize())
}

package vad

// ProbabilitySource scores one frame with a speech probability in [0, 1].
// Implementations are called synchronously from Engine.Push, one frame at a
// time in stream order.
type ProbabilitySource interface {
	Score(frame []float32, rate SampleRate, version ModelVersion) (float64, error)
}

// ModelLoader is implemented by sources backed by a model artifact. The
// engine calls Load when it is created and whenever the model version or
// path changes.
type ModelLoader interface {
	Load(version ModelVersion, path string) error
}

// Resetter is implemented by sources that keep per-stream state, such as the
// recurrent state of the Silero network. The engine calls Reset after a
// successful reconfiguration.
type Resetter interface {
	Reset()
}

// SourceFunc adapts a function to ProbabilitySource.
type SourceFunc func(frame []float32, rate SampleRate, version ModelVersion) (float64, error)

// Score calls f.
func (f SourceFunc) Score(frame []float32, rate SampleRate, version ModelVersion) (float64, error) {
	return f(frame, rate, version)
}

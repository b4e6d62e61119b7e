//go:build silero

package silero

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/chriscow/rtvad/pkg/vad"
)

// session is one ONNX Runtime session with its bound tensors. Tensor shapes
// are fixed at creation, so a session serves a single model rate.
type session struct {
	version vad.ModelVersion
	rate    int
	window  int // samples per inference at rate
	context int // trailing samples of the previous window fed back (V5 only)

	sess   *ort.AdvancedSession
	input  *ort.Tensor[float32]
	output *ort.Tensor[float32]
	sr     *ort.Scalar[int64]

	// Recurrent state: V5 uses one state tensor, V4 an LSTM h/c pair.
	stateIn  []*ort.Tensor[float32]
	stateOut []*ort.Tensor[float32]

	tail []float32
}

func newSession(path string, version vad.ModelVersion, rate, threads int) (_ *session, err error) {
	s := &session{
		version: version,
		rate:    rate,
		window:  rate * int(version.Window().Milliseconds()) / 1000,
	}
	if version == vad.ModelV5 {
		s.context = rate / 250 // 64 samples at 16 kHz, 32 at 8 kHz
	}
	s.tail = make([]float32, s.context)

	defer func() {
		if err != nil {
			s.destroy()
		}
	}()

	if s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(s.window+s.context))); err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	if s.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	if s.sr, err = ort.NewScalar(int64(rate)); err != nil {
		return nil, fmt.Errorf("failed to create sample rate scalar: %w", err)
	}

	var (
		inputNames  []string
		outputNames []string
		inputs      []ort.Value
		outputs     []ort.Value
	)

	switch version {
	case vad.ModelV5:
		if err = s.addState(ort.NewShape(2, 1, 128), 1); err != nil {
			return nil, err
		}
		inputNames = []string{"input", "state", "sr"}
		outputNames = []string{"output", "stateN"}
		inputs = []ort.Value{s.input, s.stateIn[0], s.sr}
		outputs = []ort.Value{s.output, s.stateOut[0]}
	case vad.ModelV4:
		if err = s.addState(ort.NewShape(2, 1, 64), 2); err != nil {
			return nil, err
		}
		inputNames = []string{"input", "sr", "h", "c"}
		outputNames = []string{"output", "hn", "cn"}
		inputs = []ort.Value{s.input, s.sr, s.stateIn[0], s.stateIn[1]}
		outputs = []ort.Value{s.output, s.stateOut[0], s.stateOut[1]}
	default:
		return nil, fmt.Errorf("unsupported model version %s", version)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	// One stream per session: a single intra-op thread keeps latency flat.
	if err = options.SetIntraOpNumThreads(max(1, threads)); err != nil {
		return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
	}
	if err = options.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("failed to set inter-op threads: %w", err)
	}

	s.sess, err = ort.NewAdvancedSession(path, inputNames, outputNames, inputs, outputs, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", path, err)
	}
	return s, nil
}

func (s *session) addState(shape ort.Shape, n int) error {
	for i := 0; i < n; i++ {
		in, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			return fmt.Errorf("failed to create state tensor: %w", err)
		}
		s.stateIn = append(s.stateIn, in)

		out, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			return fmt.Errorf("failed to create state tensor: %w", err)
		}
		s.stateOut = append(s.stateOut, out)
	}
	return nil
}

// run scores one window of samples at the session rate.
func (s *session) run(samples []float32) (float32, error) {
	data := s.input.GetData()
	copy(data, s.tail)
	n := copy(data[s.context:], samples)
	clear(data[s.context+n:])

	if err := s.sess.Run(); err != nil {
		return 0, fmt.Errorf("silero inference: %w", err)
	}

	for i := range s.stateIn {
		copy(s.stateIn[i].GetData(), s.stateOut[i].GetData())
	}
	copy(s.tail, data[len(data)-s.context:])

	return s.output.GetData()[0], nil
}

// reset clears the recurrent state between streams.
func (s *session) reset() {
	for _, t := range s.stateIn {
		clear(t.GetData())
	}
	clear(s.tail)
}

func (s *session) destroy() {
	if s.sess != nil {
		_ = s.sess.Destroy()
		s.sess = nil
	}
	for _, t := range append(s.stateIn, s.stateOut...) {
		_ = t.Destroy()
	}
	s.stateIn, s.stateOut = nil, nil
	if s.input != nil {
		_ = s.input.Destroy()
		s.input = nil
	}
	if s.output != nil {
		_ = s.output.Destroy()
		s.output = nil
	}
	if s.sr != nil {
		_ = s.sr.Destroy()
		s.sr = nil
	}
}

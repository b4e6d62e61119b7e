package vad

// Frame is a fixed-length run of samples with a monotonically increasing
// index. Samples are owned by the frame and must be treated as read-only once
// the frame leaves the Framer.
type Frame struct {
	Index   int64
	Samples []float32
}

// Framer slices a sample stream into fixed-size frames, carrying partial
// input over between calls. It never drops samples and never buffers more
// than one frame.
type Framer struct {
	size int
	buf  []float32
	next int64
}

// NewFramer returns a Framer producing frames of size samples.
func NewFramer(size int) *Framer {
	return &Framer{size: size, buf: make([]float32, 0, size)}
}

// Size returns the frame length in samples.
func (f *Framer) Size() int { return f.size }

// Buffered returns the number of samples held for the next frame.
func (f *Framer) Buffered() int { return len(f.buf) }

// Push appends samples and returns every frame completed by them.
func (f *Framer) Push(samples []float32) []Frame {
	if f.size <= 0 {
		return nil
	}

	var frames []Frame
	for len(samples) > 0 {
		// Fast path: no carry-over and a whole frame is available.
		if len(f.buf) == 0 && len(samples) >= f.size {
			frames = append(frames, f.emit(samples[:f.size]))
			samples = samples[f.size:]
			continue
		}

		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			frames = append(frames, f.emit(f.buf))
			f.buf = f.buf[:0]
		}
	}
	return frames
}

// Resize changes the frame length. It fails with ErrConfigurationConflict
// while partial data is buffered.
func (f *Framer) Resize(size int) error {
	if len(f.buf) > 0 {
		return newError("resize framer", ErrConfigurationConflict, nil)
	}
	f.size = size
	f.buf = make([]float32, 0, size)
	return nil
}

// Reset drops any buffered partial frame. Frame indices keep increasing.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}

func (f *Framer) emit(samples []float32) Frame {
	frame := Frame{Index: f.next, Samples: make([]float32, len(samples))}
	copy(frame.Samples, samples)
	f.next++
	return frame
}

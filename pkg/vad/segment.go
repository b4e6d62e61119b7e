package vad

import (
	"fmt"
	"time"

	"github.com/chriscow/rtvad/pkg/audio/wav"
)

// Waveform is the finalized audio of one speech segment.
type Waveform struct {
	Samples    []float32
	SampleRate SampleRate
	FrameSize  int

	// Frames is the number of frames in Samples, pre-roll included.
	Frames int
	// PrerollFrames is how many of those frames preceded the start decision.
	PrerollFrames int
	// StartFrame is the index of the first frame in Samples.
	StartFrame int64
	// ConfirmedFrame is the index of the frame that confirmed speech.
	ConfirmedFrame int64
}

// Duration returns the audio length of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// Encode returns the waveform as a self-contained WAV container.
func (w Waveform) Encode(enc wav.Encoding) []byte {
	return wav.EncodeBytes(w.Samples, int(w.SampleRate), enc)
}

// Assembler accumulates the frames of the active segment. Frames must be
// contiguous: each appended frame directly follows the previous one, so
// pre-roll and confirmed audio can neither overlap nor leave a gap.
type Assembler struct {
	sampleRate SampleRate
	frameSize  int

	active    bool
	samples   []float32
	frames    int
	preroll   int
	start     int64
	confirmed int64
	last      int64
}

// NewAssembler returns an idle assembler for the given frame geometry.
func NewAssembler(rate SampleRate, frameSize int) *Assembler {
	return &Assembler{sampleRate: rate, frameSize: frameSize}
}

// Active reports whether a segment is being accumulated.
func (a *Assembler) Active() bool { return a.active }

// Frames returns the number of frames accumulated so far.
func (a *Assembler) Frames() int { return a.frames }

// Begin opens a segment seeded with the pre-roll frames, oldest first.
func (a *Assembler) Begin(preroll []Frame) error {
	if a.active {
		return fmt.Errorf("segment already active since frame %d", a.start)
	}
	a.active = true
	a.samples = make([]float32, 0, (len(preroll)+1)*a.frameSize)
	a.frames = 0
	a.preroll = 0
	a.start = -1
	a.confirmed = -1
	a.last = -1

	for _, f := range preroll {
		if err := a.add(f); err != nil {
			a.Discard()
			return fmt.Errorf("pre-roll: %w", err)
		}
		a.preroll++
	}
	return nil
}

// Append adds the next frame of the active segment. The first frame
// appended after Begin is recorded as the confirming frame.
func (a *Assembler) Append(f Frame) error {
	if !a.active {
		return fmt.Errorf("append frame %d: no active segment", f.Index)
	}
	if err := a.add(f); err != nil {
		return err
	}
	if a.confirmed < 0 {
		a.confirmed = f.Index
	}
	return nil
}

// Finalize closes the segment and returns its waveform.
func (a *Assembler) Finalize() (Waveform, error) {
	if !a.active {
		return Waveform{}, fmt.Errorf("finalize: no active segment")
	}
	w := Waveform{
		Samples:        a.samples,
		SampleRate:     a.sampleRate,
		FrameSize:      a.frameSize,
		Frames:         a.frames,
		PrerollFrames:  a.preroll,
		StartFrame:     a.start,
		ConfirmedFrame: a.confirmed,
	}
	a.active = false
	a.samples = nil
	return w, nil
}

// Discard drops the active segment, if any.
func (a *Assembler) Discard() {
	a.active = false
	a.samples = nil
	a.frames = 0
}

func (a *Assembler) add(f Frame) error {
	if len(f.Samples) != a.frameSize {
		return fmt.Errorf("frame %d has %d samples, want %d", f.Index, len(f.Samples), a.frameSize)
	}
	if a.last >= 0 && f.Index != a.last+1 {
		return fmt.Errorf("frame %d does not follow frame %d", f.Index, a.last)
	}
	if a.start < 0 {
		a.start = f.Index
	}
	a.samples = append(a.samples, f.Samples...)
	a.frames++
	a.last = f.Index
	return nil
}

// frameRing keeps the most recent frames seen outside a segment so they can
// seed the next segment's pre-roll.
type frameRing struct {
	buf   []Frame
	head  int
	count int
}

func newFrameRing(capacity int) *frameRing {
	return &frameRing{buf: make([]Frame, max(capacity, 0))}
}

func (r *frameRing) push(f Frame) {
	if len(r.buf) == 0 {
		return
	}
	r.buf[r.head] = f
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// drain returns the held frames oldest first and empties the ring.
func (r *frameRing) drain() []Frame {
	out := make([]Frame, 0, r.count)
	for i := r.count; i > 0; i-- {
		idx := (r.head - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	r.reset()
	return out
}

func (r *frameRing) reset() {
	for i := range r.buf {
		r.buf[i] = Frame{}
	}
	r.head = 0
	r.count = 0
}

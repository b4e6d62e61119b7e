package vad

import (
	"errors"
	"testing"

	"github.com/matryer/is"
)

func TestFramerCarriesPartialInput(t *testing.T) {
	is := is.New(t)

	f := NewFramer(4)
	is.Equal(len(f.Push([]float32{1, 2, 3})), 0)
	is.Equal(f.Buffered(), 3)

	out := f.Push([]float32{4, 5, 6, 7, 8, 9})
	is.Equal(len(out), 2)
	is.Equal(out[0].Index, int64(0))
	is.Equal(out[0].Samples, []float32{1, 2, 3, 4})
	is.Equal(out[1].Index, int64(1))
	is.Equal(out[1].Samples, []float32{5, 6, 7, 8})
	is.Equal(f.Buffered(), 1)
}

func TestFramerCopiesInput(t *testing.T) {
	is := is.New(t)

	in := []float32{1, 2}
	f := NewFramer(2)
	out := f.Push(in)
	in[0] = 99
	is.Equal(out[0].Samples[0], float32(1))
}

func TestFramerResize(t *testing.T) {
	is := is.New(t)

	f := NewFramer(4)
	f.Push([]float32{1})
	err := f.Resize(8)
	is.True(errors.Is(err, ErrConfigurationConflict))
	is.Equal(f.Size(), 4)

	f.Reset()
	is.NoErr(f.Resize(8))
	is.Equal(f.Size(), 8)
}

func TestFramerIndicesSurviveReset(t *testing.T) {
	is := is.New(t)

	f := NewFramer(2)
	f.Push([]float32{1, 2, 3})
	f.Reset()
	out := f.Push([]float32{4, 5})
	is.Equal(out[0].Index, int64(1))
	is.Equal(out[0].Samples, []float32{4, 5})
}

func TestDecisionWindowCount(t *testing.T) {
	is := is.New(t)

	w := NewDecisionWindow(4)
	for _, v := range []bool{true, false, true, true, false} {
		w.Push(v)
	}
	is.Equal(w.Len(), 4)
	is.Equal(w.Cap(), 4)

	// Held: false, true, true, false (oldest first).
	m, n := w.Count(4, true)
	is.Equal(m, 2)
	is.Equal(n, 4)
	m, n = w.Count(2, false)
	is.Equal(m, 1)
	is.Equal(n, 2)
	m, n = w.Count(10, true)
	is.Equal(n, 4)
	is.Equal(m, 2)

	w.Reset()
	m, n = w.Count(4, true)
	is.Equal(m, 0)
	is.Equal(n, 0)
}

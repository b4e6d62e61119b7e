package energy

import (
	"math"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/rtvad/pkg/vad"
)

func constant(level float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = level
	}
	return out
}

func TestScoreMapsLevel(t *testing.T) {
	is := is.New(t)

	s, err := New(DefaultFloorDB, DefaultCeilingDB)
	is.NoErr(err)

	tests := []struct {
		name  string
		level float32
		want  float64
	}{
		{"silence", 0, 0},
		{"below floor", 0.0001, 0}, // -80 dBFS
		{"midpoint", 0.01, 0.5},    // -40 dBFS
		{"above ceiling", 0.5, 1},  // -6 dBFS
	}
	for _, tt := range tests {
		p, err := s.Score(constant(tt.level, 512), vad.SampleRate16k, vad.ModelV5)
		is.NoErr(err)
		if math.Abs(p-tt.want) > 1e-4 {
			t.Errorf("%s: Score = %v, want %v", tt.name, p, tt.want)
		}
	}
}

func TestNewRejectsInvertedRange(t *testing.T) {
	is := is.New(t)
	_, err := New(-20, -60)
	is.True(err != nil)
}

func TestFactoryOptions(t *testing.T) {
	is := is.New(t)

	src, err := factory(map[string]any{"floor_db": -50, "ceiling_db": -10.0})
	is.NoErr(err)
	s := src.(*Source)
	is.Equal(s.FloorDB, -50.0)
	is.Equal(s.CeilingDB, -10.0)

	_, err = factory(map[string]any{"floor_db": "quiet"})
	is.True(err != nil)
}

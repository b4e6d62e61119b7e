package audio

import (
	"math"
	"testing"

	"github.com/matryer/is"
)

func TestFloat32ToPCM16Clamps(t *testing.T) {
	is := is.New(t)

	got := Float32ToPCM16([]float32{0, 1, -1, 2, -2, 0.5})

	is.Equal(got[0], int16(0))
	is.Equal(got[1], int16(32767))
	is.Equal(got[2], int16(-32767))
	is.Equal(got[3], int16(32767))  // clamped high
	is.Equal(got[4], int16(-32768)) // clamped low
	is.Equal(got[5], int16(16384))
}

func TestFloat32BytesRoundTrip(t *testing.T) {
	is := is.New(t)

	in := []float32{0.25, -0.5, 1, float32(math.SmallestNonzeroFloat32)}
	data := Float32Bytes(in)
	is.Equal(len(data), 16)

	out, err := Float32FromBytes(data)
	is.NoErr(err)
	is.Equal(out, in)
}

func TestFloat32FromBytesRejectsPartialSample(t *testing.T) {
	is := is.New(t)

	_, err := Float32FromBytes(make([]byte, 7))
	is.True(err != nil) // 7 bytes is not a whole number of samples
}

func TestResample(t *testing.T) {
	tests := []struct {
		name    string
		in      int
		src     int
		dst     int
		wantLen int
	}{
		{"48k to 16k", 1536, 48000, 16000, 512},
		{"24k to 16k", 768, 24000, 16000, 512},
		{"8k to 16k", 256, 8000, 16000, 512},
		{"same rate", 512, 16000, 16000, 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			got := Resample(make([]float32, tt.in), tt.src, tt.dst)
			is.Equal(len(got), tt.wantLen)
		})
	}
}

func TestResampleInterpolatesLinearly(t *testing.T) {
	is := is.New(t)

	got := Resample([]float32{0, 1}, 1, 2)
	is.Equal(len(got), 4)
	is.Equal(got[0], float32(0))
	is.Equal(got[1], float32(0.5))
	is.Equal(got[2], float32(1))
	is.Equal(got[3], float32(1)) // last sample holds
}

func TestRMS(t *testing.T) {
	is := is.New(t)

	is.Equal(RMS(nil), 0.0)
	is.Equal(RMS([]float32{0.5, -0.5, 0.5, -0.5}), 0.5)
}

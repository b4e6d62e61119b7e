package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/chriscow/rtvad/pkg/audio"
)

// Encoding selects the sample format written into the data chunk.
type Encoding int

const (
	// PCM16 writes 16-bit signed little-endian integer samples (format tag 1).
	PCM16 Encoding = iota
	// Float32 writes 32-bit IEEE float samples (format tag 3).
	Float32
)

const (
	formatPCM       = 1
	formatIEEEFloat = 3
	headerSize      = 44
)

// String returns the configuration name of the encoding.
func (e Encoding) String() string {
	switch e {
	case PCM16:
		return "pcm16"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// ParseEncoding parses "pcm16" or "float32".
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "pcm16", "":
		return PCM16, nil
	case "float32":
		return Float32, nil
	default:
		return 0, fmt.Errorf("unknown WAV encoding %q (supported: pcm16|float32)", s)
	}
}

// BytesPerSample returns the size of one mono sample in the data chunk.
func (e Encoding) BytesPerSample() int {
	if e == Float32 {
		return 4
	}
	return 2
}

func (e Encoding) formatTag() uint16 {
	if e == Float32 {
		return formatIEEEFloat
	}
	return formatPCM
}

// Encode writes a complete mono WAV container holding samples to w.
func Encode(w io.Writer, samples []float32, sampleRate int, enc Encoding) error {
	dataSize := uint32(len(samples) * enc.BytesPerSample())
	if err := writeHeader(w, uint32(sampleRate), 1, enc, dataSize); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := writeSamples(w, samples, enc); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}
	return nil
}

// EncodeBytes returns samples as a self-contained mono WAV byte slice.
func EncodeBytes(samples []float32, sampleRate int, enc Encoding) []byte {
	var buf bytes.Buffer
	buf.Grow(headerSize + len(samples)*enc.BytesPerSample())
	// bytes.Buffer writes never fail.
	_ = Encode(&buf, samples, sampleRate, enc)
	return buf.Bytes()
}

// Writer streams samples into a WAV file.
type Writer struct {
	file           *os.File
	sampleRate     uint32
	encoding       Encoding
	samplesWritten uint32
}

// NewWriter creates a new mono WAV file writer.
func NewWriter(filename string, sampleRate int, enc Encoding) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}

	writer := &Writer{
		file:       file,
		sampleRate: uint32(sampleRate),
		encoding:   enc,
	}

	// Sizes are patched in Close.
	if err := writeHeader(file, writer.sampleRate, 1, enc, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	return writer, nil
}

// WriteSamples appends samples to the data chunk.
func (w *Writer) WriteSamples(samples []float32) error {
	if w.file == nil {
		return fmt.Errorf("WAV writer is closed")
	}
	if err := writeSamples(w.file, samples, w.encoding); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	w.samplesWritten += uint32(len(samples))
	return nil
}

// WriteSineWave writes a sine wave of the specified frequency and duration at
// half amplitude.
func (w *Writer) WriteSineWave(frequency float64, durationMs int) error {
	n := int(w.sampleRate) * durationMs / 1000
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / float64(w.sampleRate)
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*frequency*t))
	}
	return w.WriteSamples(samples)
}

// Close finalizes the WAV file by updating the header with correct sizes
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}

	dataSize := w.samplesWritten * uint32(w.encoding.BytesPerSample())
	chunkSize := dataSize + 36

	if _, err := w.file.Seek(4, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to chunk size: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, chunkSize); err != nil {
		return fmt.Errorf("failed to write chunk size: %w", err)
	}

	if _, err := w.file.Seek(40, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to data size: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, dataSize); err != nil {
		return fmt.Errorf("failed to write data size: %w", err)
	}

	err := w.file.Close()
	w.file = nil
	return err
}

// writeHeader writes the canonical 44-byte RIFF/WAVE header.
func writeHeader(w io.Writer, sampleRate uint32, numChannels uint16, enc Encoding, dataSize uint32) error {
	bitsPerSample := uint16(enc.BytesPerSample() * 8)
	blockAlign := numChannels * bitsPerSample / 8
	byteRate := sampleRate * uint32(blockAlign)

	var h [headerSize]byte
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], dataSize+36)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], enc.formatTag())
	binary.LittleEndian.PutUint16(h[22:24], numChannels)
	binary.LittleEndian.PutUint32(h[24:28], sampleRate)
	binary.LittleEndian.PutUint32(h[28:32], byteRate)
	binary.LittleEndian.PutUint16(h[32:34], blockAlign)
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)

	_, err := w.Write(h[:])
	return err
}

func writeSamples(w io.Writer, samples []float32, enc Encoding) error {
	if enc == Float32 {
		_, err := w.Write(audio.Float32Bytes(samples))
		return err
	}
	pcm := audio.Float32ToPCM16(samples)
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	_, err := w.Write(buf)
	return err
}

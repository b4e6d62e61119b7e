// Package wav reads and writes RIFF/WAVE containers for mono speech segments.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/chriscow/rtvad/pkg/audio"
)

// Header represents a WAV file header
type Header struct {
	ChunkSize     uint32
	AudioFormat   uint16
	SampleRate    uint32
	NumChannels   uint16
	BitsPerSample uint16
	DataSize      uint32
}

// Encoding reports the sample encoding described by the header.
func (h Header) Encoding() Encoding {
	if h.AudioFormat == formatIEEEFloat {
		return Float32
	}
	return PCM16
}

// Reader reads WAV data and converts it to mono float samples.
type Reader struct {
	r      io.ReadSeeker
	closer io.Closer
	header Header
}

// NewReader opens a WAV file for reading.
func NewReader(filename string) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	reader, err := newReader(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	reader.closer = file
	return reader, nil
}

// Decode parses an in-memory WAV container and returns its header and samples.
func Decode(data []byte) (Header, []float32, error) {
	reader, err := newReader(bytes.NewReader(data))
	if err != nil {
		return Header{}, nil, err
	}
	samples, err := reader.ReadSamples()
	if err != nil {
		return Header{}, nil, err
	}
	return reader.header, samples, nil
}

func newReader(r io.ReadSeeker) (*Reader, error) {
	reader := &Reader{r: r}
	if err := reader.readHeader(); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	return reader, nil
}

// Header returns the WAV file header information
func (r *Reader) Header() Header {
	return r.header
}

// ReadSamples reads the remaining data chunk. Stereo input is downmixed to
// mono by averaging the channels.
func (r *Reader) ReadSamples() ([]float32, error) {
	data := make([]byte, r.header.DataSize)
	n, err := io.ReadFull(r.r, data)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}
	data = data[:n]

	var interleaved []float32
	switch r.header.Encoding() {
	case Float32:
		interleaved, err = audio.Float32FromBytes(data[:len(data)-len(data)%4])
		if err != nil {
			return nil, err
		}
	default:
		pcm := make([]int16, len(data)/2)
		for i := range pcm {
			pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
		}
		interleaved = audio.PCM16ToFloat32(pcm)
	}

	channels := int(r.header.NumChannels)
	if channels == 1 {
		return interleaved, nil
	}
	mono := make([]float32, len(interleaved)/channels)
	for i := range mono {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += interleaved[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono, nil
}

// Close closes the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer != nil {
		err := r.closer.Close()
		r.closer = nil
		return err
	}
	return nil
}

// readHeader reads and validates the WAV file header
func (r *Reader) readHeader() error {
	var riffHeader [12]byte
	if _, err := io.ReadFull(r.r, riffHeader[:]); err != nil {
		return fmt.Errorf("failed to read RIFF header: %w", err)
	}

	if string(riffHeader[0:4]) != "RIFF" {
		return fmt.Errorf("not a valid RIFF file")
	}
	if string(riffHeader[8:12]) != "WAVE" {
		return fmt.Errorf("not a valid WAVE file")
	}

	r.header.ChunkSize = binary.LittleEndian.Uint32(riffHeader[4:8])

	if err := r.readFmtChunk(); err != nil {
		return err
	}
	if err := r.readDataChunk(); err != nil {
		return err
	}

	switch {
	case r.header.AudioFormat == formatPCM && r.header.BitsPerSample == 16:
	case r.header.AudioFormat == formatIEEEFloat && r.header.BitsPerSample == 32:
	default:
		return fmt.Errorf("unsupported sample format %d with %d-bit samples (supported: 16-bit PCM, 32-bit float)",
			r.header.AudioFormat, r.header.BitsPerSample)
	}

	if r.header.NumChannels == 0 {
		return fmt.Errorf("WAV header declares zero channels")
	}

	return nil
}

// readFmtChunk reads the format chunk
func (r *Reader) readFmtChunk() error {
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r.r, chunkHeader[:]); err != nil {
			return fmt.Errorf("failed to read chunk header: %w", err)
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		if chunkID == "fmt " {
			if chunkSize < 16 {
				return fmt.Errorf("fmt chunk too small: %d bytes", chunkSize)
			}

			var fmtData [16]byte
			if _, err := io.ReadFull(r.r, fmtData[:]); err != nil {
				return fmt.Errorf("failed to read fmt data: %w", err)
			}

			r.header.AudioFormat = binary.LittleEndian.Uint16(fmtData[0:2])
			r.header.NumChannels = binary.LittleEndian.Uint16(fmtData[2:4])
			r.header.SampleRate = binary.LittleEndian.Uint32(fmtData[4:8])
			r.header.BitsPerSample = binary.LittleEndian.Uint16(fmtData[14:16])

			if chunkSize > 16 {
				if _, err := r.r.Seek(int64(chunkSize-16), io.SeekCurrent); err != nil {
					return fmt.Errorf("failed to skip fmt data: %w", err)
				}
			}

			return nil
		}

		if _, err := r.r.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
			return fmt.Errorf("failed to skip chunk: %w", err)
		}
	}
}

// readDataChunk positions the reader at the start of the audio data.
func (r *Reader) readDataChunk() error {
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r.r, chunkHeader[:]); err != nil {
			return fmt.Errorf("failed to read chunk header: %w", err)
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		if chunkID == "data" {
			r.header.DataSize = chunkSize
			return nil
		}

		if _, err := r.r.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
			return fmt.Errorf("failed to skip chunk: %w", err)
		}
	}
}

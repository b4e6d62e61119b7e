package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chriscow/rtvad/internal/config"
	"github.com/chriscow/rtvad/pkg/audio"
	"github.com/chriscow/rtvad/pkg/audio/wav"
	"github.com/chriscow/rtvad/pkg/plugin"
	"github.com/chriscow/rtvad/pkg/vad"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect speech segments in an audio file",
	Long: `Run the detector over a WAV file or a raw little-endian float32 file and
write every speech segment to <out>/segment-NNN.wav.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")
		out, _ := cmd.Flags().GetString("out")
		rate, _ := cmd.Flags().GetInt("rate")

		logger.Info("Starting detection",
			slog.String("file", file),
			slog.String("source", cfg.Source.Name),
			slog.String("out", out))

		paths, err := runDetect(cfg, file, out, rate, logger)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		fmt.Printf("%d segments written to %s\n", len(paths), out)
		return nil
	},
}

// runDetect streams the file through an engine in 10 ms chunks and returns
// the paths of the segment files it wrote.
func runDetect(cfg *config.Config, file, outDir string, rawRate int, logger *slog.Logger) ([]string, error) {
	ecfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	if rawRate == 0 {
		rawRate = int(ecfg.SampleRate)
	}

	samples, rate, err := readAudio(file, rawRate)
	if err != nil {
		return nil, err
	}
	if ecfg.SampleRate, err = vad.ParseSampleRate(fmt.Sprint(rate)); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	src, err := plugin.NewSource(cfg.Source.Name, cfg.Source.Options)
	if err != nil {
		return nil, err
	}

	var (
		paths    []string
		writeErr error
	)
	engine, err := vad.New(ecfg, src,
		vad.WithLogger(logger),
		vad.WithObserver(vad.ObserverFuncs{
			Start: func(e vad.StartEvent) {
				logger.Info("Voice start", slog.Int64("frame", e.Frame), slog.Duration("offset", e.Offset))
			},
			End: func(e vad.EndEvent) {
				path := filepath.Join(outDir, fmt.Sprintf("segment-%03d.wav", len(paths)+1))
				if err := os.WriteFile(path, e.WAV, 0o644); err != nil {
					writeErr = fmt.Errorf("failed to write segment: %w", err)
					return
				}
				paths = append(paths, path)
				logger.Info("Voice end",
					slog.String("path", path),
					slog.Int("frames", e.Waveform.Frames),
					slog.Duration("duration", e.Waveform.Duration()))
			},
		}),
	)
	if err != nil {
		if c, ok := src.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	defer engine.Close()

	chunk := rate / 100
	for off := 0; off < len(samples); off += chunk {
		end := min(off+chunk, len(samples))
		if err := engine.Push(samples[off:end]); err != nil {
			if !vad.IsRecoverable(err) {
				return paths, err
			}
			logger.Warn("Frames skipped", slog.String("error", err.Error()))
		}
		if writeErr != nil {
			return paths, writeErr
		}
	}

	if engine.State() == vad.Speaking {
		logger.Warn("Input ended during speech; trailing segment discarded")
	}
	return paths, nil
}

// readAudio loads a WAV file, or raw little-endian float32 samples at
// rawRate for any other extension.
func readAudio(path string, rawRate int) ([]float32, int, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		r, err := wav.NewReader(path)
		if err != nil {
			return nil, 0, err
		}
		defer r.Close()

		samples, err := r.ReadSamples()
		if err != nil {
			return nil, 0, err
		}
		return samples, int(r.Header().SampleRate), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	samples, err := audio.Float32FromBytes(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	return samples, rawRate, nil
}

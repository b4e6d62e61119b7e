package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chriscow/rtvad/internal/stream"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream an audio file to a running server",
	Long: `Connect to an rtvad server, stream a file through it and write every
returned segment to <out>/segment-NNN.wav.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		url, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		out, _ := cmd.Flags().GetString("out")
		rate, _ := cmd.Flags().GetInt("rate")
		realtime, _ := cmd.Flags().GetBool("realtime")
		retries, _ := cmd.Flags().GetInt("retries")

		if rate == 0 {
			rate = cfg.Engine.SampleRate
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		paths, err := runStream(ctx, streamParams{
			URL:      url,
			File:     file,
			OutDir:   out,
			RawRate:  rate,
			Realtime: realtime,
			Retries:  retries,
		}, logger)
		if err != nil {
			return err
		}
		fmt.Printf("%d segments written to %s\n", len(paths), out)
		return nil
	},
}

type streamParams struct {
	URL      string
	File     string
	OutDir   string
	RawRate  int
	Realtime bool
	Retries  int
}

// runStream sends the file in 20 ms chunks, then releases the stream and
// collects segments until the server closes the connection.
func runStream(ctx context.Context, p streamParams, logger *slog.Logger) ([]string, error) {
	samples, rate, err := readAudio(p.File, p.RawRate)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	c, err := stream.DialRetry(ctx, p.URL, max(p.Retries, 1), logger)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	ready, err := c.ReadMessage()
	if err != nil {
		return nil, err
	}
	if ready.Type == stream.TypeError {
		return nil, fmt.Errorf("server: %s", ready.Text("message"))
	}
	if got, _ := ready.Int("sample_rate"); int(got) != rate {
		if err := c.Configure(stream.ConfigureRequest{SampleRate: rate}); err != nil {
			return nil, err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	var paths []string

	g.Go(func() error {
		for {
			msg, err := c.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			switch msg.Type {
			case stream.TypeVoiceEnd:
				data, err := msg.Bytes("wav")
				if err != nil {
					return err
				}
				path := filepath.Join(p.OutDir, fmt.Sprintf("segment-%03d.wav", len(paths)+1))
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return fmt.Errorf("failed to write segment: %w", err)
				}
				paths = append(paths, path)
				logger.Info("Segment received", slog.String("path", path))
			case stream.TypeError:
				if rec, _ := msg.Data["recoverable"].(bool); !rec {
					return fmt.Errorf("server: %s", msg.Text("message"))
				}
				logger.Warn("Server reported skipped frames", slog.String("error", msg.Text("message")))
			case stream.TypeReleased:
				return nil
			}
		}
	})

	g.Go(func() error {
		chunk := rate / 50
		interval := 20 * time.Millisecond
		for off := 0; off < len(samples); off += chunk {
			end := min(off+chunk, len(samples))
			if err := c.SendAudio(samples[off:end]); err != nil {
				return err
			}
			if !p.Realtime {
				continue
			}
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return nil
			}
		}
		return c.Release()
	})

	if err := g.Wait(); err != nil {
		return paths, err
	}
	return paths, nil
}

package silero

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/chriscow/rtvad/pkg/vad"
)

// Downloader fetches Silero models over HTTP.
type Downloader struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client
	// URLs defaults to ModelURLs.
	URLs map[vad.ModelVersion]string
	// Versions to fetch. Defaults to V4 and V5.
	Versions []vad.ModelVersion
}

// Download fetches every configured version into dir, skipping models that
// already exist. An empty dir means DefaultModelDir.
func (d *Downloader) Download(ctx context.Context, dir string) error {
	versions := d.Versions
	if len(versions) == 0 {
		versions = []vad.ModelVersion{vad.ModelV4, vad.ModelV5}
	}
	for _, v := range versions {
		if _, err := d.DownloadVersion(ctx, v, dir); err != nil {
			return err
		}
	}
	return nil
}

// DownloadVersion fetches one model and returns its path.
func (d *Downloader) DownloadVersion(ctx context.Context, version vad.ModelVersion, dir string) (string, error) {
	if dir == "" {
		dir = DefaultModelDir()
	}
	modelPath := filepath.Join(dir, ModelFileName(version))

	if _, err := os.Stat(modelPath); err == nil {
		slog.Info("Silero VAD model already exists", slog.String("model_path", modelPath))
		return modelPath, nil
	}

	urls := d.URLs
	if urls == nil {
		urls = ModelURLs
	}
	url, ok := urls[version]
	if !ok {
		return "", fmt.Errorf("no download URL for model %s", version)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	slog.Info("Downloading Silero VAD model",
		slog.String("version", version.String()),
		slog.String("url", url),
		slog.String("model_path", modelPath))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download from %s: HTTP %d", url, resp.StatusCode)
	}

	if err := writeAtomic(modelPath, resp.Body); err != nil {
		return "", err
	}

	slog.Info("Silero VAD model downloaded", slog.String("model_path", modelPath))
	return modelPath, nil
}

// Stage copies a model from src into dir under a unique file name and returns
// the path. Use it to materialize a model bundled with an application (for
// example through embed.FS) to a location ONNX Runtime can open.
func Stage(src io.Reader, version vad.ModelVersion, dir string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+"-"+ModelFileName(version))
	if err := writeAtomic(path, src); err != nil {
		return "", err
	}
	return path, nil
}

// writeAtomic writes r to path through a temporary file so a failed copy
// never leaves a truncated model behind.
func writeAtomic(path string, r io.Reader) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create file in %s: %w", filepath.Dir(path), err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if n == 0 {
		return errors.New("model is empty")
	}
	return os.Rename(tmp.Name(), path)
}

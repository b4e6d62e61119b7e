package silero

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/rtvad/pkg/vad"
)

func TestModelFileName(t *testing.T) {
	is := is.New(t)
	is.Equal(ModelFileName(vad.ModelV4), "silero_vad.onnx")
	is.Equal(ModelFileName(vad.ModelV5), "silero_vad_v5.onnx")
}

func TestResolveModelPath(t *testing.T) {
	is := is.New(t)

	t.Setenv(ModelPathEnv, "/opt/models")
	is.Equal(ResolveModelPath(vad.ModelV5, ""), filepath.Join("/opt/models", ModelFileV5))
	is.Equal(ResolveModelPath(vad.ModelV4, "/x/y.onnx"), "/x/y.onnx")
}

func TestDownloaderFetchesEachVersionOnce(t *testing.T) {
	is := is.New(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("onnx:" + r.URL.Path))
	}))
	defer srv.Close()

	d := &Downloader{
		Client: srv.Client(),
		URLs: map[vad.ModelVersion]string{
			vad.ModelV4: srv.URL + "/v4",
			vad.ModelV5: srv.URL + "/v5",
		},
	}
	dir := t.TempDir()

	is.NoErr(d.Download(context.Background(), dir))
	is.Equal(hits.Load(), int32(2))

	data, err := os.ReadFile(filepath.Join(dir, ModelFileV5))
	is.NoErr(err)
	is.Equal(string(data), "onnx:/v5")

	// Existing models are not fetched again.
	is.NoErr(d.Download(context.Background(), dir))
	is.Equal(hits.Load(), int32(2))
}

func TestDownloaderHTTPError(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	d := &Downloader{
		Client:   srv.Client(),
		URLs:     map[vad.ModelVersion]string{vad.ModelV5: srv.URL},
		Versions: []vad.ModelVersion{vad.ModelV5},
	}
	dir := t.TempDir()

	err := d.Download(context.Background(), dir)
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "HTTP 404"))

	entries, err := os.ReadDir(dir)
	is.NoErr(err)
	is.Equal(len(entries), 0) // nothing left behind
}

func TestStage(t *testing.T) {
	is := is.New(t)

	dir := t.TempDir()
	a, err := Stage(bytes.NewReader([]byte("model")), vad.ModelV5, dir)
	is.NoErr(err)
	b, err := Stage(bytes.NewReader([]byte("model")), vad.ModelV5, dir)
	is.NoErr(err)

	is.True(a != b)
	is.True(strings.HasSuffix(a, "-"+ModelFileV5))
	data, err := os.ReadFile(a)
	is.NoErr(err)
	is.Equal(string(data), "model")

	_, err = Stage(bytes.NewReader(nil), vad.ModelV4, dir)
	is.True(err != nil)
}

func TestOptionsFromConfig(t *testing.T) {
	is := is.New(t)

	opts, err := optionsFromConfig(map[string]any{"version": "v4", "threads": 2, "model_path": "/m.onnx"})
	is.NoErr(err)
	is.Equal(opts, Options{ModelPath: "/m.onnx", Version: vad.ModelV4, Threads: 2})

	_, err = optionsFromConfig(map[string]any{"version": "v9"})
	is.True(err != nil)
}

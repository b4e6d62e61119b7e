package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/sethvargo/go-envconfig"

	"github.com/chriscow/rtvad/pkg/audio/wav"
	"github.com/chriscow/rtvad/pkg/vad"
)

func TestDefaultIsValid(t *testing.T) {
	is := is.New(t)

	cfg := Default()
	is.NoErr(cfg.Validate())

	ec, err := cfg.EngineConfig()
	is.NoErr(err)
	is.Equal(ec, vad.DefaultConfig())
}

func TestLoadFromReader(t *testing.T) {
	is := is.New(t)

	yml := `
log:
  level: debug
  format: json
engine:
  sample_rate: 48000
  model: v4
  encoding: float32
  continue_events: false
  thresholds:
    vad_start_prob: 0.6
    vad_end_prob: 0.4
    start_true_ratio: 0.7
    end_false_ratio: 0.9
    start_frame_count: 8
    end_frame_count: 30
source:
  name: energy
  options:
    floor_db: -55
server:
  addr: ":7000"
  write_timeout: 2s
`
	cfg, err := LoadFromReader(strings.NewReader(yml))
	is.NoErr(err)

	is.Equal(cfg.Log.Level, "debug")
	is.Equal(cfg.Source.Name, "energy")
	is.Equal(cfg.Source.Options["floor_db"], -55)
	is.Equal(cfg.Server.Addr, ":7000")
	is.Equal(cfg.Server.WriteTimeout, 2*time.Second)
	is.Equal(cfg.Server.PingInterval, 30*time.Second) // default kept

	ec, err := cfg.EngineConfig()
	is.NoErr(err)
	is.Equal(ec.SampleRate, vad.SampleRate48k)
	is.Equal(ec.ModelVersion, vad.ModelV4)
	is.Equal(ec.Encoding, wav.Float32)
	is.Equal(ec.ContinueEvents, false)
	is.Equal(ec.Thresholds.EndFrameCount, 30)
	is.Equal(ec.FrameSize(), 3072)
}

func TestLoadFromReaderEmpty(t *testing.T) {
	is := is.New(t)

	cfg, err := LoadFromReader(strings.NewReader(""))
	is.NoErr(err)
	is.Equal(cfg, Default())
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	is := is.New(t)

	_, err := LoadFromReader(strings.NewReader("engine:\n  sample_rte: 16000\n"))
	is.True(err != nil)
}

func TestValidateJoinsErrors(t *testing.T) {
	is := is.New(t)

	cfg := Default()
	cfg.Engine.SampleRate = 44100
	cfg.Log.Format = "xml"
	cfg.Engine.Thresholds.StartFrameCount = 0

	err := cfg.Validate()
	is.True(err != nil)
	msg := err.Error()
	is.True(strings.Contains(msg, "engine.sample_rate"))
	is.True(strings.Contains(msg, "log.format"))
	is.True(strings.Contains(msg, "engine.thresholds.start_frame_count"))
}

func TestValidateThresholdOrder(t *testing.T) {
	is := is.New(t)

	cfg := Default()
	cfg.Engine.Thresholds.VADStartProb = 0.2
	cfg.Engine.Thresholds.VADEndProb = 0.5
	err := cfg.Validate()
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "engine.thresholds.vad_start_prob"))
}

func TestApplyEnv(t *testing.T) {
	is := is.New(t)

	cfg := Default()
	cfg.Engine.Model = "v4" // as if set by the YAML file

	lookuper := envconfig.MapLookuper(map[string]string{
		"RTVAD_ENGINE_SAMPLE_RATE":     "8000",
		"RTVAD_ENGINE_CONTINUE_EVENTS": "false",
		"RTVAD_SOURCE_NAME":            "fake",
		"RTVAD_SERVER_PING_INTERVAL":   "5s",
		"ENGINE_MODEL":                 "v5", // missing prefix, ignored
	})
	is.NoErr(ApplyEnv(context.Background(), cfg, lookuper))

	is.Equal(cfg.Engine.SampleRate, 8000)
	is.Equal(cfg.Engine.ContinueEvents, false)
	is.Equal(cfg.Engine.Model, "v4")
	is.Equal(cfg.Source.Name, "fake")
	is.Equal(cfg.Server.PingInterval, 5*time.Second)
	is.Equal(cfg.Server.Addr, ":8080")
}

func TestLoadFile(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "rtvad.yaml")
	is.NoErr(os.WriteFile(path, []byte("source:\n  name: fake\n"), 0o644))

	t.Setenv("RTVAD_LOG_LEVEL", "warn")
	cfg, err := Load(path)
	is.NoErr(err)
	is.Equal(cfg.Source.Name, "fake")
	is.Equal(cfg.Log.Level, "warn")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	is.True(err != nil)
}

func TestNewLogger(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	cfg := Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "frame", 3)
	is.True(!strings.Contains(buf.String(), "hidden"))
	is.True(strings.Contains(buf.String(), `"msg":"shown"`))
}

func TestYAMLPath(t *testing.T) {
	is := is.New(t)
	is.Equal(yamlPath("Config.Engine.Thresholds.VADStartProb"), "engine.thresholds.vad_start_prob")
	is.Equal(yamlPath("Config.Server.MaxMessageBytes"), "server.max_message_bytes")
}

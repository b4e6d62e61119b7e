// Package config loads rtvad configuration from a YAML file with
// environment variable overrides (RTVAD_ prefix) and validates it.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/chriscow/rtvad/pkg/audio/wav"
	"github.com/chriscow/rtvad/pkg/vad"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "RTVAD_"

// Config is the complete application configuration.
type Config struct {
	Log    LogConfig    `yaml:"log" env:", prefix=LOG_"`
	Engine EngineConfig `yaml:"engine" env:", prefix=ENGINE_"`
	Source SourceConfig `yaml:"source" env:", prefix=SOURCE_"`
	Server ServerConfig `yaml:"server" env:", prefix=SERVER_"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL, overwrite" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"FORMAT, overwrite" validate:"oneof=json text"`
}

// EngineConfig is the user-facing form of vad.Config.
type EngineConfig struct {
	SampleRate     int            `yaml:"sample_rate" env:"SAMPLE_RATE, overwrite" validate:"oneof=8000 16000 24000 48000"`
	Model          string         `yaml:"model" env:"MODEL, overwrite" validate:"oneof=v4 v5"`
	ModelPath      string         `yaml:"model_path" env:"MODEL_PATH, overwrite"`
	Thresholds     vad.Thresholds `yaml:"thresholds"`
	ContinueEvents bool           `yaml:"continue_events" env:"CONTINUE_EVENTS, overwrite"`
	PartialWindow  bool           `yaml:"partial_window" env:"PARTIAL_WINDOW, overwrite"`
	Encoding       string         `yaml:"encoding" env:"ENCODING, overwrite" validate:"oneof=pcm16 float32"`
}

// SourceConfig selects a registered probability source.
type SourceConfig struct {
	Name    string         `yaml:"name" env:"NAME, overwrite" validate:"required"`
	Options map[string]any `yaml:"options"`
}

// ServerConfig configures the streaming server.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR, overwrite" validate:"required"`
	MetricsAddr     string        `yaml:"metrics_addr" env:"METRICS_ADDR, overwrite"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" env:"MAX_MESSAGE_BYTES, overwrite" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT, overwrite" validate:"gt=0"`
	PingInterval    time.Duration `yaml:"ping_interval" env:"PING_INTERVAL, overwrite" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	d := vad.DefaultConfig()
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Engine: EngineConfig{
			SampleRate:     int(d.SampleRate),
			Model:          d.ModelVersion.String(),
			Thresholds:     d.Thresholds,
			ContinueEvents: d.ContinueEvents,
			PartialWindow:  d.PartialWindow,
			Encoding:       d.Encoding.String(),
		},
		Source: SourceConfig{Name: "silero"},
		Server: ServerConfig{
			Addr:            ":8080",
			MetricsAddr:     ":9090",
			MaxMessageBytes: 1 << 20,
			WriteTimeout:    10 * time.Second,
			PingInterval:    30 * time.Second,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// RTVAD_ environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := ApplyEnv(context.Background(), cfg, envconfig.OsLookuper()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates the
// result. Environment variables are not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with RTVAD_-prefixed variables from l.
func ApplyEnv(ctx context.Context, cfg *Config, l envconfig.Lookuper) error {
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, l),
	}); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field and returns all failures joined together.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("config: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, fmt.Errorf("config: %s: invalid value %v (%s)", yamlPath(fe.Namespace()), fe.Value(), fe.Tag()))
		}
	}
	if _, err := c.EngineConfig(); err != nil && len(errs) == 0 {
		errs = append(errs, fmt.Errorf("config: engine: %w", err))
	}
	return errors.Join(errs...)
}

// EngineConfig converts the engine section to a vad.Config.
func (c *Config) EngineConfig() (vad.Config, error) {
	rate, err := vad.ParseSampleRate(strconv.Itoa(c.Engine.SampleRate))
	if err != nil {
		return vad.Config{}, err
	}
	version, err := vad.ParseModelVersion(c.Engine.Model)
	if err != nil {
		return vad.Config{}, err
	}
	enc, err := wav.ParseEncoding(c.Engine.Encoding)
	if err != nil {
		return vad.Config{}, err
	}

	cfg := vad.Config{
		SampleRate:     rate,
		ModelVersion:   version,
		ModelPath:      c.Engine.ModelPath,
		Thresholds:     c.Engine.Thresholds,
		ContinueEvents: c.Engine.ContinueEvents,
		PartialWindow:  c.Engine.PartialWindow,
		Encoding:       enc,
	}
	if err := cfg.Validate(); err != nil {
		return vad.Config{}, err
	}
	return cfg, nil
}

// NewLogger creates a structured logger writing to w. When Format is
// "json" it emits JSON lines, otherwise human-readable text.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.Log.Level)}
	if strings.ToLower(c.Log.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// yamlPath turns "Config.Engine.SampleRate" into "engine.sample_rate".
func yamlPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prev := rune(s[i-1])
			nextLower := i+1 < len(s) && s[i+1] >= 'a' && s[i+1] <= 'z'
			if (prev >= 'a' && prev <= 'z') || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

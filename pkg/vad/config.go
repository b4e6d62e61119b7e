package vad

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/chriscow/rtvad/pkg/audio/wav"
)

// SampleRate is one of the input sample rates the engine accepts.
type SampleRate int

const (
	SampleRate8k  SampleRate = 8000
	SampleRate16k SampleRate = 16000
	SampleRate24k SampleRate = 24000
	SampleRate48k SampleRate = 48000
)

// SampleRates lists every supported input rate.
var SampleRates = []SampleRate{SampleRate8k, SampleRate16k, SampleRate24k, SampleRate48k}

// ParseSampleRate accepts "16000", "16k" or "16khz" style values.
func ParseSampleRate(s string) (SampleRate, error) {
	switch s {
	case "8k", "8khz":
		return SampleRate8k, nil
	case "16k", "16khz":
		return SampleRate16k, nil
	case "24k", "24khz":
		return SampleRate24k, nil
	case "48k", "48khz":
		return SampleRate48k, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid sample rate %q", s)
	}
	r := SampleRate(n)
	if !r.Valid() {
		return 0, fmt.Errorf("unsupported sample rate %d (supported: 8000|16000|24000|48000)", n)
	}
	return r, nil
}

// Valid reports whether r is a supported rate.
func (r SampleRate) Valid() bool {
	switch r {
	case SampleRate8k, SampleRate16k, SampleRate24k, SampleRate48k:
		return true
	}
	return false
}

// ModelRate is the rate the probability model runs at for input rate r.
// Silero models accept 8 kHz and 16 kHz; higher rates are resampled to 16 kHz.
func (r SampleRate) ModelRate() int {
	if r == SampleRate8k {
		return 8000
	}
	return 16000
}

// ModelVersion selects the Silero model generation.
type ModelVersion int

const (
	ModelV4 ModelVersion = iota
	ModelV5
)

func (v ModelVersion) String() string {
	switch v {
	case ModelV4:
		return "v4"
	case ModelV5:
		return "v5"
	default:
		return fmt.Sprintf("ModelVersion(%d)", int(v))
	}
}

// ParseModelVersion parses "v4" or "v5".
func ParseModelVersion(s string) (ModelVersion, error) {
	switch s {
	case "v4", "V4", "4":
		return ModelV4, nil
	case "v5", "V5", "5", "":
		return ModelV5, nil
	default:
		return 0, fmt.Errorf("unknown model version %q (supported: v4|v5)", s)
	}
}

// Window returns the analysis window length of the model version.
func (v ModelVersion) Window() time.Duration {
	if v == ModelV4 {
		return 64 * time.Millisecond
	}
	return 32 * time.Millisecond
}

// FrameSize returns the number of input samples per frame for rate and version.
func FrameSize(rate SampleRate, version ModelVersion) int {
	return int(rate) * int(version.Window()/time.Millisecond) / 1000
}

// Thresholds is the six-parameter hysteresis tuple. Frame counts are window
// sizes in frames, not milliseconds.
type Thresholds struct {
	VADStartProb    float64 `json:"vad_start_prob" yaml:"vad_start_prob" validate:"gte=0,lte=1,gtefield=VADEndProb"`
	VADEndProb      float64 `json:"vad_end_prob" yaml:"vad_end_prob" validate:"gte=0,lte=1"`
	StartTrueRatio  float64 `json:"start_true_ratio" yaml:"start_true_ratio" validate:"gte=0,lte=1"`
	EndFalseRatio   float64 `json:"end_false_ratio" yaml:"end_false_ratio" validate:"gte=0,lte=1"`
	StartFrameCount int     `json:"start_frame_count" yaml:"start_frame_count" validate:"gt=0"`
	EndFrameCount   int     `json:"end_frame_count" yaml:"end_frame_count" validate:"gt=0"`
}

// DefaultThresholds returns the tuning the reference library ships with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VADStartProb:    0.7,
		VADEndProb:      0.7,
		StartTrueRatio:  0.8,
		EndFalseRatio:   0.95,
		StartFrameCount: 10,
		EndFrameCount:   57,
	}
}

// WindowSize is the decision window capacity: the larger frame count.
func (t Thresholds) WindowSize() int {
	return max(t.StartFrameCount, t.EndFrameCount)
}

// Config is the complete engine configuration. It is immutable while a
// stream is active; see Engine.Apply.
type Config struct {
	SampleRate   SampleRate   `validate:"oneof=8000 16000 24000 48000"`
	ModelVersion ModelVersion `validate:"oneof=0 1"`
	ModelPath    string
	Thresholds   Thresholds

	// ContinueEvents enables OnVoiceContinue delivery for every frame
	// accumulated while speaking.
	ContinueEvents bool

	// PartialWindow evaluates start and end ratios over the frames observed
	// since the last reset when fewer than the configured count are available.
	// When false a ratio is only evaluated once its window is full.
	PartialWindow bool

	// Encoding is the sample format of the WAV container attached to EndEvent.
	Encoding wav.Encoding `validate:"oneof=0 1"`
}

// DefaultConfig returns a 16 kHz, Silero V5 configuration with the default
// thresholds and continue events enabled.
func DefaultConfig() Config {
	return Config{
		SampleRate:     SampleRate16k,
		ModelVersion:   ModelV5,
		Thresholds:     DefaultThresholds(),
		ContinueEvents: true,
		Encoding:       wav.PCM16,
	}
}

// FrameSize returns the frame length in samples for this configuration.
func (c Config) FrameSize() int {
	return FrameSize(c.SampleRate, c.ModelVersion)
}

// FrameDuration returns the wall-clock length of one frame.
func (c Config) FrameDuration() time.Duration {
	return c.ModelVersion.Window()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field and returns all failures joined together,
// each wrapping ErrInvalidConfig.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, describeFieldError(fe)))
	}
	return errors.Join(errs...)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gtefield":
		return fmt.Sprintf("%s (%v) must be >= %s", fe.Namespace(), fe.Value(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s %v is not one of [%s]", fe.Namespace(), fe.Value(), fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s %v is out of range [0, 1]", fe.Namespace(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s %v must be greater than %s", fe.Namespace(), fe.Value(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
	}
}

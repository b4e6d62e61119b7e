// Package stream serves the VAD engine over websockets. Each connection owns
// one engine. Binary messages carry little-endian float32 audio at the
// configured rate; text messages carry JSON control messages, and engine
// events are returned as JSON.
package stream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/chriscow/rtvad/pkg/audio/wav"
	"github.com/chriscow/rtvad/pkg/vad"
)

// Message types. Requests flow client to server, everything else server to
// client.
const (
	TypePing      = "ping"
	TypePong      = "pong"
	TypeConfigure = "configure"
	TypeRelease   = "release"

	TypeReady         = "ready"
	TypeConfigured    = "configured"
	TypeReleased      = "released"
	TypeVoiceStart    = "voice_start"
	TypeVoiceContinue = "voice_continue"
	TypeVoiceEnd      = "voice_end"
	TypeError         = "error"
)

// Message is a JSON text message in either direction.
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Int returns the numeric field key. JSON numbers decode as float64.
func (m *Message) Int(key string) (int64, bool) {
	switch v := m.Data[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

// Text returns the string field key.
func (m *Message) Text(key string) string {
	s, _ := m.Data[key].(string)
	return s
}

// Bytes decodes the base64 field key.
func (m *Message) Bytes(key string) ([]byte, error) {
	s, ok := m.Data[key].(string)
	if !ok {
		return nil, fmt.Errorf("message %s: field %q is missing", m.Type, key)
	}
	return base64.StdEncoding.DecodeString(s)
}

// ConfigureRequest is the payload of a configure message. Zero or nil fields
// keep the current value.
type ConfigureRequest struct {
	SampleRate     int             `json:"sample_rate,omitempty"`
	Model          string          `json:"model,omitempty"`
	ModelPath      *string         `json:"model_path,omitempty"`
	Thresholds     *vad.Thresholds `json:"thresholds,omitempty"`
	ContinueEvents *bool           `json:"continue_events,omitempty"`
	PartialWindow  *bool           `json:"partial_window,omitempty"`
	Encoding       string          `json:"encoding,omitempty"`
}

// merge overlays r on base.
func (r ConfigureRequest) merge(base vad.Config) (vad.Config, error) {
	cfg := base
	if r.SampleRate != 0 {
		rate, err := vad.ParseSampleRate(strconv.Itoa(r.SampleRate))
		if err != nil {
			return base, err
		}
		cfg.SampleRate = rate
	}
	if r.Model != "" {
		v, err := vad.ParseModelVersion(r.Model)
		if err != nil {
			return base, err
		}
		cfg.ModelVersion = v
	}
	if r.ModelPath != nil {
		cfg.ModelPath = *r.ModelPath
	}
	if r.Thresholds != nil {
		cfg.Thresholds = *r.Thresholds
	}
	if r.ContinueEvents != nil {
		cfg.ContinueEvents = *r.ContinueEvents
	}
	if r.PartialWindow != nil {
		cfg.PartialWindow = *r.PartialWindow
	}
	if r.Encoding != "" {
		enc, err := wav.ParseEncoding(r.Encoding)
		if err != nil {
			return base, err
		}
		cfg.Encoding = enc
	}
	return cfg, nil
}

// toData converts v to a JSON object map.
func toData(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// fromData decodes a JSON object map into v.
func fromData(data map[string]any, v any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func configData(cfg vad.Config) map[string]any {
	return map[string]any{
		"sample_rate":     int(cfg.SampleRate),
		"model":           cfg.ModelVersion.String(),
		"frame_size":      cfg.FrameSize(),
		"continue_events": cfg.ContinueEvents,
		"partial_window":  cfg.PartialWindow,
		"encoding":        cfg.Encoding.String(),
	}
}

func startMessage(e vad.StartEvent) Message {
	return Message{Type: TypeVoiceStart, Data: map[string]any{
		"frame":     e.Frame,
		"offset_ms": e.Offset.Milliseconds(),
	}}
}

func continueMessage(e vad.ContinueEvent) Message {
	return Message{Type: TypeVoiceContinue, Data: map[string]any{
		"frame":       e.Frame,
		"sample_rate": int(e.SampleRate),
		"pcm":         base64.StdEncoding.EncodeToString(e.PCM()),
	}}
}

func endMessage(e vad.EndEvent) Message {
	w := e.Waveform
	return Message{Type: TypeVoiceEnd, Data: map[string]any{
		"start_frame":     w.StartFrame,
		"confirmed_frame": w.ConfirmedFrame,
		"frames":          w.Frames,
		"preroll_frames":  w.PrerollFrames,
		"sample_rate":     int(w.SampleRate),
		"duration_ms":     w.Duration().Milliseconds(),
		"wav":             base64.StdEncoding.EncodeToString(e.WAV),
	}}
}

// errorMessages converts err into one error message per frame error joined
// by Push. Any other error becomes a single message.
func errorMessages(err error) []Message {
	errs := splitFrameErrors(err)

	msgs := make([]Message, 0, len(errs))
	for _, e := range errs {
		data := map[string]any{
			"message":     e.Error(),
			"kind":        errorKind(e),
			"recoverable": vad.IsRecoverable(e),
		}
		var ve *vad.Error
		if errors.As(e, &ve) && ve.Frame >= 0 {
			data["frame"] = ve.Frame
		}
		msgs = append(msgs, Message{Type: TypeError, Data: data})
	}
	return msgs
}

// splitFrameErrors flattens a join whose leaves are all *vad.Error values.
func splitFrameErrors(err error) []error {
	var leaves []error
	var walk func(error) bool
	walk = func(e error) bool {
		if ve, ok := e.(*vad.Error); ok {
			leaves = append(leaves, ve)
			return true
		}
		joined, ok := e.(interface{ Unwrap() []error })
		if !ok {
			return false
		}
		for _, c := range joined.Unwrap() {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	if walk(err) && len(leaves) > 0 {
		return leaves
	}
	return []error{err}
}

// messageError reports a client message the server could not use.
type messageError struct {
	err error
}

func badMessage(err error) error {
	return &messageError{err: err}
}

func (e *messageError) Error() string { return errBadMessage.Error() + ": " + e.err.Error() }

func (e *messageError) Unwrap() error { return e.err }

func (e *messageError) Is(target error) bool { return target == errBadMessage }

func errorKind(err error) string {
	switch {
	case errors.Is(err, vad.ErrInference):
		return "inference"
	case errors.Is(err, vad.ErrInvalidProbability):
		return "invalid_probability"
	case errors.Is(err, vad.ErrConfigurationConflict):
		return "configuration_conflict"
	case errors.Is(err, vad.ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, vad.ErrResourceUnavailable):
		return "resource_unavailable"
	case errors.Is(err, vad.ErrReleased):
		return "released"
	case errors.Is(err, errBadMessage):
		return "bad_message"
	default:
		return "internal"
	}
}

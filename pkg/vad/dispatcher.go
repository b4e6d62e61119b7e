package vad

import (
	"log/slog"
	"time"

	"github.com/chriscow/rtvad/pkg/audio"
)

// StartEvent is delivered when speech is confirmed.
type StartEvent struct {
	// Frame is the index of the confirming frame.
	Frame int64
	// Offset is the stream position of the confirming frame.
	Offset time.Duration
}

// ContinueEvent carries one frame accumulated while speaking.
type ContinueEvent struct {
	Frame      int64
	Samples    []float32
	SampleRate SampleRate
}

// PCM returns the frame as little-endian float32 bytes.
func (e ContinueEvent) PCM() []byte {
	return audio.Float32Bytes(e.Samples)
}

// EndEvent carries the finalized segment.
type EndEvent struct {
	Waveform Waveform
	// WAV is Waveform encoded as a complete WAV container.
	WAV []byte
}

// Observer receives engine events. Calls happen synchronously on the
// goroutine that called Engine.Push, in the order transitions occur.
type Observer interface {
	OnVoiceStart(StartEvent)
	OnVoiceContinue(ContinueEvent)
	OnVoiceEnd(EndEvent)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Start    func(StartEvent)
	Continue func(ContinueEvent)
	End      func(EndEvent)
}

func (o ObserverFuncs) OnVoiceStart(e StartEvent) {
	if o.Start != nil {
		o.Start(e)
	}
}

func (o ObserverFuncs) OnVoiceContinue(e ContinueEvent) {
	if o.Continue != nil {
		o.Continue(e)
	}
}

func (o ObserverFuncs) OnVoiceEnd(e EndEvent) {
	if o.End != nil {
		o.End(e)
	}
}

// dispatcher delivers events to the single registered observer and enforces
// segment framing: one start, any number of continues, one end.
type dispatcher struct {
	observer Observer
	logger   *slog.Logger
	open     bool
}

func (d *dispatcher) start(e StartEvent) {
	if d.open {
		d.logger.Error("dropping voice start inside an open segment", slog.Int64("frame", e.Frame))
		return
	}
	d.open = true
	if d.observer != nil {
		d.observer.OnVoiceStart(e)
	}
}

func (d *dispatcher) continued(e ContinueEvent) {
	if !d.open {
		d.logger.Error("dropping voice continue outside a segment", slog.Int64("frame", e.Frame))
		return
	}
	if d.observer != nil {
		d.observer.OnVoiceContinue(e)
	}
}

func (d *dispatcher) end(e EndEvent) {
	if !d.open {
		d.logger.Error("dropping voice end outside a segment", slog.Int64("frame", e.Waveform.ConfirmedFrame))
		return
	}
	d.open = false
	if d.observer != nil {
		d.observer.OnVoiceEnd(e)
	}
}

// abandon closes the open segment without an end event.
func (d *dispatcher) abandon() {
	d.open = false
}

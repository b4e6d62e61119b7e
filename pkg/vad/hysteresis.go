package vad

import (
	"fmt"
	"math"
)

// State is the engine's speech state.
type State int

const (
	// Idle: no pending audio of interest.
	Idle State = iota
	// Armed: speech frames were seen but the start ratio is not yet met.
	Armed
	// Speaking: a segment is active and accumulating.
	Speaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Transition is the outcome of observing one frame.
type Transition int

const (
	None Transition = iota
	Start
	Continue
	End
)

func (t Transition) String() string {
	switch t {
	case None:
		return "none"
	case Start:
		return "start"
	case Continue:
		return "continue"
	case End:
		return "end"
	default:
		return "unknown"
	}
}

// StateMachine turns a per-frame probability stream into debounced
// start/continue/end transitions using asymmetric thresholds and ratios over
// a sliding decision window.
type StateMachine struct {
	th      Thresholds
	partial bool
	window  *DecisionWindow
	state   State
}

// NewStateMachine returns an Idle machine for th. When partial is true,
// ratios are evaluated over partially filled windows.
func NewStateMachine(th Thresholds, partial bool) *StateMachine {
	return &StateMachine{
		th:      th,
		partial: partial,
		window:  NewDecisionWindow(th.WindowSize()),
	}
}

// State returns the current state.
func (m *StateMachine) State() State { return m.state }

// Window exposes the decision window for inspection.
func (m *StateMachine) Window() *DecisionWindow { return m.window }

// Observe consumes the probability of the next frame. Probabilities must
// arrive in frame order. A NaN or out-of-range p yields ErrInvalidProbability
// alongside the transition computed with the frame counted as non-speech.
func (m *StateMachine) Observe(p float64) (Transition, error) {
	var err error
	valid := !math.IsNaN(p) && p >= 0 && p <= 1
	if !valid {
		err = fmt.Errorf("%w: %v is outside [0, 1]", ErrInvalidProbability, p)
	}

	threshold := m.th.VADStartProb
	if m.state == Speaking {
		threshold = m.th.VADEndProb
	}
	m.window.Push(valid && p >= threshold)

	if m.state == Speaking {
		if r, ok := m.ratio(m.th.EndFrameCount, false); ok && r >= m.th.EndFalseRatio {
			m.state = Idle
			// History of the finished segment must not bias the next one.
			m.window.Reset()
			return End, err
		}
		return Continue, err
	}

	if r, ok := m.ratio(m.th.StartFrameCount, true); ok && r >= m.th.StartTrueRatio {
		m.state = Speaking
		return Start, err
	}

	if speech, _ := m.window.Count(m.th.StartFrameCount, true); speech > 0 {
		m.state = Armed
	} else {
		m.state = Idle
	}
	return None, err
}

// Reset returns the machine to Idle with an empty window.
func (m *StateMachine) Reset() {
	m.state = Idle
	m.window.Reset()
}

// ratio returns the fraction of the last n classifications equal to want.
// ok is false when the window cannot be evaluated yet.
func (m *StateMachine) ratio(n int, want bool) (r float64, ok bool) {
	matches, considered := m.window.Count(n, want)
	if considered == 0 || (considered < n && !m.partial) {
		return 0, false
	}
	return float64(matches) / float64(considered), true
}

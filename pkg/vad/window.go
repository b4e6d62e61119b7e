package vad

// DecisionWindow is a bounded ring of per-frame speech classifications.
type DecisionWindow struct {
	buf   []bool
	head  int // next write position
	count int
}

// NewDecisionWindow returns an empty window holding up to capacity entries.
func NewDecisionWindow(capacity int) *DecisionWindow {
	return &DecisionWindow{buf: make([]bool, max(capacity, 1))}
}

// Push records one classification, evicting the oldest when full.
func (w *DecisionWindow) Push(speech bool) {
	w.buf[w.head] = speech
	w.head = (w.head + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// Len returns the number of classifications held.
func (w *DecisionWindow) Len() int { return w.count }

// Cap returns the window capacity.
func (w *DecisionWindow) Cap() int { return len(w.buf) }

// Count inspects the most recent n classifications (or all of them when
// fewer are held) and returns how many equal want and how many were inspected.
func (w *DecisionWindow) Count(n int, want bool) (matches, considered int) {
	considered = min(n, w.count)
	for i := 1; i <= considered; i++ {
		idx := (w.head - i + len(w.buf)) % len(w.buf)
		if w.buf[idx] == want {
			matches++
		}
	}
	return matches, considered
}

// Reset forgets every classification.
func (w *DecisionWindow) Reset() {
	w.head = 0
	w.count = 0
}

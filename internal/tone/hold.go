package tone

// Hold latches tone readings so a display does not flicker on every refresh.
// While locked it takes a fresh reading every Interval observations; while
// unlocked it keeps showing the last latched reading.
type Hold struct {
	interval int
	locked   bool
	counter  int
	latched  []float64
}

// NewHold creates a locked Hold. The first observation is always latched.
func NewHold(interval int) *Hold {
	if interval < 1 {
		interval = 1
	}
	return &Hold{
		interval: interval,
		locked:   true,
		counter:  interval,
	}
}

// Observe offers a new reading and returns the one to display.
func (h *Hold) Observe(tones []float64) []float64 {
	if h.locked && h.counter >= h.interval {
		h.latched = append(h.latched[:0], tones...)
		h.counter = 0
	} else {
		h.counter++
	}
	out := make([]float64, len(h.latched))
	copy(out, h.latched)
	return out
}

// Toggle flips lock-in and returns the new lock state.
func (h *Hold) Toggle() bool {
	h.locked = !h.locked
	return h.locked
}

// Locked reports whether readings are being refreshed.
func (h *Hold) Locked() bool {
	return h.locked
}

// SetLocked sets the lock state.
func (h *Hold) SetLocked(locked bool) {
	h.locked = locked
}

// Package motion classifies asymmetric energy around a probe tone as motion
// towards or away from the microphone.
package motion

import (
	"errors"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/guidoenr/dopplerlab/internal/spectrum"
)

// State is the motion verdict.
type State int

const (
	None State = iota
	Towards
	Away
	Ambiguous
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Towards:
		return "towards"
	case Away:
		return "away"
	case Ambiguous:
		return "ambiguous"
	default:
		return "none"
	}
}

// Label returns the text shown to users. Ambiguous readings display as no
// movement.
func (s State) Label() string {
	switch s {
	case Towards:
		return "Moving Towards"
	case Away:
		return "Moving Away"
	default:
		return "No Movement"
	}
}

// States lists every state in declaration order.
func States() []State {
	return []State{None, Towards, Away, Ambiguous}
}

var (
	// ErrInvalidWindow indicates the neighbor offset must be positive
	ErrInvalidWindow = errors.New("motion window must be at least 1 bin")
	// ErrInvalidThreshold indicates thresholds must be non-negative
	ErrInvalidThreshold = errors.New("motion thresholds must be non-negative")
	// ErrInvalidCooldown indicates the cooldown must be positive
	ErrInvalidCooldown = errors.New("motion cooldown must be positive")
)

// Config holds the empirically tuned constants of the classifier. They were
// chosen for a 17.5 kHz probe in dB spectra and need re-tuning for other
// buffer sizes or sample rates.
type Config struct {
	// Window is the bin offset of the two probed neighbors.
	Window int
	// NearThreshold bounds how far a neighbor may sit below the peak.
	NearThreshold float64
	// AsymmetryThreshold is the minimum difference between the neighbors.
	AsymmetryThreshold float64
	// Cooldown is how long a verdict is held once detected.
	Cooldown time.Duration
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		Window:             10,
		NearThreshold:      35,
		AsymmetryThreshold: 25,
		Cooldown:           500 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Window < 1 {
		return ErrInvalidWindow
	}
	if c.NearThreshold < 0 || c.AsymmetryThreshold < 0 {
		return ErrInvalidThreshold
	}
	if c.Cooldown <= 0 {
		return ErrInvalidCooldown
	}
	return nil
}

// MinSpectrumLen returns the shortest spectrum for which both neighbors are
// distinct from the peak regardless of where it lies.
func (c Config) MinSpectrumLen() int {
	return 2*c.Window + 1
}

// Reading is a snapshot of the classifier after a refresh.
type Reading struct {
	State          State
	DominantIndex  int
	Peak           float64
	Right          float64
	Left           float64
	CooldownActive bool
	Degraded       bool
}

// Classifier tracks the dominant peak in the upper half of the spectrum and
// debounces motion verdicts with a cooldown. It is safe for concurrent use;
// the deferred cooldown clear is serialized with Update.
type Classifier struct {
	cfg   Config
	clock Clock

	mu      sync.Mutex
	reading Reading
	pending Timer
	gen     uint64
	closed  bool
}

// New creates a Classifier. A nil clock uses SystemClock.
func New(cfg Config, clock Clock) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Classifier{
		cfg:   cfg,
		clock: clock,
	}, nil
}

// Config returns the classifier configuration.
func (c *Classifier) Config() Config {
	return c.cfg
}

// Update classifies one refresh and returns the current state. While the
// cooldown is active the previous verdict is held and a single deferred
// clear is scheduled.
//
// Spectra shorter than 2*Window+1 are still classified with clamped neighbor
// indices, at reduced accuracy, and the reading is flagged as degraded. An
// empty spectrum leaves the state unchanged.
func (c *Classifier) Update(s spectrum.Spectrum) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := s.Len()
	c.reading.Degraded = n < c.cfg.MinSpectrumLen()
	if n == 0 || c.closed {
		return c.reading.State
	}

	upper := s.Magnitudes[n/2:]
	dom := n/2 + floats.MaxIdx(upper)
	rightIdx := spectrum.ClampIndex(dom-c.cfg.Window, n)
	leftIdx := spectrum.ClampIndex(dom+c.cfg.Window, n)

	peak := s.Magnitudes[dom]
	right := s.Magnitudes[rightIdx]
	left := s.Magnitudes[leftIdx]

	c.reading.DominantIndex = dom
	c.reading.Peak = peak
	c.reading.Right = right
	c.reading.Left = left

	if c.reading.CooldownActive {
		c.scheduleClearLocked()
		return c.reading.State
	}

	near := c.cfg.NearThreshold
	asym := c.cfg.AsymmetryThreshold
	switch {
	case peak-right < near && right-left > asym:
		c.arm(Away)
	case peak-left < near && left-right > asym:
		c.arm(Towards)
	case peak-left < near && peak-right < near:
		c.arm(Ambiguous)
	default:
		c.reading.State = None
	}
	return c.reading.State
}

func (c *Classifier) arm(state State) {
	c.reading.State = state
	c.reading.CooldownActive = true
}

func (c *Classifier) scheduleClearLocked() {
	if c.pending != nil {
		return
	}
	c.gen++
	gen := c.gen
	c.pending = c.clock.AfterFunc(c.cfg.Cooldown, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || gen != c.gen {
			return
		}
		c.reading.CooldownActive = false
		c.pending = nil
	})
}

// State returns the current verdict.
func (c *Classifier) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reading.State
}

// DominantIndex returns the bin of the strongest upper-half magnitude seen
// on the last refresh.
func (c *Classifier) DominantIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reading.DominantIndex
}

// CooldownActive reports whether classification is currently suppressed.
func (c *Classifier) CooldownActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reading.CooldownActive
}

// Degraded reports whether the last refresh was too short for the window.
func (c *Classifier) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reading.Degraded
}

// Snapshot returns the full reading of the last refresh.
func (c *Classifier) Snapshot() Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reading
}

// Close stops the pending cooldown clear. Later updates return the last
// state without reclassifying.
func (c *Classifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

// Package metrics exports engine results as Prometheus collectors.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/guidoenr/dopplerlab/internal/motion"
)

// Observation is one refresh worth of engine output.
type Observation struct {
	Tones          []float64
	ToneDegraded   bool
	Motion         motion.State
	MotionDegraded bool
	ProbeHz        float64
}

// Metrics holds the collectors.
type Metrics struct {
	toneFrequency     *prometheus.GaugeVec   // Selected tone frequency by rank
	tonesDetected     prometheus.Gauge       // Number of tones reported
	probeFrequency    prometheus.Gauge       // Probe tone frequency
	motionState       prometheus.Gauge       // Current motion state as a number
	motionTransitions *prometheus.CounterVec // State changes by new state
	refreshes         prometheus.Counter     // Refreshes processed
	degraded          *prometheus.CounterVec // Refreshes run in reduced-accuracy mode

	mu        sync.Mutex
	lastState motion.State
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		toneFrequency: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dopplerlab_tone_frequency_hz",
				Help: "Interpolated frequency of the selected tones in Hz (rank 0 is dominant)",
			},
			[]string{"rank"},
		),
		tonesDetected: f.NewGauge(prometheus.GaugeOpts{
			Name: "dopplerlab_tones_detected",
			Help: "Number of distinct tones reported on the last refresh",
		}),
		probeFrequency: f.NewGauge(prometheus.GaugeOpts{
			Name: "dopplerlab_probe_frequency_hz",
			Help: "Frequency of the emitted probe tone in Hz",
		}),
		motionState: f.NewGauge(prometheus.GaugeOpts{
			Name: "dopplerlab_motion_state",
			Help: "Motion state (0 none, 1 towards, 2 away, 3 ambiguous)",
		}),
		motionTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dopplerlab_motion_transitions_total",
				Help: "Motion state changes by new state",
			},
			[]string{"state"},
		),
		refreshes: f.NewCounter(prometheus.CounterOpts{
			Name: "dopplerlab_refresh_total",
			Help: "Spectrum refreshes processed",
		}),
		degraded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dopplerlab_degraded_total",
				Help: "Refreshes processed with a spectrum too short for full accuracy",
			},
			[]string{"pipeline"},
		),
	}
}

// Observe records one refresh.
func (m *Metrics) Observe(o Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshes.Inc()
	m.tonesDetected.Set(float64(len(o.Tones)))
	for rank := 0; rank < 2; rank++ {
		label := strconv.Itoa(rank)
		if rank < len(o.Tones) {
			m.toneFrequency.WithLabelValues(label).Set(o.Tones[rank])
			continue
		}
		m.toneFrequency.WithLabelValues(label).Set(0)
	}
	m.probeFrequency.Set(o.ProbeHz)
	m.motionState.Set(float64(o.Motion))
	if o.Motion != m.lastState {
		m.motionTransitions.WithLabelValues(o.Motion.String()).Inc()
		m.lastState = o.Motion
	}
	if o.ToneDegraded {
		m.degraded.WithLabelValues("tone").Inc()
	}
	if o.MotionDegraded {
		m.degraded.WithLabelValues("motion").Inc()
	}
}

// Package tone synthesizes the inaudible probe tone and latches tone
// readings for display.
package tone

import (
	"math"
	"sync"
)

const (
	// DefaultProbeHz sits above most adults' hearing range while staying
	// below Nyquist at 44.1 kHz.
	DefaultProbeHz = 17_500.0
	// DefaultAmplitude is the probe level relative to full scale.
	DefaultAmplitude = 0.5
)

const twoPi = 2 * math.Pi

// Generator produces a phase-continuous sine wave. It is safe to change the
// frequency from another goroutine while an audio callback is filling.
type Generator struct {
	mu         sync.Mutex
	frequency  float64
	amplitude  float64
	sampleRate float64
	phase      float64
	increment  float64
}

// NewGenerator creates a Generator. Non-positive arguments take defaults.
func NewGenerator(frequency, amplitude, sampleRate float64) *Generator {
	if sampleRate <= 0 {
		sampleRate = 44_100
	}
	if amplitude <= 0 {
		amplitude = DefaultAmplitude
	}
	g := &Generator{
		amplitude:  amplitude,
		sampleRate: sampleRate,
	}
	if frequency <= 0 {
		frequency = DefaultProbeHz
	}
	g.setFrequency(frequency)
	return g
}

// Frequency returns the current tone frequency in Hz.
func (g *Generator) Frequency() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.frequency
}

// SetFrequency changes pitch without resetting the phase. Values are clamped
// to (0, Nyquist).
func (g *Generator) SetFrequency(frequency float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setFrequency(frequency)
}

func (g *Generator) setFrequency(frequency float64) {
	nyquist := g.sampleRate / 2
	if frequency >= nyquist {
		frequency = nyquist - 1
	}
	if frequency < 1 {
		frequency = 1
	}
	g.frequency = frequency
	g.increment = twoPi * frequency / g.sampleRate
}

// SampleRate returns the output rate in Hz.
func (g *Generator) SampleRate() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sampleRate
}

// SetSampleRate adapts the generator to a device rate, keeping frequency and
// phase. The frequency is re-clamped to the new Nyquist limit.
func (g *Generator) SetSampleRate(sampleRate float64) {
	if sampleRate <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sampleRate = sampleRate
	g.setFrequency(g.frequency)
}

// Amplitude returns the peak level.
func (g *Generator) Amplitude() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.amplitude
}

// SetAmplitude changes the peak level. Zero silences the generator while
// keeping its phase running.
func (g *Generator) SetAmplitude(amplitude float64) {
	if amplitude < 0 {
		amplitude = 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.amplitude = amplitude
}

// Fill writes the next len(buf) samples.
func (g *Generator) Fill(buf []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range buf {
		buf[i] = float32(math.Sin(g.phase) * g.amplitude)
		g.phase += g.increment
		if g.phase >= twoPi {
			g.phase -= twoPi
		}
	}
}

// Mix adds the next len(buf) samples on top of buf.
func (g *Generator) Mix(buf []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range buf {
		buf[i] += float32(math.Sin(g.phase) * g.amplitude)
		g.phase += g.increment
		if g.phase >= twoPi {
			g.phase -= twoPi
		}
	}
}

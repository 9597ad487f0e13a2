package spectrum

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// minAmplitude keeps log10 finite on silent bins (-240 dB).
const minAmplitude = 1e-12

// Analyzer turns blocks of time-domain samples into one-sided dB magnitude
// spectra. It reuses its window and workspace between calls and is not safe
// for concurrent use.
type Analyzer struct {
	sampleRate float64
	size       int

	buffer []complex128
	window []float64
	mags   []float64
}

// Config controls Analyzer behavior.
type Config struct {
	SampleRate float64
	FFTSize    int
}

// NewAnalyzer creates an Analyzer. FFTSize is rounded up to a power of two.
func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44_100
	}
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = 4096
	}
	size := nextPow2(cfg.FFTSize)
	if size < 8 {
		size = 8
	}
	a := &Analyzer{
		sampleRate: cfg.SampleRate,
	}
	a.ensureWorkspace(size)
	return a
}

// SampleRate returns the rate the analyzer assumes for its input.
func (a *Analyzer) SampleRate() float64 {
	return a.sampleRate
}

// FFTSize returns the transform length.
func (a *Analyzer) FFTSize() int {
	return a.size
}

// Analyze windows the most recent FFTSize samples and returns their
// unnormalized dB magnitude spectrum, 20*log10(|X[k]|), for bins 0..N/2-1.
// Short input is zero padded. The returned snapshot
// holds a fresh slice owned by the caller.
func (a *Analyzer) Analyze(samples []float32) Spectrum {
	size := a.size
	buffer := a.buffer[:size]
	window := a.window[:size]

	offset := 0
	if len(samples) > size {
		offset = len(samples) - size
	}
	sampleCount := len(samples) - offset
	for i := 0; i < size; i++ {
		if i < sampleCount {
			buffer[i] = complex(float64(samples[offset+i])*window[i], 0)
			continue
		}
		buffer[i] = 0
	}

	fftRes := fft.FFT(buffer)

	half := size / 2
	for k := 0; k < half; k++ {
		a.mags[k] = toDecibels(cmag(fftRes[k]))
	}

	out := make([]float64, half)
	copy(out, a.mags[:half])
	return Spectrum{
		Magnitudes: out,
		SampleRate: a.sampleRate,
		FFTSize:    size,
	}
}

func hann(i, size float64) float64 {
	return 0.5 * (1.0 - math.Cos(2.0*math.Pi*i/size))
}

func (a *Analyzer) ensureWorkspace(size int) {
	a.size = size
	if len(a.buffer) != size {
		a.buffer = make([]complex128, size)
	}
	if len(a.mags) != size/2 {
		a.mags = make([]float64, size/2)
	}
	if len(a.window) != size {
		a.window = make([]float64, size)
		sizeF := float64(size)
		for i := range a.window {
			a.window[i] = hann(float64(i), sizeF)
		}
	}
}

func cmag(c complex128) float64 {
	return math.Sqrt(real(c)*real(c) + imag(c)*imag(c))
}

func toDecibels(amplitude float64) float64 {
	if amplitude < minAmplitude {
		amplitude = minAmplitude
	}
	return 20 * math.Log10(amplitude)
}

func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

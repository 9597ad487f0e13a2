package spectrum

// Spectrum is a read-only magnitude snapshot for one refresh.
//
// Magnitudes are ordered by increasing frequency and may be linear or dB, as
// long as a consumer sees the same scale on every refresh. Callers must not
// mutate Magnitudes while a pass over the snapshot is running.
type Spectrum struct {
	Magnitudes []float64
	SampleRate float64

	// FFTSize is the transform length the magnitudes came from. When zero the
	// bin width is SampleRate / len(Magnitudes).
	FFTSize int
}

// New wraps magnitudes sampled at sampleRate.
func New(magnitudes []float64, sampleRate float64) Spectrum {
	return Spectrum{Magnitudes: magnitudes, SampleRate: sampleRate}
}

// Len returns the number of bins.
func (s Spectrum) Len() int {
	return len(s.Magnitudes)
}

// BinWidth returns the width of one bin in Hz.
func (s Spectrum) BinWidth() float64 {
	if s.FFTSize > 0 {
		return s.SampleRate / float64(s.FFTSize)
	}
	if len(s.Magnitudes) == 0 {
		return 0
	}
	return s.SampleRate / float64(len(s.Magnitudes))
}

// Frequency converts a (possibly fractional) bin position to Hz.
func (s Spectrum) Frequency(bin float64) float64 {
	return bin * s.BinWidth()
}

// At returns the magnitude of bin i clamped into range. An empty spectrum
// reads as zero.
func (s Spectrum) At(i int) float64 {
	if len(s.Magnitudes) == 0 {
		return 0
	}
	return s.Magnitudes[ClampIndex(i, len(s.Magnitudes))]
}

// ClampIndex limits i to [0, n-1].
func ClampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

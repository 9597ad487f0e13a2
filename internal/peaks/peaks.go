// Package peaks locates strict local maxima in a magnitude spectrum, refines
// their frequency by parabolic interpolation, and picks the dominant distinct
// tones.
package peaks

import (
	"sort"

	"github.com/guidoenr/dopplerlab/internal/spectrum"
)

// MinSpectrumLen is the shortest spectrum that has an interior bin with two
// neighbors on each side of the scan.
const MinSpectrumLen = 4

// Peak is a strict local maximum and the three magnitudes used to refine it.
type Peak struct {
	Bin       int
	Magnitude float64
	Left      float64
	Right     float64
	Frequency float64
}

// Offset returns the interpolated sub-bin offset of the peak.
func (p Peak) Offset() float64 {
	return InterpolateOffset(p.Left, p.Magnitude, p.Right)
}

// FindPeaks returns every strict local maximum in bins 1..N-2 in ascending
// bin order. Plateaus and the two edge bins are never peaks. Spectra shorter
// than MinSpectrumLen yield nil.
func FindPeaks(s spectrum.Spectrum) []Peak {
	mags := s.Magnitudes
	if len(mags) < MinSpectrumLen {
		return nil
	}
	binWidth := s.BinWidth()

	var out []Peak
	for i := 1; i < len(mags)-1; i++ {
		m1, m2, m3 := mags[i-1], mags[i], mags[i+1]
		if !(m2 > m1 && m2 > m3) {
			continue
		}
		p := InterpolateOffset(m1, m2, m3)
		out = append(out, Peak{
			Bin:       i,
			Magnitude: m2,
			Left:      m1,
			Right:     m3,
			Frequency: (float64(i) + p) * binWidth,
		})
	}
	return out
}

// InterpolateOffset returns the vertex offset, relative to the middle sample,
// of the parabola through (-1, m1), (0, m2), (1, m3). Collinear points give 0.
func InterpolateOffset(m1, m2, m3 float64) float64 {
	denom := m1 - 2*m2 + m3
	if denom == 0 {
		return 0
	}
	return (m1 - m3) / (2 * denom)
}

// SelectorConfig controls tone selection.
type SelectorConfig struct {
	// MaxCount is the number of tones to report, at most MaxTones.
	MaxCount int
	// MinSeparationHz is the minimum spacing between reported tones.
	MinSeparationHz float64
	// ThresholdMagnitude drops peaks at or below this magnitude.
	ThresholdMagnitude float64
}

// MaxTones is the largest number of simultaneous tones the selector reports.
const MaxTones = 2

// DefaultSelectorConfig returns the selection policy used by the tone screen.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		MaxCount:           MaxTones,
		MinSeparationHz:    50,
		ThresholdMagnitude: 0,
	}
}

func (c SelectorConfig) normalized() SelectorConfig {
	if c.MaxCount <= 0 || c.MaxCount > MaxTones {
		c.MaxCount = MaxTones
	}
	if c.MinSeparationHz < 0 {
		c.MinSeparationHz = 0
	}
	return c
}

// SelectTopTones picks up to cfg.MaxCount peaks by descending magnitude,
// skipping any candidate closer than cfg.MinSeparationHz (measured between
// bin centers) to an accepted peak. It returns interpolated frequencies with
// the dominant tone first. The input slice is not modified.
func SelectTopTones(peaks []Peak, binWidth float64, cfg SelectorConfig) []float64 {
	accepted := selectPeaks(peaks, binWidth, cfg)
	tones := make([]float64, 0, len(accepted))
	for _, p := range accepted {
		tones = append(tones, p.Frequency)
	}
	return tones
}

func selectPeaks(peaks []Peak, binWidth float64, cfg SelectorConfig) []Peak {
	cfg = cfg.normalized()

	candidates := make([]Peak, 0, len(peaks))
	for _, p := range peaks {
		if p.Magnitude <= cfg.ThresholdMagnitude {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Magnitude == candidates[j].Magnitude {
			return candidates[i].Bin < candidates[j].Bin
		}
		return candidates[i].Magnitude > candidates[j].Magnitude
	})

	accepted := make([]Peak, 0, cfg.MaxCount)
	for _, c := range candidates {
		if len(accepted) == cfg.MaxCount {
			break
		}
		if separated(c, accepted, binWidth, cfg.MinSeparationHz) {
			accepted = append(accepted, c)
		}
	}
	return accepted
}

func separated(c Peak, accepted []Peak, binWidth, minHz float64) bool {
	for _, a := range accepted {
		d := c.Bin - a.Bin
		if d < 0 {
			d = -d
		}
		if float64(d)*binWidth < minHz {
			return false
		}
	}
	return true
}

// Result is the output of one pass of the tone pipeline.
type Result struct {
	Tones    []float64
	Peaks    []Peak
	Degraded bool
}

// Detect runs extraction and selection over s.
func Detect(s spectrum.Spectrum, cfg SelectorConfig) Result {
	found := FindPeaks(s)
	return Result{
		Tones:    SelectTopTones(found, s.BinWidth(), cfg),
		Peaks:    found,
		Degraded: s.Len() < MinSpectrumLen,
	}
}

package app

import (
	"math/rand"
	"time"

	"github.com/guidoenr/dopplerlab/internal/tone"
)

const (
	fakeSampleRate = 44_100.0
	// fakeCycle is the length of one towards, still, away, still sequence.
	fakeCycle     = 8.0
	fakeNoise     = 1e-3
	sidebandLevel = 0.1
)

// fakeSource synthesizes what a microphone would hear next to the speaker:
// the probe tone, two steady tones, and a Doppler sideband that moves above
// and below the probe on a fixed cycle.
type fakeSource struct {
	rng      *rand.Rand
	probe    *tone.Generator
	low      *tone.Generator
	high     *tone.Generator
	sideband *tone.Generator
	shiftHz  float64
	elapsed  float64
}

func newFakeSource(probe *tone.Generator, shiftHz float64, seed int64) *fakeSource {
	return &fakeSource{
		rng:      rand.New(rand.NewSource(seed)),
		probe:    probe,
		low:      tone.NewGenerator(1_000, 0.3, fakeSampleRate),
		high:     tone.NewGenerator(2_500, 0.2, fakeSampleRate),
		sideband: tone.NewGenerator(probe.Frequency()+shiftHz, sidebandLevel*probe.Amplitude(), fakeSampleRate),
		shiftHz:  shiftHz,
	}
}

func newTimeSeededFakeSource(probe *tone.Generator, shiftHz float64) *fakeSource {
	return newFakeSource(probe, shiftHz, time.Now().UnixNano())
}

func (f *fakeSource) SampleRate() float64 {
	return fakeSampleRate
}

// Samples returns the next n samples of the synthetic stream.
func (f *fakeSource) Samples(n int) []float32 {
	if n <= 0 {
		return nil
	}
	f.moveSideband()

	out := make([]float32, n)
	f.probe.Mix(out)
	f.low.Mix(out)
	f.high.Mix(out)
	f.sideband.Mix(out)
	for i := range out {
		out[i] += float32(f.rng.NormFloat64() * fakeNoise)
	}
	f.elapsed += float64(n) / fakeSampleRate
	return out
}

// moveSideband places the sideband for the current point of the cycle:
// above the probe first, silent, below the probe, silent again.
func (f *fakeSource) moveSideband() {
	probeHz := f.probe.Frequency()
	level := sidebandLevel * f.probe.Amplitude()
	pos := f.elapsed - fakeCycle*float64(int(f.elapsed/fakeCycle))
	switch {
	case pos < fakeCycle/4:
		f.sideband.SetFrequency(probeHz + f.shiftHz)
		f.sideband.SetAmplitude(level)
	case pos >= fakeCycle/2 && pos < 3*fakeCycle/4:
		f.sideband.SetFrequency(probeHz - f.shiftHz)
		f.sideband.SetAmplitude(level)
	default:
		f.sideband.SetAmplitude(0)
	}
}

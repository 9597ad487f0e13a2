package app

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/eiannone/keyboard"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guidoenr/dopplerlab/internal/config"
	"github.com/guidoenr/dopplerlab/internal/metrics"
	"github.com/guidoenr/dopplerlab/internal/tone"
)

func newTestApp(t *testing.T, mutate func(*Config)) (*App, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	cfg := Config{
		Settings:      config.Defaults(),
		DisableAudio:  true,
		ShowStatusBar: true,
		Output:        out,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, out
}

func containsNear(values []float64, want, tolerance float64) bool {
	for _, v := range values {
		if math.Abs(v-want) <= tolerance {
			return true
		}
	}
	return false
}

func TestStepToneModeFindsSyntheticTones(t *testing.T) {
	a, out := newTestApp(t, nil)
	require.NoError(t, a.step())

	snap := a.Snapshot()
	assert.Equal(t, config.ModeTone, snap.Mode)
	require.Len(t, snap.Tones, 2)
	binWidth := fakeSampleRate / float64(a.analyzer.FFTSize())
	assert.True(t, containsNear(snap.Tones, 1_000, binWidth), "tones=%v", snap.Tones)
	assert.True(t, containsNear(snap.Tones, 2_500, binWidth), "tones=%v", snap.Tones)
	assert.Equal(t, snap.Tones, snap.Displayed, "first reading is latched")
	assert.True(t, snap.Locked)
	assert.False(t, snap.ToneDegraded)
	assert.Contains(t, out.String(), "Frequencies:")
	assert.Contains(t, out.String(), "lock on")
}

func TestStepDopplerModeDetectsApproach(t *testing.T) {
	a, out := newTestApp(t, func(c *Config) {
		c.Settings.Display.Mode = config.ModeDoppler
	})
	require.NoError(t, a.step())

	snap := a.Snapshot()
	assert.Equal(t, "towards", snap.Motion)
	assert.Equal(t, "Moving Towards", snap.MotionLabel)
	assert.True(t, snap.CooldownActive)
	assert.False(t, snap.MotionDegraded)
	assert.InDelta(t, tone.DefaultProbeHz, snap.DominantHz, 2*fakeSampleRate/float64(a.analyzer.FFTSize()))
	assert.Contains(t, out.String(), "Moving Towards")
}

func TestStepObservesMetrics(t *testing.T) {
	a, _ := newTestApp(t, func(c *Config) {
		c.Metrics = metrics.New(prometheus.NewRegistry())
	})
	for i := 0; i < 3; i++ {
		require.NoError(t, a.step())
	}
}

func TestSetModeRejectsUnknown(t *testing.T) {
	a, _ := newTestApp(t, nil)
	err := a.SetMode("radar")
	require.ErrorIs(t, err, ErrUnknownMode)
	assert.Equal(t, config.ModeTone, a.Mode())
}

func TestModeControlsProbeLevel(t *testing.T) {
	a, _ := newTestApp(t, nil)
	assert.Zero(t, a.probe.Amplitude(), "probe is silent on the tone screen")

	require.NoError(t, a.SetMode("DOPPLER"))
	assert.Equal(t, config.ModeDoppler, a.Mode())
	assert.Equal(t, tone.DefaultAmplitude, a.probe.Amplitude())
}

func TestSettingsReflectRuntimeChanges(t *testing.T) {
	a, _ := newTestApp(t, nil)
	a.SetProbeFrequency(18_000)
	require.NoError(t, a.SetMode(config.ModeDoppler))

	s := a.Settings()
	assert.Equal(t, 18_000.0, s.Audio.ProbeHz)
	assert.Equal(t, config.ModeDoppler, s.Display.Mode)
	assert.NoError(t, s.Validate())
}

func TestHandleInput(t *testing.T) {
	a, _ := newTestApp(t, nil)

	a.handleInput(inputEventLock)
	assert.False(t, a.hold.Locked())
	a.handleInput(inputEventLock)
	assert.True(t, a.hold.Locked())

	a.handleInput(inputEventMode)
	assert.Equal(t, config.ModeDoppler, a.Mode())
	assert.Equal(t, tone.DefaultAmplitude, a.probe.Amplitude())
	a.handleInput(inputEventMode)
	assert.Equal(t, config.ModeTone, a.Mode())
	assert.Zero(t, a.probe.Amplitude())

	start := a.ProbeFrequency()
	a.handleInput(inputEventProbeUp)
	assert.Equal(t, start+probeStep, a.ProbeFrequency())
	a.handleInput(inputEventProbeDown)
	a.handleInput(inputEventProbeDown)
	assert.Equal(t, start-probeStep, a.ProbeFrequency())
}

func TestKeyEvent(t *testing.T) {
	cases := []struct {
		char rune
		key  keyboard.Key
		want inputEvent
		ok   bool
	}{
		{key: keyboard.KeyEsc, want: inputEventQuit, ok: true},
		{char: 'q', want: inputEventQuit, ok: true},
		{char: 'L', want: inputEventLock, ok: true},
		{char: 'm', want: inputEventMode, ok: true},
		{char: '=', want: inputEventProbeUp, ok: true},
		{char: '-', want: inputEventProbeDown, ok: true},
		{char: 'x'},
	}
	for _, tc := range cases {
		got, ok := keyEvent(tc.char, tc.key)
		assert.Equal(t, tc.ok, ok, "char=%q key=%v", tc.char, tc.key)
		if tc.ok {
			assert.Equal(t, tc.want, got, "char=%q key=%v", tc.char, tc.key)
		}
	}
}

func TestInvalidSettingsRejected(t *testing.T) {
	settings := config.Defaults()
	settings.Audio.BufferSize = 1000
	_, err := New(Config{Settings: settings, DisableAudio: true, Output: &bytes.Buffer{}})
	require.ErrorIs(t, err, config.ErrInvalidBufferSize)
}

func TestProfilerRecordsTimingsAndOutcome(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.csv")
	a, _ := newTestApp(t, func(c *Config) {
		c.ProfilePath = path
		c.Settings.Display.Mode = config.ModeDoppler
	})
	require.NoError(t, a.step())
	require.NoError(t, a.step())
	require.NoError(t, a.profiler.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus one row per refresh")

	header := rows[0]
	assert.Equal(t, []string{
		"timestamp", "total_ms",
		"capture_ms", "analyze_ms", "tones_ms", "motion_ms", "render_ms", "output_ms",
		"tones", "motion", "cooldown_active", "tone_degraded", "motion_degraded",
	}, header)

	col := func(row []string, name string) string {
		for i, h := range header {
			if h == name {
				return row[i]
			}
		}
		t.Fatalf("missing column %s", name)
		return ""
	}
	first := rows[1]
	assert.Equal(t, "2", col(first, "tones"))
	assert.Equal(t, "towards", col(first, "motion"))
	assert.Equal(t, "true", col(first, "cooldown_active"))
	assert.Equal(t, "false", col(first, "tone_degraded"))
	assert.Equal(t, "false", col(first, "motion_degraded"))
	for _, name := range []string{"total_ms", "capture_ms", "analyze_ms", "output_ms"} {
		ms, err := strconv.ParseFloat(col(first, name), 64)
		require.NoError(t, err, name)
		assert.GreaterOrEqual(t, ms, 0.0, name)
	}
}

func TestProfilerDisabledWithoutPath(t *testing.T) {
	p := newProfiler("", nil)
	assert.Nil(t, p)
	p.beginFrame()
	p.markSection("capture")
	p.endFrame(frameOutcome{})
	assert.NoError(t, p.Close())
}

func TestStatusBarPadsAndTruncates(t *testing.T) {
	assert.Equal(t, "ab  ", statusBar("ab", 4))
	assert.Equal(t, "abc", statusBar("abcdef", 3))
	assert.Equal(t, "abc", statusBar("abc", 0))
}

func TestFakeSourceSidebandCycle(t *testing.T) {
	probe := tone.NewGenerator(17_500, 0.5, fakeSampleRate)
	f := newFakeSource(probe, 100, 1)

	f.moveSideband()
	assert.Equal(t, 17_600.0, f.sideband.Frequency())
	assert.InDelta(t, 0.05, f.sideband.Amplitude(), 1e-9)

	f.elapsed = 2.5
	f.moveSideband()
	assert.Zero(t, f.sideband.Amplitude())

	f.elapsed = fakeCycle + 4.5
	f.moveSideband()
	assert.Equal(t, 17_400.0, f.sideband.Frequency())

	samples := f.Samples(256)
	assert.Len(t, samples, 256)
	assert.InDelta(t, fakeCycle+4.5+256/fakeSampleRate, f.elapsed, 1e-9)
	assert.Nil(t, f.Samples(0))
}

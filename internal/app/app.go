// Package app runs the dopplerlab refresh loop: it pulls audio, analyzes it
// with the tone and motion pipelines, and draws the result in the terminal.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/eiannone/keyboard"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/guidoenr/dopplerlab/internal/audio"
	"github.com/guidoenr/dopplerlab/internal/config"
	"github.com/guidoenr/dopplerlab/internal/metrics"
	"github.com/guidoenr/dopplerlab/internal/motion"
	"github.com/guidoenr/dopplerlab/internal/peaks"
	"github.com/guidoenr/dopplerlab/internal/render"
	"github.com/guidoenr/dopplerlab/internal/spectrum"
	"github.com/guidoenr/dopplerlab/internal/tone"
)

// probeStep is the frequency change of one +/- key press.
const probeStep = 100.0

// Config configures the application runtime.
type Config struct {
	Settings      config.Config
	DisableAudio  bool
	Width         int
	Height        int
	ShowStatusBar bool
	ProfilePath   string
	Log           *zap.Logger
	Metrics       *metrics.Metrics
	// Output receives the frames, os.Stdout when nil.
	Output io.Writer
	// Clock drives the motion cooldown, the system clock when nil.
	Clock motion.Clock
}

// Snapshot is the latest refresh, shared with the web server.
type Snapshot struct {
	Mode           string    `json:"mode"`
	Tones          []float64 `json:"tones"`
	Displayed      []float64 `json:"displayed"`
	ToneText       string    `json:"toneText"`
	Locked         bool      `json:"locked"`
	ToneDegraded   bool      `json:"toneDegraded"`
	ProbeHz        float64   `json:"probeHz"`
	Motion         string    `json:"motion"`
	MotionLabel    string    `json:"motionLabel"`
	DominantHz     float64   `json:"dominantHz"`
	CooldownActive bool      `json:"cooldownActive"`
	MotionDegraded bool      `json:"motionDegraded"`
	FPS            float64   `json:"fps"`
	Device         string    `json:"device,omitempty"`
	Updated        time.Time `json:"updated"`
}

// sampleSource is either the live capture or the synthetic source.
type sampleSource interface {
	Samples(n int) []float32
	SampleRate() float64
}

type inputEvent int

const (
	inputEventQuit inputEvent = iota
	inputEventLock
	inputEventMode
	inputEventProbeUp
	inputEventProbeDown
)

// ErrUnknownMode is returned by SetMode for anything but tone or doppler.
var ErrUnknownMode = errors.New("unknown display mode")

// App ties together audio capture, analysis, and rendering.
type App struct {
	cfg         Config
	renderer    *render.Renderer
	capture     *audio.Capture
	source      sampleSource
	analyzer    *spectrum.Analyzer
	probe       *tone.Generator
	classifier  *motion.Classifier
	selector    peaks.SelectorConfig
	profiler    *profiler
	metrics     *metrics.Metrics
	out         io.Writer
	log         *zap.Logger
	last        time.Time
	deviceLabel string

	width        int
	height       int
	renderHeight int
	inputEvents  chan inputEvent

	mu       sync.Mutex
	mode     string
	hold     *tone.Hold
	settings config.Config
	snapshot Snapshot
}

// New constructs the application using the provided configuration.
func New(cfg Config) (*App, error) {
	settings := cfg.Settings
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Width <= 0 {
		cfg.Width = 80
	}
	if cfg.Height <= 0 {
		cfg.Height = 24
	}
	renderHeight := cfg.Height
	if cfg.ShowStatusBar && renderHeight > 1 {
		renderHeight--
	}

	classifier, err := motion.New(settings.Classifier(), cfg.Clock)
	if err != nil {
		return nil, fmt.Errorf("motion classifier: %w", err)
	}

	app := &App{
		cfg:          cfg,
		renderer:     render.New(cfg.Width, renderHeight, settings.Display.Palette, settings.Display.Color),
		classifier:   classifier,
		selector:     settings.Selector(),
		metrics:      cfg.Metrics,
		out:          cfg.Output,
		log:          cfg.Log,
		width:        cfg.Width,
		height:       cfg.Height,
		renderHeight: renderHeight,
		mode:         strings.ToLower(settings.Display.Mode),
		hold:         tone.NewHold(settings.Display.HoldInterval),
		settings:     settings,
	}

	app.probe = tone.NewGenerator(settings.Audio.ProbeHz, settings.Audio.ProbeAmplitude, 0)
	if cfg.DisableAudio {
		app.probe.SetSampleRate(fakeSampleRate)
		shift := float64(settings.Motion.Window) * fakeSampleRate / float64(settings.Audio.BufferSize)
		app.source = newTimeSeededFakeSource(app.probe, shift)
		app.log.Info("audio disabled, using synthetic source")
	} else {
		capture, err := audio.NewCapture(audio.Config{
			DeviceName: settings.Audio.Device,
			BufferSize: settings.Audio.BufferSize,
			Channels:   2,
			Output:     app.probe,
			Log:        app.log.Named("audio"),
		})
		if err != nil {
			classifier.Close()
			return nil, fmt.Errorf("audio capture: %w", err)
		}
		app.probe.SetSampleRate(capture.SampleRate())
		app.capture = capture
		app.source = capture
		fields := []zap.Field{zap.Float64("sample_rate", capture.SampleRate())}
		if info := capture.Device(); info != nil {
			app.deviceLabel = info.Name
			fields = append(fields, zap.String("device", info.Name))
		}
		if out := capture.OutputDevice(); out != nil {
			fields = append(fields, zap.String("output", out.Name))
		} else {
			fields = append(fields, zap.Bool("probe_playback", false))
		}
		app.log.Info("audio capture started", fields...)
	}
	app.applyModeLocked()

	app.analyzer = spectrum.NewAnalyzer(spectrum.Config{
		SampleRate: app.source.SampleRate(),
		FFTSize:    settings.Audio.BufferSize,
	})
	app.profiler = newProfiler(cfg.ProfilePath, app.log)
	app.last = time.Now()
	return app, nil
}

// Run starts the render loop until context cancellation.
func (a *App) Run(ctx context.Context) error {
	frameSeconds := 1.0 / a.settings.Audio.FPS
	frameDuration := time.Duration(frameSeconds * float64(time.Second))
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	a.enterAltScreen()
	a.clearScreen()
	a.hideCursor()
	defer func() {
		a.showCursor()
		a.exitAltScreen()
	}()

	inputCtx, cancelInput := context.WithCancel(ctx)
	defer cancelInput()
	a.startInputListener(inputCtx)
	a.ensureDimensions()

	for {
		select {
		case <-ctx.Done():
			a.moveCursorHome()
			return ctx.Err()
		case evt, ok := <-a.inputEvents:
			if !ok {
				a.inputEvents = nil
				continue
			}
			if evt == inputEventQuit {
				a.moveCursorHome()
				return nil
			}
			a.handleInput(evt)
		case <-ticker.C:
			if err := a.step(); err != nil {
				return err
			}
		}
	}
}

// Close releases held resources.
func (a *App) Close() error {
	a.classifier.Close()
	var errs []error
	if err := a.profiler.Close(); err != nil {
		errs = append(errs, fmt.Errorf("profiler: %w", err))
	}
	if a.capture != nil {
		if err := a.capture.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audio capture: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns the latest refresh.
func (a *App) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap := a.snapshot
	snap.Tones = append([]float64(nil), a.snapshot.Tones...)
	snap.Displayed = append([]float64(nil), a.snapshot.Displayed...)
	return snap
}

// Settings returns the running configuration, including changes made from
// the keyboard or the web API.
func (a *App) Settings() config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.settings
	s.Audio.ProbeHz = a.probe.Frequency()
	s.Display.Mode = a.mode
	return s
}

// ProbeFrequency returns the current probe tone frequency.
func (a *App) ProbeFrequency() float64 {
	return a.probe.Frequency()
}

// SetProbeFrequency retunes the probe tone.
func (a *App) SetProbeFrequency(hz float64) {
	a.probe.SetFrequency(hz)
	a.log.Debug("probe frequency changed", zap.Float64("hz", a.probe.Frequency()))
}

// SetLocked turns tone lock-in on or off.
func (a *App) SetLocked(locked bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hold.SetLocked(locked)
}

// Mode returns the active display mode.
func (a *App) Mode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// SetMode switches between the tone and doppler screens. The probe tone only
// plays on the doppler screen.
func (a *App) SetMode(mode string) error {
	mode = strings.ToLower(mode)
	if mode != config.ModeTone && mode != config.ModeDoppler {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mode = mode
	a.applyModeLocked()
	return nil
}

// toggleMode flips between the two screens and returns the new mode.
func (a *App) toggleMode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode == config.ModeDoppler {
		a.mode = config.ModeTone
	} else {
		a.mode = config.ModeDoppler
	}
	a.applyModeLocked()
	return a.mode
}

func (a *App) applyModeLocked() {
	if a.mode == config.ModeDoppler {
		a.probe.SetAmplitude(a.settings.Audio.ProbeAmplitude)
		return
	}
	a.probe.SetAmplitude(0)
}

func (a *App) handleInput(evt inputEvent) {
	switch evt {
	case inputEventLock:
		a.mu.Lock()
		locked := a.hold.Toggle()
		a.mu.Unlock()
		a.log.Debug("lock-in toggled", zap.Bool("locked", locked))
	case inputEventMode:
		a.log.Debug("mode switched", zap.String("mode", a.toggleMode()))
	case inputEventProbeUp:
		a.SetProbeFrequency(a.probe.Frequency() + probeStep)
	case inputEventProbeDown:
		a.SetProbeFrequency(a.probe.Frequency() - probeStep)
	}
}

func (a *App) step() error {
	a.ensureDimensions()
	a.profiler.beginFrame()

	now := time.Now()
	delta := now.Sub(a.last).Seconds()
	if delta <= 0 {
		delta = 1.0 / a.settings.Audio.FPS
	}
	a.last = now

	samples := a.source.Samples(a.analyzer.FFTSize())
	a.profiler.markSection("capture")

	spec := a.analyzer.Analyze(samples)
	a.profiler.markSection("analyze")

	detected := peaks.Detect(spec, a.selector)
	a.mu.Lock()
	displayed := a.hold.Observe(detected.Tones)
	locked := a.hold.Locked()
	mode := a.mode
	a.mu.Unlock()
	a.profiler.markSection("tones")

	a.classifier.Update(spec)
	reading := a.classifier.Snapshot()
	a.profiler.markSection("motion")

	probeHz := a.probe.Frequency()
	view := render.View{
		Mode:    mode,
		Tones:   displayed,
		Locked:  locked,
		ProbeHz: probeHz,
		Motion:  reading.State,
		FPS:     1.0 / delta,
	}
	if mode == config.ModeDoppler {
		half := spec.Len() / 2
		view.Graph = spectrum.Decimate(spec.Magnitudes[half:], a.settings.Display.GraphPoints)
		view.Degraded = reading.Degraded
	} else {
		view.Graph = spectrum.Decimate(spec.Magnitudes, a.settings.Display.GraphPoints)
		view.Degraded = detected.Degraded
	}
	frame := a.renderer.Render(view)
	a.profiler.markSection("render")

	a.publish(Snapshot{
		Mode:           mode,
		Tones:          detected.Tones,
		Displayed:      displayed,
		ToneText:       render.ToneText(displayed),
		Locked:         locked,
		ToneDegraded:   detected.Degraded,
		ProbeHz:        probeHz,
		Motion:         reading.State.String(),
		MotionLabel:    reading.State.Label(),
		DominantHz:     spec.Frequency(float64(reading.DominantIndex)),
		CooldownActive: reading.CooldownActive,
		MotionDegraded: reading.Degraded,
		FPS:            view.FPS,
		Device:         a.deviceLabel,
		Updated:        now,
	})
	if a.metrics != nil {
		a.metrics.Observe(metrics.Observation{
			Tones:          detected.Tones,
			ToneDegraded:   detected.Degraded,
			Motion:         reading.State,
			MotionDegraded: reading.Degraded,
			ProbeHz:        probeHz,
		})
	}

	statusText := frame.Status
	if a.deviceLabel != "" {
		statusText = fmt.Sprintf("%s | mic=%s", statusText, a.deviceLabel)
	}

	var b strings.Builder
	b.WriteString("\x1b[H")
	for _, line := range frame.Lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if a.cfg.ShowStatusBar {
		b.WriteString(statusBar(statusText, a.width))
		b.WriteByte('\n')
	}
	if _, err := io.WriteString(a.out, b.String()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	a.profiler.markSection("output")
	a.profiler.endFrame(frameOutcome{
		Tones:          len(detected.Tones),
		Motion:         reading.State,
		CooldownActive: reading.CooldownActive,
		ToneDegraded:   detected.Degraded,
		MotionDegraded: reading.Degraded,
	})
	return nil
}

func (a *App) publish(s Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshot = s
}

func (a *App) ensureDimensions() {
	f, ok := a.out.(*os.File)
	if !ok {
		return
	}
	w, h, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return
	}

	renderHeight := h
	if a.cfg.ShowStatusBar && renderHeight > 1 {
		renderHeight--
	}
	if renderHeight <= 0 {
		renderHeight = 1
	}

	if w == a.width && h == a.height && renderHeight == a.renderHeight {
		return
	}

	a.width = w
	a.height = h
	a.renderHeight = renderHeight
	a.renderer.Resize(w, renderHeight)
}

func (a *App) startInputListener(ctx context.Context) {
	if err := keyboard.Open(); err != nil {
		a.log.Warn("keyboard input disabled", zap.Error(err))
		a.inputEvents = nil
		return
	}

	events := make(chan inputEvent, 16)
	a.inputEvents = events

	closeOnce := &sync.Once{}
	go func() {
		<-ctx.Done()
		closeOnce.Do(func() {
			_ = keyboard.Close()
		})
	}()

	go func() {
		defer close(events)
		defer closeOnce.Do(func() {
			_ = keyboard.Close()
		})
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			evt, ok := keyEvent(char, key)
			if !ok {
				continue
			}
			if evt == inputEventQuit {
				events <- inputEventQuit
				return
			}
			select {
			case events <- evt:
			default:
			}
		}
	}()
}

func keyEvent(char rune, key keyboard.Key) (inputEvent, bool) {
	switch {
	case key == keyboard.KeyEsc || key == keyboard.KeyCtrlC:
		return inputEventQuit, true
	case char == 'q' || char == 'Q':
		return inputEventQuit, true
	case char == 'l' || char == 'L':
		return inputEventLock, true
	case char == 'm' || char == 'M':
		return inputEventMode, true
	case char == '+' || char == '=':
		return inputEventProbeUp, true
	case char == '-' || char == '_':
		return inputEventProbeDown, true
	}
	return 0, false
}

func statusBar(text string, width int) string {
	if width <= 0 {
		return text
	}
	if len(text) >= width {
		return text[:width]
	}
	padding := width - len(text)
	return text + strings.Repeat(" ", padding)
}

func (a *App) clearScreen() {
	fmt.Fprint(a.out, "\x1b[2J")
	a.moveCursorHome()
}

func (a *App) moveCursorHome() {
	fmt.Fprint(a.out, "\x1b[H")
}

func (a *App) hideCursor() {
	fmt.Fprint(a.out, "\x1b[?25l")
}

func (a *App) showCursor() {
	fmt.Fprint(a.out, "\x1b[?25h")
}

func (a *App) enterAltScreen() {
	fmt.Fprint(a.out, "\x1b[?1049h")
}

func (a *App) exitAltScreen() {
	fmt.Fprint(a.out, "\x1b[?1049l\x1b[0m")
}

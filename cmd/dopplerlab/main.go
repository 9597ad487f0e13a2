package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/guidoenr/dopplerlab/internal/app"
	"github.com/guidoenr/dopplerlab/internal/audio"
	"github.com/guidoenr/dopplerlab/internal/config"
	"github.com/guidoenr/dopplerlab/internal/metrics"
	"github.com/guidoenr/dopplerlab/internal/web"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the whole program. It returns the exit code so that deferred
// cleanup (app close, PortAudio terminate, logger sync) runs on every path.
func run(args []string) int {
	flags := flag.NewFlagSet("dopplerlab", flag.ContinueOnError)
	var (
		configPath = flags.StringP("config", "c", "", "YAML config file (default: dopplerlab.yaml next to the binary, if present)")
		deviceName = flags.String("audio-device", "", "Optional PortAudio input device name (substring match)")
		targetFPS  = flags.Float64("fps", 20, "Spectrum refreshes per second")
		bufferSize = flags.Int("buffer-size", 4096, "FFT buffer size (power of two)")
		mode       = flags.StringP("mode", "m", config.ModeTone, "Start screen (tone|doppler)")
		probeHz    = flags.Float64("probe-hz", 17_500, "Probe tone frequency in Hz")
		palette    = flags.String("palette", "blocks", "Bar glyphs (blocks|ascii|dots)")
		noColor    = flags.Bool("no-color", false, "Disable ANSI color output")
		noAudio    = flags.Bool("no-audio", false, "Run with a synthetic signal (for testing)")
		showStatus = flags.Bool("status", true, "Display status bar")
		debug      = flags.Bool("debug", false, "Enable verbose logging")
		listDevs   = flags.Bool("list-audio-devices", false, "List available audio devices and exit")
		webEnabled = flags.Bool("web", false, "Serve the web status page and /metrics")
		port       = flags.Int("port", 8080, "Web server port")
		profile    = flags.String("profile", "", "Append per-refresh timings and results to this CSV file")
		saveConfig = flags.String("save-config", "", "Write the effective config to this path and exit")
	)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	settings, err := loadSettings(*configPath)
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return 1
	}

	// Flags given on the command line win over the file.
	overrides := map[string]func(){
		"audio-device": func() { settings.Audio.Device = *deviceName },
		"fps":          func() { settings.Audio.FPS = *targetFPS },
		"buffer-size":  func() { settings.Audio.BufferSize = *bufferSize },
		"mode":         func() { settings.Display.Mode = *mode },
		"probe-hz":     func() { settings.Audio.ProbeHz = *probeHz },
		"palette":      func() { settings.Display.Palette = *palette },
		"no-color":     func() { settings.Display.Color = !*noColor },
		"web":          func() { settings.Web.Enabled = *webEnabled },
		"port":         func() { settings.Web.Port = *port },
	}
	flags.Visit(func(f *flag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply()
		}
	})
	if err := settings.Validate(); err != nil {
		logger.Error("invalid settings", zap.Error(err))
		return 1
	}

	if *saveConfig != "" {
		if err := config.Save(*saveConfig, settings); err != nil {
			logger.Error("failed to save config", zap.Error(err))
			return 1
		}
		fmt.Printf("config written to %s\n", *saveConfig)
		return 0
	}

	width, height := 80, 24
	if fd := int(os.Stdout.Fd()); fd >= 0 {
		if w, h, err := term.GetSize(fd); err == nil {
			if w > 0 {
				width = w
			}
			if h > 0 {
				height = h
			}
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	needAudio := !*noAudio || *listDevs
	if needAudio {
		if err := audio.Initialize(); err != nil {
			logger.Error("failed to initialize PortAudio", zap.Error(err))
			return 1
		}
		defer audio.Terminate()
	}

	if *listDevs {
		if err := printDevices(settings.Audio.ProbeHz); err != nil {
			logger.Error("list devices", zap.Error(err))
			return 1
		}
		return 0
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := app.New(app.Config{
		Settings:      settings,
		DisableAudio:  *noAudio,
		Width:         width,
		Height:        height,
		ShowStatusBar: *showStatus,
		ProfilePath:   *profile,
		Log:           logger,
		Metrics:       metrics.New(reg),
	})
	if err != nil {
		logger.Error("failed to create app", zap.Error(err))
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup error: %v\n", err)
		}
	}()

	if settings.Web.Enabled {
		server := web.NewServer(a, logger.Named("web"), promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if *configPath != "" {
			server.SetConfigPath(*configPath)
		}
		go func() {
			if err := server.Start(ctx, settings.Web.Port); err != nil {
				logger.Error("web server stopped", zap.Error(err))
			}
		}()
	}

	if err := a.Run(ctx); err != nil {
		if ctx.Err() != nil {
			fmt.Println("\nExiting...")
			return 0
		}
		logger.Error("runtime error", zap.Error(err))
		return 1
	}

	time.Sleep(50 * time.Millisecond)
	return 0
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}

// loadSettings reads path, or the default location when it exists.
func loadSettings(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	def := config.DefaultPath()
	if _, err := os.Stat(def); err == nil {
		return config.Load(def)
	} else if !errors.Is(err, os.ErrNotExist) {
		return config.Defaults(), fmt.Errorf("stat %s: %w", def, err)
	}
	return config.Defaults(), nil
}

func printDevices(probeHz float64) error {
	devices, err := audio.ListDevices()
	if err != nil {
		return err
	}
	fmt.Printf("\n=== Audio Devices ===\n\n")
	for _, dev := range devices {
		markers := ""
		if dev.IsDefaultInput {
			markers += " (default input)"
		}
		if dev.IsDefaultOutput {
			markers += " (default output)"
		}
		if dev.Duplex() {
			markers += " (duplex)"
		}
		if !dev.CanCarry(probeHz) {
			markers += fmt.Sprintf(" (too slow for %.0f Hz probe)", probeHz)
		}
		fmt.Printf("- %s [%s]%s\n    inputs:%d outputs:%d sample:%.0f Hz\n",
			dev.Name, dev.HostAPI, markers, dev.MaxInput, dev.MaxOutput, dev.DefaultSampleHz)
	}
	if dev, err := audio.AutoDetectDevice(); err == nil && dev != nil {
		fmt.Printf("\nAuto-detected input: %s (%.0f Hz, %d channels)\n", dev.Name, dev.DefaultSampleRate, dev.MaxInputChannels)
	}
	return nil
}

package audio

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/guidoenr/dopplerlab/internal/audio/ring"
)

// Source fills an output buffer with mono samples.
type Source interface {
	Fill(buf []float32)
}

// Capture wraps a PortAudio stream. It records microphone input into a ring
// buffer and, when configured with a Source, plays it on the default output
// device through the same duplex stream so playback and capture share one
// clock. When no duplex stream can be opened it records only, and
// OutputDevice returns nil.
type Capture struct {
	stream     *portaudio.Stream
	sampleRate float64
	channels   int
	device     *portaudio.DeviceInfo
	output     *portaudio.DeviceInfo

	source      Source
	outChannels int
	mono        []float32

	ring *ring.Buffer
}

// Config controls how a Capture instance is created.
type Config struct {
	DeviceName string
	BufferSize int
	Channels   int

	// Output, when set, is played on the default output device for the
	// lifetime of the stream.
	Output         Source
	OutputChannels int

	// Log receives device fallback warnings. Nil discards them.
	Log *zap.Logger
}

const defaultBufferSize = 4096

// NewCapture opens and starts a PortAudio stream using the provided configuration.
func NewCapture(cfg Config) (*Capture, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	device, err := findDevice(cfg.DeviceName)
	if err != nil {
		return nil, err
	}
	if cfg.Channels > device.MaxInputChannels {
		cfg.Channels = device.MaxInputChannels
	}

	sampleRate := device.DefaultSampleRate
	capture := &Capture{
		sampleRate: sampleRate,
		channels:   cfg.Channels,
		device:     device,
		source:     cfg.Output,
		ring:       ring.New(cfg.BufferSize),
	}

	framesPerBuffer := cfg.BufferSize / 4
	if framesPerBuffer < 64 {
		framesPerBuffer = portaudio.FramesPerBufferUnspecified
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}

	var (
		duplex    interface{}
		outParams portaudio.StreamDeviceParameters
	)
	if cfg.Output != nil {
		out, err := portaudio.DefaultOutputDevice()
		if err != nil {
			cfg.Log.Warn("no output device, probe tone disabled", zap.Error(err))
		} else {
			outChannels := cfg.OutputChannels
			if outChannels <= 0 {
				outChannels = 1
			}
			if out.MaxOutputChannels > 0 && outChannels > out.MaxOutputChannels {
				outChannels = out.MaxOutputChannels
			}
			outParams = portaudio.StreamDeviceParameters{
				Device:   out,
				Channels: outChannels,
				Latency:  out.DefaultLowOutputLatency,
			}
			capture.outChannels = outChannels
			duplex = capture.processDuplex
		}
	}

	stream, withOutput, err := openWithFallback(portaudio.OpenStream, params, outParams, capture.process, duplex, cfg.Log)
	if err != nil {
		return nil, err
	}
	capture.stream = stream
	if withOutput {
		capture.output = outParams.Device
	} else {
		capture.source = nil
	}

	if err := capture.stream.Start(); err != nil {
		_ = capture.stream.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}

	return capture, nil
}

type openFunc func(p portaudio.StreamParameters, args ...interface{}) (*portaudio.Stream, error)

// openWithFallback opens a duplex stream when duplex is set, and falls back
// to input-only capture when the input and output devices cannot share a
// stream (different host APIs, mismatched rates). withOutput reports which
// stream was opened.
func openWithFallback(open openFunc, in portaudio.StreamParameters, out portaudio.StreamDeviceParameters, inputOnly, duplex interface{}, log *zap.Logger) (stream *portaudio.Stream, withOutput bool, err error) {
	if duplex != nil {
		p := in
		p.Output = out
		stream, err := open(p, duplex)
		if err == nil {
			return stream, true, nil
		}
		log.Warn("duplex stream unavailable, capturing without probe tone",
			zap.String("output", deviceName(out.Device)),
			zap.Error(err))
	}
	p := in
	p.Output = portaudio.StreamDeviceParameters{}
	stream, err = open(p, inputOnly)
	if err != nil {
		return nil, false, fmt.Errorf("open stream: %w", err)
	}
	return stream, false, nil
}

func deviceName(d *portaudio.DeviceInfo) string {
	if d == nil {
		return ""
	}
	return d.Name
}

// Close stops and closes the underlying PortAudio stream.
func (c *Capture) Close() error {
	if c.stream == nil {
		return nil
	}
	if err := c.stream.Stop(); err != nil && !errorsIsInvalidStreamState(err) {
		return err
	}
	return c.stream.Close()
}

// SampleRate returns the stream sample rate.
func (c *Capture) SampleRate() float64 {
	return c.sampleRate
}

// Device returns the input device.
func (c *Capture) Device() *portaudio.DeviceInfo {
	return c.device
}

// OutputDevice returns the playback device, or nil when no Source is played.
func (c *Capture) OutputDevice() *portaudio.DeviceInfo {
	return c.output
}

// Samples returns the newest n mono samples, oldest first.
func (c *Capture) Samples(n int) []float32 {
	return c.ring.Latest(n)
}

func (c *Capture) process(in []float32) {
	c.ring.WriteInterleaved(in, c.channels)
}

func (c *Capture) processDuplex(in, out []float32) {
	c.ring.WriteInterleaved(in, c.channels)
	c.render(out)
}

// render fills interleaved output frames from the mono source.
func (c *Capture) render(out []float32) {
	frames := len(out) / c.outChannels
	if cap(c.mono) < frames {
		c.mono = make([]float32, frames)
	}
	mono := c.mono[:frames]
	c.source.Fill(mono)
	for i, v := range mono {
		base := i * c.outChannels
		for ch := 0; ch < c.outChannels; ch++ {
			out[base+ch] = v
		}
	}
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name != "" {
		return findDeviceByName(name)
	}

	if dev, err := portaudio.DefaultInputDevice(); err == nil && dev != nil && dev.MaxInputChannels > 0 {
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	if candidate := pickMicrophone(devices); candidate != nil {
		return candidate, nil
	}
	return nil, fmt.Errorf("no suitable audio input device found")
}

func findDeviceByName(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	name = strings.ToLower(name)
	for _, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(device.Name), name) {
			return device, nil
		}
	}
	return nil, fmt.Errorf("audio device %q not found", name)
}

// loopbackKeywords mark capture devices that record the speaker output
// instead of the room.
var loopbackKeywords = []string{"monitor", "loopback", "stereo mix", "what u hear"}

// pickMicrophone prefers real microphones that can run at a sample rate high
// enough to carry the probe tone.
func pickMicrophone(devices []*portaudio.DeviceInfo) *portaudio.DeviceInfo {
	type scored struct {
		dev   *portaudio.DeviceInfo
		score int
	}

	var results []scored
	for _, d := range devices {
		if d == nil || d.MaxInputChannels <= 0 {
			continue
		}
		score := 0
		if d.DefaultSampleRate >= 44_100 {
			score += 30
		}
		lower := strings.ToLower(d.Name)
		if strings.Contains(lower, "mic") {
			score += 20
		}
		for _, kw := range loopbackKeywords {
			if strings.Contains(lower, kw) {
				score -= 50
				break
			}
		}
		results = append(results, scored{dev: d, score: score})
	}
	if len(results) == 0 {
		return nil
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score == results[j].score {
			return strings.ToLower(results[i].dev.Name) < strings.ToLower(results[j].dev.Name)
		}
		return results[i].score > results[j].score
	})
	return results[0].dev
}

// errorsIsInvalidStreamState checks if the provided error stems from stopping an already stopped stream.
func errorsIsInvalidStreamState(err error) bool {
	if err == nil {
		return false
	}
	const invalidStateMsg = "PaErrorCode -9986"
	return strings.Contains(err.Error(), invalidStateMsg)
}

// AutoDetectDevice returns the input device NewCapture would choose by default.
func AutoDetectDevice() (*portaudio.DeviceInfo, error) {
	return findDevice("")
}

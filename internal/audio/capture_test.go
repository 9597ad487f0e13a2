package audio

import (
	"errors"
	"testing"

	"github.com/gordonklaus/portaudio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/guidoenr/dopplerlab/internal/audio/ring"
)

func TestPickMicrophoneSkipsLoopback(t *testing.T) {
	devices := []*portaudio.DeviceInfo{
		{Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48_000},
		{Name: "Monitor of Built-in Audio", MaxInputChannels: 2, DefaultSampleRate: 48_000},
		{Name: "Headset Mic", MaxInputChannels: 1, DefaultSampleRate: 16_000},
		{Name: "USB Mic", MaxInputChannels: 1, DefaultSampleRate: 44_100},
		nil,
	}
	got := pickMicrophone(devices)
	if assert.NotNil(t, got) {
		assert.Equal(t, "USB Mic", got.Name)
	}
	assert.Nil(t, pickMicrophone(devices[:1]))
}

func TestErrorsIsInvalidStreamState(t *testing.T) {
	assert.False(t, errorsIsInvalidStreamState(nil))
	assert.True(t, errorsIsInvalidStreamState(errors.New("Stream is stopped (PaErrorCode -9986)")))
	assert.False(t, errorsIsInvalidStreamState(errors.New("device unavailable")))
}

type constSource float32

func (c constSource) Fill(buf []float32) {
	for i := range buf {
		buf[i] = float32(c)
	}
}

func TestDuplexCallbackRecordsAndPlays(t *testing.T) {
	c := &Capture{
		channels:    2,
		source:      constSource(0.25),
		outChannels: 2,
		ring:        ring.New(4),
	}
	in := []float32{1, 3, 5, 7}
	out := make([]float32, 6)
	c.processDuplex(in, out)

	assert.Equal(t, []float32{2, 6}, c.Samples(2))
	assert.Equal(t, []float32{0.25, 0.25, 0.25, 0.25, 0.25, 0.25}, out)
}

// fakeOpener records stream requests and refuses any with an output device.
type fakeOpener struct {
	calls    []portaudio.StreamParameters
	failAll  bool
	rejected error
}

func (f *fakeOpener) open(p portaudio.StreamParameters, args ...interface{}) (*portaudio.Stream, error) {
	f.calls = append(f.calls, p)
	if f.failAll {
		return nil, f.rejected
	}
	if p.Output.Device != nil {
		return nil, f.rejected
	}
	return &portaudio.Stream{}, nil
}

func streamParams() (portaudio.StreamParameters, portaudio.StreamDeviceParameters) {
	in := portaudio.StreamParameters{
		Input:      portaudio.StreamDeviceParameters{Device: &portaudio.DeviceInfo{Name: "USB Mic"}, Channels: 1},
		SampleRate: 44_100,
	}
	out := portaudio.StreamDeviceParameters{Device: &portaudio.DeviceInfo{Name: "HDMI Out"}, Channels: 2}
	return in, out
}

func TestOpenFallsBackToInputOnly(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	opener := &fakeOpener{rejected: errors.New("Illegal combination of I/O devices")}
	in, out := streamParams()
	c := &Capture{}

	stream, withOutput, err := openWithFallback(opener.open, in, out, c.process, c.processDuplex, zap.New(core))
	require.NoError(t, err)
	assert.NotNil(t, stream)
	assert.False(t, withOutput)

	require.Len(t, opener.calls, 2)
	assert.Equal(t, "HDMI Out", opener.calls[0].Output.Device.Name)
	assert.Nil(t, opener.calls[1].Output.Device, "retry must be input-only")
	assert.Equal(t, "USB Mic", opener.calls[1].Input.Device.Name)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "duplex stream unavailable")
	assert.Equal(t, "HDMI Out", entries[0].ContextMap()["output"])
}

func TestOpenDuplexWhenSupported(t *testing.T) {
	in, out := streamParams()
	opens := 0
	open := func(p portaudio.StreamParameters, args ...interface{}) (*portaudio.Stream, error) {
		opens++
		return &portaudio.Stream{}, nil
	}
	c := &Capture{}

	_, withOutput, err := openWithFallback(open, in, out, c.process, c.processDuplex, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, withOutput)
	assert.Equal(t, 1, opens)
}

func TestOpenInputOnlyWithoutSource(t *testing.T) {
	opener := &fakeOpener{}
	in, _ := streamParams()
	c := &Capture{}

	_, withOutput, err := openWithFallback(opener.open, in, portaudio.StreamDeviceParameters{}, c.process, nil, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, withOutput)
	assert.Len(t, opener.calls, 1)
}

func TestOpenReportsInputFailure(t *testing.T) {
	opener := &fakeOpener{failAll: true, rejected: errors.New("device unavailable")}
	in, out := streamParams()
	c := &Capture{}

	_, _, err := openWithFallback(opener.open, in, out, c.process, c.processDuplex, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open stream")
	assert.Len(t, opener.calls, 2)
}

package audio

import (
	"fmt"
	"sort"

	"github.com/gordonklaus/portaudio"
)

// Device is one PortAudio endpoint as shown by --list-audio-devices.
type Device struct {
	Name            string
	HostAPI         string
	MaxInput        int
	MaxOutput       int
	DefaultSampleHz float64
	IsDefaultInput  bool
	IsDefaultOutput bool
}

// CanCarry reports whether the device's default rate leaves room for a tone
// at hz below Nyquist.
func (d Device) CanCarry(hz float64) bool {
	return d.DefaultSampleHz/2 > hz
}

// Duplex reports whether the device can both record and play.
func (d Device) Duplex() bool {
	return d.MaxInput > 0 && d.MaxOutput > 0
}

// ListDevices returns every device across host APIs, defaults first, then by
// host and name.
func ListDevices() ([]Device, error) {
	hosts, err := portaudio.HostApis()
	if err != nil {
		return nil, fmt.Errorf("host apis: %w", err)
	}

	defaultIn, defaultOut := -1, -1
	if d, err := portaudio.DefaultInputDevice(); err == nil && d != nil {
		defaultIn = d.Index
	}
	if d, err := portaudio.DefaultOutputDevice(); err == nil && d != nil {
		defaultOut = d.Index
	}

	var devices []Device
	for _, host := range hosts {
		for _, d := range host.Devices {
			devices = append(devices, Device{
				Name:            d.Name,
				HostAPI:         host.Name,
				MaxInput:        d.MaxInputChannels,
				MaxOutput:       d.MaxOutputChannels,
				DefaultSampleHz: d.DefaultSampleRate,
				IsDefaultInput:  d.Index == defaultIn,
				IsDefaultOutput: d.Index == defaultOut,
			})
		}
	}
	sortDevices(devices)
	return devices, nil
}

func sortDevices(devices []Device) {
	rank := func(d Device) int {
		switch {
		case d.IsDefaultInput:
			return 0
		case d.IsDefaultOutput:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := devices[i], devices[j]
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra < rb
		}
		if a.HostAPI != b.HostAPI {
			return a.HostAPI < b.HostAPI
		}
		return a.Name < b.Name
	})
}

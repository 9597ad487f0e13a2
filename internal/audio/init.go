package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// host tracks the process-wide PortAudio session. Capture, ListDevices and
// AutoDetectDevice all need an open session.
var host struct {
	mu     sync.Mutex
	opened bool
	err    error
	done   bool
}

// Initialize opens the PortAudio session once. Later calls return the first
// result.
func Initialize() error {
	host.mu.Lock()
	defer host.mu.Unlock()
	if host.opened || host.err != nil {
		return host.err
	}
	if err := portaudio.Initialize(); err != nil {
		host.err = fmt.Errorf("portaudio initialize: %w", err)
		return host.err
	}
	host.opened = true
	return nil
}

// Terminate closes a session opened by Initialize. It is a no-op when
// Initialize failed or was never called, and after the first call.
func Terminate() {
	host.mu.Lock()
	defer host.mu.Unlock()
	if !host.opened || host.done {
		return
	}
	_ = portaudio.Terminate()
	host.done = true
}

package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guidoenr/dopplerlab/internal/app"
	"github.com/guidoenr/dopplerlab/internal/config"
	"github.com/guidoenr/dopplerlab/internal/metrics"
	"github.com/guidoenr/dopplerlab/internal/motion"
)

type stubSource struct {
	mu       sync.Mutex
	snapshot app.Snapshot
	settings config.Config
	probeHz  float64
	locked   bool
	mode     string
}

func newStubSource() *stubSource {
	return &stubSource{
		snapshot: app.Snapshot{
			Mode:        config.ModeDoppler,
			ToneText:    "Frequency: 440.00 Hz",
			Tones:       []float64{440},
			ProbeHz:     17_500,
			Motion:      "away",
			MotionLabel: "Moving Away",
		},
		settings: config.Defaults(),
		locked:   true,
		mode:     config.ModeTone,
	}
}

func (s *stubSource) Snapshot() app.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *stubSource) Settings() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.settings
	if s.probeHz > 0 {
		cfg.Audio.ProbeHz = s.probeHz
	}
	cfg.Display.Mode = s.mode
	return cfg
}

func (s *stubSource) SetProbeFrequency(hz float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probeHz = hz
}

func (s *stubSource) SetLocked(locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = locked
}

func (s *stubSource) SetMode(mode string) error {
	if mode != config.ModeTone && mode != config.ModeDoppler {
		return fmt.Errorf("%w: %q", app.ErrUnknownMode, mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return nil
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(NewServer(newStubSource(), nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap app.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "away", snap.Motion)
	assert.Equal(t, []float64{440}, snap.Tones)
}

func TestUpdate(t *testing.T) {
	src := newStubSource()
	srv := httptest.NewServer(NewServer(src, nil, nil).Handler())
	defer srv.Close()

	body := `{"probeHz": 18000, "locked": false, "mode": "doppler"}`
	resp, err := http.Post(srv.URL+"/api/update", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 18_000.0, src.probeHz)
	assert.False(t, src.locked)
	assert.Equal(t, config.ModeDoppler, src.mode)
}

func TestUpdatePartial(t *testing.T) {
	src := newStubSource()
	srv := httptest.NewServer(NewServer(src, nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/update", "application/json", strings.NewReader(`{"locked": false}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, src.locked)
	assert.Zero(t, src.probeHz)
	assert.Equal(t, config.ModeTone, src.mode)
}

func TestUpdateRejectsBadInput(t *testing.T) {
	srv := httptest.NewServer(NewServer(newStubSource(), nil, nil).Handler())
	defer srv.Close()

	cases := map[string]string{
		"malformed":    `{"probeHz":`,
		"unknown mode": `{"mode": "sonar"}`,
		"zero probe":   `{"probeHz": 0}`,
	}
	for name, body := range cases {
		resp, err := http.Post(srv.URL+"/api/update", "application/json", strings.NewReader(body))
		require.NoError(t, err, name)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
	}

	resp, err := http.Get(srv.URL + "/api/update")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSaveWritesConfig(t *testing.T) {
	src := newStubSource()
	src.SetProbeFrequency(18_250)
	s := NewServer(src, nil, nil)
	path := filepath.Join(t.TempDir(), "nested", "dopplerlab.yaml")
	s.SetConfigPath(path)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/save", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "saved", out["status"])
	assert.Equal(t, path, out["path"])

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 18_250.0, loaded.Audio.ProbeHz)
}

func TestMetricsMounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Observe(metrics.Observation{Tones: []float64{440}, Motion: motion.Towards})

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	srv := httptest.NewServer(NewServer(newStubSource(), nil, handler).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "dopplerlab_tones_detected 1")
	assert.Contains(t, string(data), `dopplerlab_motion_transitions_total{state="towards"} 1`)
}

func TestIndexServed(t *testing.T) {
	srv := httptest.NewServer(NewServer(newStubSource(), nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "/api/status")
}

func TestWebSocketBroadcast(t *testing.T) {
	s := NewServer(newStubSource(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.broadcastLoop(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.clientCount() == 1 }, time.Second, 10*time.Millisecond)
	s.pushStatus()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var snap app.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "Moving Away", snap.MotionLabel)
}

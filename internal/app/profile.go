package app

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guidoenr/dopplerlab/internal/motion"
)

// profileSections are the refresh stages timed by the profiler, in the order
// step runs them.
var profileSections = []string{"capture", "analyze", "tones", "motion", "render", "output"}

// frameOutcome is what one refresh produced, logged next to its timings.
type frameOutcome struct {
	Tones          int
	Motion         motion.State
	CooldownActive bool
	ToneDegraded   bool
	MotionDegraded bool
}

// profiler appends one CSV row per refresh: section timings in milliseconds
// followed by the tone and motion results of that refresh.
type profiler struct {
	mu      sync.Mutex
	file    *os.File
	w       *csv.Writer
	start   time.Time
	last    time.Time
	timings map[string]float64
}

func newProfiler(path string, logger *zap.Logger) *profiler {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if logger != nil {
			logger.Warn("profiler disabled", zap.String("path", path), zap.Error(err))
		}
		return nil
	}
	p := &profiler{
		file:    f,
		w:       csv.NewWriter(f),
		timings: make(map[string]float64, len(profileSections)),
	}
	p.writeRow(profileHeader())
	return p
}

func profileHeader() []string {
	header := []string{"timestamp", "total_ms"}
	for _, s := range profileSections {
		header = append(header, s+"_ms")
	}
	return append(header, "tones", "motion", "cooldown_active", "tone_degraded", "motion_degraded")
}

func (p *profiler) beginFrame() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.start = now
	p.last = now
	clear(p.timings)
}

func (p *profiler) markSection(name string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.timings[name] += now.Sub(p.last).Seconds() * 1000
	p.last = now
}

func (p *profiler) endFrame(out frameOutcome) {
	if p == nil {
		return
	}
	p.mu.Lock()
	total := time.Since(p.start).Seconds() * 1000
	row := []string{time.Now().Format(time.RFC3339Nano), formatMs(total)}
	for _, s := range profileSections {
		row = append(row, formatMs(p.timings[s]))
	}
	p.mu.Unlock()

	row = append(row,
		strconv.Itoa(out.Tones),
		out.Motion.String(),
		strconv.FormatBool(out.CooldownActive),
		strconv.FormatBool(out.ToneDegraded),
		strconv.FormatBool(out.MotionDegraded),
	)
	p.writeRow(row)
}

func (p *profiler) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	p.w.Flush()
	err := p.w.Error()
	if cerr := p.file.Close(); err == nil {
		err = cerr
	}
	p.file = nil
	return err
}

func (p *profiler) writeRow(row []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return
	}
	_ = p.w.Write(row)
	p.w.Flush()
}

func formatMs(ms float64) string {
	return strconv.FormatFloat(ms, 'f', 3, 64)
}

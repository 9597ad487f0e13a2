package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/guidoenr/dopplerlab/internal/config"
	"github.com/guidoenr/dopplerlab/internal/motion"
)

// View is everything one frame shows.
type View struct {
	Mode     string // config.ModeTone or config.ModeDoppler
	Graph    []float64
	Tones    []float64
	Locked   bool
	ProbeHz  float64
	Motion   motion.State
	Degraded bool
	FPS      float64
}

// Frame contains the rendered lines and the status text.
type Frame struct {
	Lines  []string
	Status string
}

// Renderer draws a spectrum bar graph into fixed-size text frames.
type Renderer struct {
	width       int
	height      int
	palette     []rune
	paletteName string
	useANSI     bool
	line        strings.Builder
}

const (
	resetANSI = "\x1b[0m"

	colorTowards = 46  // green
	colorAway    = 196 // red
	colorIdle    = 39  // blue
)

var precomputedANSI [256]string

func init() {
	for i := range precomputedANSI {
		precomputedANSI[i] = "\x1b[38;5;" + strconv.Itoa(i) + "m"
	}
}

// New creates a Renderer.
func New(width, height int, palette string, useANSI bool) *Renderer {
	r := &Renderer{useANSI: useANSI}
	r.SetPalette(palette)
	r.Resize(width, height)
	return r
}

// Resize changes the frame dimensions.
func (r *Renderer) Resize(width, height int) {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	r.width = width
	r.height = height
}

// SetPalette switches the bar glyphs.
func (r *Renderer) SetPalette(name string) {
	r.palette = Palette(name)
	r.paletteName = name
	if name == "" {
		r.paletteName = PaletteNames()[0]
	}
}

// PaletteName returns the active palette.
func (r *Renderer) PaletteName() string {
	return r.paletteName
}

// Size returns the frame dimensions.
func (r *Renderer) Size() (int, int) {
	return r.width, r.height
}

// Render draws v.
func (r *Renderer) Render(v View) Frame {
	levels := r.columnLevels(v.Graph)
	color := ""
	if r.useANSI {
		color = precomputedANSI[stateColor(v.Motion)]
	}

	full := len(r.palette) - 1
	lines := make([]string, r.height)
	for row := 0; row < r.height; row++ {
		floor := float64(r.height - 1 - row)
		r.line.Reset()
		if color != "" {
			r.line.WriteString(color)
		}
		for _, level := range levels {
			switch {
			case level >= floor+1:
				r.line.WriteRune(r.palette[full])
			case level > floor:
				idx := int((level - floor) * float64(full))
				r.line.WriteRune(r.palette[idx])
			default:
				r.line.WriteRune(r.palette[0])
			}
		}
		if color != "" {
			r.line.WriteString(resetANSI)
		}
		lines[row] = r.line.String()
	}

	return Frame{Lines: lines, Status: Status(v)}
}

// columnLevels maps graph points onto the frame width and normalizes them to
// bar heights in rows.
func (r *Renderer) columnLevels(graph []float64) []float64 {
	levels := make([]float64, r.width)
	if len(graph) == 0 {
		return levels
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range graph {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	for col := range levels {
		idx := col * len(graph) / r.width
		if span <= 0 {
			continue
		}
		levels[col] = (graph[idx] - lo) / span * float64(r.height)
	}
	return levels
}

func stateColor(s motion.State) int {
	switch s {
	case motion.Towards:
		return colorTowards
	case motion.Away:
		return colorAway
	default:
		return colorIdle
	}
}

// ToneText formats a tone reading.
func ToneText(tones []float64) string {
	switch len(tones) {
	case 0:
		return "no tone detected"
	case 1:
		return fmt.Sprintf("Frequency: %.2f Hz", tones[0])
	default:
		return fmt.Sprintf("Frequencies: %.2f, %.2f Hz", tones[0], tones[1])
	}
}

// Status returns the single status line for v.
func Status(v View) string {
	var parts []string
	switch v.Mode {
	case config.ModeDoppler:
		parts = append(parts,
			"doppler",
			fmt.Sprintf("probe %.0f Hz", v.ProbeHz),
			v.Motion.Label(),
		)
	default:
		lock := "lock off"
		if v.Locked {
			lock = "lock on"
		}
		parts = append(parts, "tone", ToneText(v.Tones), lock)
	}
	if v.Degraded {
		parts = append(parts, "reduced accuracy")
	}
	if v.FPS > 0 {
		parts = append(parts, fmt.Sprintf("%.1f fps", v.FPS))
	}
	return strings.Join(parts, " | ")
}
